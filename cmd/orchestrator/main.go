package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"maestro/internal/breaker"
	"maestro/internal/command"
	"maestro/internal/command/core"
	"maestro/internal/command/music"
	"maestro/internal/command/voice"
	"maestro/internal/config"
	"maestro/internal/coordinator"
	"maestro/internal/discord"
	"maestro/internal/queue"
	"maestro/internal/session"
	"maestro/internal/snapshot"
	"maestro/internal/storage"
	"maestro/internal/ttsjobs"
	v "maestro/internal/version"
	"maestro/internal/worker"
)

func main() {
	log.Printf("[INFO] Starting %v orchestrator...", v.AppName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.New()

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	sessions := session.New(openRedis(cfg))
	queues := queue.NewManager()

	health := breaker.NewHealthMonitor(cfg.HealthInterval)
	coord := coordinator.New(coordinator.Config{
		MaxRetries:       cfg.RPCMaxRetries,
		BackoffBase:      cfg.RPCBackoffBase,
		FailureThreshold: cfg.CircuitThreshold,
		Cooldown:         cfg.CircuitCooldown,
	}, buildClients(cfg), health, sessions, queues)
	go coord.RunHealth(ctx)

	var ttsWorker *ttsjobs.Worker
	if cfg.TTSQueueEnabled {
		ttsQueue := ttsjobs.NewQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer ttsQueue.Close()
		coord.SetTTSQueue(ttsQueue)
		ttsWorker = ttsjobs.NewWorker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, coord)
		go func() {
			if err := ttsWorker.Run(); err != nil {
				log.Println("[ERR] TTS queue worker error:", err)
			}
		}()
		defer ttsWorker.Shutdown()
	}

	snapshots := openSnapshots(cfg, queues)
	if snapshots != nil {
		go snapshots.Run(ctx)
	}

	bot := discord.NewBot(cfg, coord, sessions, store)
	if snapshots != nil {
		bot.OnReady = func() {
			snapshots.RestoreAll(ctx, bot, coord)
		}
	}

	command.RegisterCommand(&music.MusicCommand{Host: bot},
		command.WithGuildOnly(), command.WithCommandLogger())
	command.RegisterCommand(&voice.SayCommand{Host: bot},
		command.WithGuildOnly(), command.WithCommandLogger())
	command.RegisterCommand(&voice.SfxCommand{Host: bot},
		command.WithGuildOnly(), command.WithCommandLogger())
	command.RegisterCommand(&core.StatusCommand{Host: bot},
		command.WithGuildOnly())
	command.RegisterCommand(&core.LeaveCommand{Host: bot},
		command.WithGuildOnly(), command.WithCommandLogger())

	errCh := make(chan error, 1)
	go func() {
		if err := bot.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("[INFO] Received signal %s, shutting down...\n", s)
	case err := <-errCh:
		if err != nil {
			log.Println("[ERR] Discord bot error:", err)
		}
	case <-ctx.Done():
	}
	cancel()

	if snapshots != nil {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
		snapshots.SaveAll(saveCtx)
		saveCancel()
	}

	log.Println("[INFO] Orchestrator exited cleanly")
}

// openRedis connects to the shared session store. Failure is not fatal:
// session features degrade to "no session" and the bot keeps running.
func openRedis(cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Println("[WARN] Redis unreachable, session features degraded:", err)
		return nil
	}
	return rdb
}

// openSnapshots connects to Postgres for crash recovery. A missing DSN or a
// failed connection disables snapshots but never blocks boot.
func openSnapshots(cfg *config.Config, queues *queue.Manager) *snapshot.Store {
	if cfg.PostgresDSN == "" {
		log.Println("[WARN] POSTGRES_DSN not set, crash recovery disabled")
		return nil
	}
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Println("[ERR] Failed to open Postgres, crash recovery disabled:", err)
		return nil
	}
	snapshots, err := snapshot.New(db, queues)
	if err != nil {
		log.Println("[ERR] Failed to init snapshot store, crash recovery disabled:", err)
		return nil
	}
	return snapshots
}

func buildClients(cfg *config.Config) coordinator.Clients {
	var clients coordinator.Clients
	if cfg.MusicWorkerURL != "" {
		clients.Music = worker.NewClient(worker.Music, cfg.MusicWorkerURL)
	}
	if cfg.TTSWorkerURL != "" {
		clients.TTS = worker.NewClient(worker.TTS, cfg.TTSWorkerURL)
	}
	if cfg.SoundboardWorkerURL != "" {
		clients.Soundboard = worker.NewClient(worker.Soundboard, cfg.SoundboardWorkerURL)
	}
	return clients
}
