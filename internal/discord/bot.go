// Package discord is the gateway glue: it hosts the discordgo session,
// dispatches slash commands into the command registry, tracks voice-state
// events into the shared session store, and implements the platform lookups
// snapshot restore depends on.
package discord

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"

	"maestro/internal/command"
	"maestro/internal/config"
	"maestro/internal/coordinator"
	"maestro/internal/session"
	"maestro/internal/storage"
	"maestro/internal/version"
)

// Bot is the orchestrator's Discord presence.
type Bot struct {
	dg       *discordgo.Session
	cfg      *config.Config
	coord    *coordinator.Coordinator
	sessions *session.Store
	store    *storage.Storage

	readyOnce sync.Once
	// OnReady runs once after the gateway session is ready; main uses it to
	// kick off snapshot restoration.
	OnReady func()
}

// NewBot wires a Bot. Call Run to connect.
func NewBot(cfg *config.Config, coord *coordinator.Coordinator, sessions *session.Store, store *storage.Storage) *Bot {
	return &Bot{cfg: cfg, coord: coord, sessions: sessions, store: store}
}

// Coordinator exposes the worker coordinator to commands.
func (b *Bot) Coordinator() *coordinator.Coordinator { return b.coord }

// Run opens the gateway session and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	b.dg = dg

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers

	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onInteractionCreate)
	dg.AddHandler(b.onVoiceStateUpdate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	log.Println("[INFO] ❎ Shutdown signal received. Cleaning up...")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("[INFO] %s %s logged in as %s", version.AppName, version.Version, r.User.Username)

	b.registerSlashCommands(s)

	b.readyOnce.Do(func() {
		if b.OnReady != nil {
			go b.OnReady()
		}
	})
}

func (b *Bot) registerSlashCommands(s *discordgo.Session) {
	var defs []*discordgo.ApplicationCommand
	for _, cmd := range command.AllCommands() {
		if sp, ok := cmd.(command.SlashProvider); ok {
			if def := sp.SlashDefinition(); def != nil {
				defs = append(defs, def)
			}
		}
	}
	if _, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, "", defs); err != nil {
		log.Println("[ERR] Failed to register slash commands:", err)
		return
	}
	log.Printf("[INFO] Registered %d slash command(s)", len(defs))
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, e *discordgo.InteractionCreate) {
	if e.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := e.ApplicationCommandData().Name
	cmd, ok := command.GetCommand(name)
	if !ok {
		return
	}

	cmdCtx := &command.SlashContext{
		Session: s,
		Event:   e,
		Storage: b.store,
		Host:    b,
	}
	if err := cmd.Run(cmdCtx); err != nil {
		log.Printf("[ERR] Error running command %s: %v", name, err)
	}
}
