package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to system environment variables")
	}
}

// Config is the orchestrator's process configuration, read from environment
// variables (with an optional .env file for local runs).
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`

	// Worker RPC endpoints. An empty URL leaves that worker unconfigured.
	MusicWorkerURL      string `env:"MUSIC_WORKER_URL"`
	TTSWorkerURL        string `env:"TTS_WORKER_URL"`
	SoundboardWorkerURL string `env:"SOUNDBOARD_WORKER_URL"`

	// Shared session state.
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Snapshot persistence. Empty DSN disables crash recovery.
	PostgresDSN string `env:"POSTGRES_DSN"`

	// Durable TTS job queue (asynq over the same redis).
	TTSQueueEnabled bool `env:"TTS_QUEUE_ENABLED" envDefault:"false"`

	// Local JSON datastore for command history.
	StoragePath string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	// Resilience tunables.
	RPCMaxRetries    int           `env:"RPC_MAX_RETRIES" envDefault:"2"`
	RPCBackoffBase   time.Duration `env:"RPC_BACKOFF_BASE" envDefault:"250ms"`
	CircuitThreshold int           `env:"CIRCUIT_THRESHOLD" envDefault:"3"`
	CircuitCooldown  time.Duration `env:"CIRCUIT_COOLDOWN" envDefault:"30s"`
	HealthInterval   time.Duration `env:"HEALTH_INTERVAL" envDefault:"15s"`
}

// New parses the environment into a Config. Missing required variables are
// fatal; the process cannot do anything useful without them.
func New() *Config {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		log.Fatalf("[ERR] Invalid configuration: %v", err)
	}
	return &cfg
}
