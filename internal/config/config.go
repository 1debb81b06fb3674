package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Brain webhook
	WebhookURL     string        `env:"BRAIN_WEBHOOK_URL,required"`
	WebhookToken   string        `env:"BRAIN_WEBHOOK_TOKEN"`
	WebhookTimeout time.Duration `env:"BRAIN_WEBHOOK_TIMEOUT" envDefault:"10s"`

	// Storage
	SnapshotFile string `env:"SNAPSHOT_FILE" envDefault:"./data/sessions.json"`
	AuthDir      string `env:"AUTH_DIR" envDefault:"./data/auth"`

	// Persistence cadence
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"5m"`

	// Recovery. The recency window and cleanup delay were tuned
	// empirically; deployments with slower reconnect cycles may need to
	// widen them.
	RecencyWindow time.Duration `env:"SESSION_RECENCY_WINDOW" envDefault:"24h"`
	CleanupDelay  time.Duration `env:"CLEANUP_DELAY" envDefault:"30s"`
	CleanupGrace  time.Duration `env:"CLEANUP_GRACE" envDefault:"1h"`

	// Session creation
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"2m"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
