package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config is the agent configuration, loaded from the environment. Timeout
// defaults mirror the behavior the UI was tuned against; they are exposed so
// deployments can loosen them on bad networks.
type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Listen    string `env:"LISTEN_ADDR" default:"127.0.0.1:7381"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	RemoteURL string `env:"REMOTE_URL"`
	RemoteKey string `env:"REMOTE_API_KEY"`

	StorePath string `env:"STORE_PATH" default:"fieldsync.db"`

	AttachmentBucket string `env:"ATTACHMENT_BUCKET" default:"record-images"`

	ProfileFetchTimeout time.Duration `env:"PROFILE_FETCH_TIMEOUT" default:"6s"`
	ProfileFetchRetries int           `env:"PROFILE_FETCH_RETRIES" default:"1"`
	ProfileFetchBackoff time.Duration `env:"PROFILE_FETCH_BACKOFF" default:"1s"`
	InitWatchdog        time.Duration `env:"INIT_WATCHDOG" default:"5s"`
	HeartbeatInterval   time.Duration `env:"HEARTBEAT_INTERVAL" default:"4m"`
	SignOutTimeout      time.Duration `env:"SIGNOUT_TIMEOUT" default:"500ms"`

	// ProfileMaxStale bounds how long a retained last-known-good profile may
	// go without a successful refresh before the session is flagged degraded.
	// Zero keeps the stale profile indefinitely.
	ProfileMaxStale time.Duration `env:"PROFILE_MAX_STALE" default:"0"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.RemoteURL == "" {
		return fmt.Errorf("REMOTE_URL is required")
	}
	if _, err := url.Parse(cfg.RemoteURL); err != nil {
		return fmt.Errorf("REMOTE_URL must be a valid URL: %w", err)
	}
	if cfg.RemoteKey == "" {
		return fmt.Errorf("REMOTE_API_KEY is required")
	}
	if cfg.ProfileFetchRetries < 0 {
		return fmt.Errorf("PROFILE_FETCH_RETRIES must not be negative")
	}
	if cfg.InitWatchdog <= 0 {
		return fmt.Errorf("INIT_WATCHDOG must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive")
	}
	return nil
}
