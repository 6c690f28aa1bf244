// Package config loads matchmaker settings from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config describes the matchmaker service.
type Config struct {
	AppEnv     string `envconfig:"APP_ENV" default:"dev"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr   string `envconfig:"HTTP_ADDR" default:":8080"`
	ServerName string `envconfig:"SERVER_NAME"`

	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	NATSURL   string `envconfig:"NATS_URL" default:"nats://localhost:4222"`

	// SeedFile is a JSON array of users loaded into the in-memory
	// repository when PG_DSN is empty.
	SeedFile string `envconfig:"SEED_FILE"`

	Presence struct {
		TTL           time.Duration `envconfig:"PRESENCE_TTL" default:"60s"`
		ClearInterval time.Duration `envconfig:"PRESENCE_CLEAR_INTERVAL" default:"30s"`
	} `envconfig:""`

	Schedule struct {
		RefreshInterval time.Duration `envconfig:"SCHEDULE_REFRESH_INTERVAL" default:"10m"`
	} `envconfig:""`

	RateLimit struct {
		Enabled bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	} `envconfig:""`

	CORS struct {
		AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	} `envconfig:""`

	WS struct {
		HeartbeatInterval time.Duration `envconfig:"WS_HEARTBEAT_INTERVAL" default:"30s"`
		HeartbeatTimeout  time.Duration `envconfig:"WS_HEARTBEAT_TIMEOUT" default:"10s"`
		MaxConnections    int           `envconfig:"WS_MAX_CONNECTIONS" default:"10000"`
	} `envconfig:""`
}

// IsDev reports whether the service runs in the dev environment.
func (c Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.ServerName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "matchmaker"
		}
		cfg.ServerName = host
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Presence.TTL <= 0 {
		return fmt.Errorf("config: PRESENCE_TTL must be positive, got %s", c.Presence.TTL)
	}
	if c.Presence.ClearInterval <= 0 {
		return fmt.Errorf("config: PRESENCE_CLEAR_INTERVAL must be positive, got %s", c.Presence.ClearInterval)
	}
	if c.PGDSN == "" && !c.IsDev() {
		return fmt.Errorf("config: PG_DSN is required outside dev")
	}
	return nil
}
