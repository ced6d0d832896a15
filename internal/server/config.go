// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the realtime service.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"go-simpler.org/env"
)

var validate = validator.New()

// RateLimitConfig defines the parameters for per-connection inbound rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// ClientConfig holds per-connection transport settings.
type ClientConfig struct {
	MaxMessageSize int64
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	RateLimit      RateLimitConfig
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	DatabaseURL     string `validate:"required"`
	PublishToken    string
	SendTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string `validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat       string `validate:"omitempty,oneof=text json"`
	Client          ClientConfig
}

type envConfig struct {
	Port                    string        `env:"PORT" default:":8080"`
	AllowedOrigins          string        `env:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	DatabaseURL             string        `env:"DATABASE_URL"`
	PublishToken            string        `env:"PUBLISH_TOKEN"`
	MaxMessageSize          int64         `env:"MAX_MESSAGE_SIZE" default:"512"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST" default:"5"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
	SendBuffer              int           `env:"SEND_BUFFER" default:"256"`
	SendTimeout             time.Duration `env:"SEND_TIMEOUT" default:"2s"`
	WriteWait               time.Duration `env:"WRITE_WAIT" default:"10s"`
	PongWait                time.Duration `env:"PONG_WAIT" default:"60s"`
	PingPeriod              time.Duration `env:"PING_PERIOD" default:"54s"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel                string        `env:"LOG_LEVEL" default:"info"`
	LogFormat               string        `env:"LOG_FORMAT" default:"text"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := Config{
		Port:            ":8080",
		AllowedOrigins:  []string{"http://localhost:8080"},
		SendTimeout:     2 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
		Client:          defaultClientConfig(),
	}
	return &cfg
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxMessageSize: 512,
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// Load reads the configuration from the environment, after loading an
// optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var raw envConfig
	if err := env.Load(&raw, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{
		Port:            raw.Port,
		AllowedOrigins:  parseOrigins(raw.AllowedOrigins),
		DatabaseURL:     raw.DatabaseURL,
		PublishToken:    raw.PublishToken,
		SendTimeout:     raw.SendTimeout,
		ShutdownTimeout: raw.ShutdownTimeout,
		LogLevel:        raw.LogLevel,
		LogFormat:       raw.LogFormat,
		Client: ClientConfig{
			MaxMessageSize: raw.MaxMessageSize,
			SendBuffer:     raw.SendBuffer,
			WriteWait:      raw.WriteWait,
			PongWait:       raw.PongWait,
			PingPeriod:     raw.PingPeriod,
			RateLimit: RateLimitConfig{
				Burst:          raw.RateLimitBurst,
				RefillInterval: raw.RateLimitRefillInterval,
			},
		},
	}
	cfg.Sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sanitize replaces unusable values with defaults.
func (c *Config) Sanitize() {
	defaults := NewConfig()

	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		c.Port = defaults.Port
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaults.SendTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	c.Client = sanitizeClientConfig(c.Client)
}

func sanitizeClientConfig(cc ClientConfig) ClientConfig {
	defaults := defaultClientConfig()

	if cc.MaxMessageSize <= 0 {
		cc.MaxMessageSize = defaults.MaxMessageSize
	}
	if cc.SendBuffer <= 0 {
		cc.SendBuffer = defaults.SendBuffer
	}
	if cc.WriteWait <= 0 {
		cc.WriteWait = defaults.WriteWait
	}
	if cc.PongWait <= 0 {
		cc.PongWait = defaults.PongWait
	}
	if cc.PingPeriod <= 0 || cc.PingPeriod >= cc.PongWait {
		cc.PingPeriod = cc.PongWait * 9 / 10
	}
	if cc.RateLimit.Burst <= 0 {
		cc.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if cc.RateLimit.RefillInterval <= 0 {
		cc.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	return cc
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration (DATABASE_URL, LOG_LEVEL, LOG_FORMAT): %w", err)
	}
	return nil
}

// ApplyOverrides replaces Port and LogLevel with the non-empty arguments and
// validates the result, so command-line values get the same checks as the
// environment.
func (c *Config) ApplyOverrides(port, logLevel string) error {
	if port != "" {
		c.Port = port
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	c.Sanitize()
	return c.Validate()
}

func parseOrigins(origins string) []string {
	parts := lo.Map(strings.Split(origins, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	parts = lo.Compact(parts)
	if len(parts) == 0 {
		return nil
	}
	return parts
}
