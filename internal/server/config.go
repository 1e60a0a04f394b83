// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultPort            = "3000"
	defaultMaxMessageSize  = 4096
	defaultRateLimitBurst  = 10
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStaticDir       = "static"
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
	Env    string `env:"APP_ENV" envDefault:"dev"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	StaticDir       string        `env:"STATIC_DIR" envDefault:"static"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimit       RateLimitConfig
	Log             LogConfig
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() Config {
	return Config{
		Port:            defaultPort,
		AllowedOrigins:  []string{"*"},
		MaxMessageSize:  defaultMaxMessageSize,
		StaticDir:       defaultStaticDir,
		ShutdownTimeout: defaultShutdownTimeout,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateLimitBurst,
			RefillInterval: defaultRefillInterval,
		},
		Log: LogConfig{Level: "info", Format: "text", Env: "dev"},
	}
}

// lenientParsers read numeric settings as zero when they do not parse, so
// Sanitize swaps in the default instead of failing startup.
var lenientParsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(int(0)): func(v string) (any, error) {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, nil
		}
		return n, nil
	},
	reflect.TypeOf(int64(0)): func(v string) (any, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return int64(0), nil
		}
		return n, nil
	},
	reflect.TypeOf(time.Duration(0)): func(v string) (any, error) {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return time.Duration(0), nil
		}
		return d, nil
	},
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset variables take their documented defaults; unparsable or out-of-range
// values are replaced by defaults as well.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{FuncMap: lenientParsers}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.Sanitize(), nil
}

// Sanitize returns a copy of cfg with invalid values replaced by defaults.
func (cfg Config) Sanitize() Config {
	cfg.Port = strings.TrimPrefix(strings.TrimSpace(cfg.Port), ":")
	if port, err := strconv.ParseUint(cfg.Port, 10, 16); err != nil || port == 0 {
		cfg.Port = defaultPort
	} else {
		cfg.Port = strconv.FormatUint(port, 10)
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateLimitBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if strings.TrimSpace(cfg.StaticDir) == "" {
		cfg.StaticDir = defaultStaticDir
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Addr returns the listen address for the configured port.
func (cfg Config) Addr() string {
	return ":" + cfg.Port
}
