package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pscheid92/relay/internal/domain"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	AppURL    string `env:"APP_URL" default:"http://localhost:3030"`
	Host      string `env:"HOST" default:"127.0.0.1"`
	Port      string `env:"PORT" default:"3030"`
	WSPath    string `env:"WS_PATH" default:"/ws"`
	StaticDir string `env:"STATIC_DIR"`

	RelayMode       string `env:"RELAY_MODE" default:"chat"`
	RelayEcho       bool   `env:"RELAY_ECHO" default:"true"`
	ChannelCapacity int    `env:"CHANNEL_CAPACITY" default:"10"`
	MaxMessageSize  int64  `env:"MAX_MESSAGE_SIZE" default:"4096"`

	StoreBackend string `env:"STORE_BACKEND" default:"memory"`
	DatabaseURL  string `env:"DATABASE_URL"`
	RedisURL     string `env:"REDIS_URL"`
	DefaultValue int64  `env:"DEFAULT_VALUE" default:"50"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRatePerSecond float64 `env:"CONNECTION_RATE_PER_SECOND" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`
	HTTPRatePerSecond       float64 `env:"HTTP_RATE_PER_SECOND" default:"20"`
	HTTPBurst               int     `env:"HTTP_BURST" default:"40"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
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

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Mode returns the parsed relay mode. Only valid after Load.
func (c *Config) Mode() domain.Mode {
	mode, _ := domain.ParseMode(c.RelayMode)
	return mode
}

// Backend returns the parsed store backend. Only valid after Load.
func (c *Config) Backend() domain.StoreBackend {
	backend, _ := domain.ParseStoreBackend(c.StoreBackend)
	return backend
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	if _, err := domain.ParseMode(cfg.RelayMode); err != nil {
		return fmt.Errorf("RELAY_MODE must be chat or value: %w", err)
	}

	backend, err := domain.ParseStoreBackend(cfg.StoreBackend)
	if err != nil {
		return fmt.Errorf("STORE_BACKEND must be memory, postgres or redis: %w", err)
	}
	if backend == domain.BackendPostgres && cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
	}
	if backend == domain.BackendRedis && cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required when STORE_BACKEND=redis")
	}

	if !strings.HasPrefix(cfg.WSPath, "/") {
		return fmt.Errorf("WS_PATH must start with /, got %q", cfg.WSPath)
	}
	if cfg.ChannelCapacity < 1 || cfg.ChannelCapacity > 1<<16 {
		return fmt.Errorf("CHANNEL_CAPACITY must be between 1 and 65536, got %d", cfg.ChannelCapacity)
	}
	if cfg.MaxMessageSize <= 0 {
		return errors.New("MAX_MESSAGE_SIZE must be positive")
	}

	positive := map[string]int{
		"MAX_WEBSOCKET_CONNECTIONS": cfg.MaxWebSocketConnections,
		"MAX_CONNECTIONS_PER_IP":    cfg.MaxConnectionsPerIP,
		"CONNECTION_BURST":          cfg.ConnectionBurst,
		"HTTP_BURST":                cfg.HTTPBurst,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.ConnectionRatePerSecond <= 0 {
		return errors.New("CONNECTION_RATE_PER_SECOND must be positive")
	}
	if cfg.HTTPRatePerSecond <= 0 {
		return errors.New("HTTP_RATE_PER_SECOND must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}

	return nil
}
