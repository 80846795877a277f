// Package config содержит логику чтения конфигурации панели.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации панели.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	ProviderURL     string        `env:"PROVIDER_API_URL"`
	ProviderKey     string        `env:"PROVIDER_API_KEY"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT"`

	AuthSecret string `env:"AUTH_SECRET"`

	RedisAddress   string        `env:"REDIS_ADDRESS"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL"`
	NATSURL        string        `env:"NATS_URL"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных
// окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	_ = godotenv.Load()
	return ParseArgs(os.Args[1:])
}

// ParseArgs разбирает флаги из args и применяет поверх них переменные окружения.
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("smmpanel", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	fs.StringVar(&cfg.ProviderURL, "p", "", "provider API URL")
	fs.StringVar(&cfg.ProviderKey, "k", "", "provider API key")
	fs.DurationVar(&cfg.ProviderTimeout, "t", 30*time.Second, "provider request timeout")
	fs.StringVar(&cfg.AuthSecret, "s", "", "auth token signing secret")
	fs.StringVar(&cfg.RedisAddress, "redis", "", "redis address for the idempotency guard")
	fs.DurationVar(&cfg.IdempotencyTTL, "idempotency-ttl", 24*time.Hour, "how long an idempotency key is remembered")
	fs.StringVar(&cfg.NATSURL, "nats", "", "NATS URL for order events")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 5*time.Second, "graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Поля без переменной окружения сохраняют значения флагов.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RunAddress == "" {
		c.RunAddress = "localhost:8080"
	}
	if c.ProviderURL == "" {
		return errors.New("provider API URL is required (-p or PROVIDER_API_URL)")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive, got %s", c.ProviderTimeout)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency TTL must be positive, got %s", c.IdempotencyTTL)
	}
	return nil
}
