package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // bearer token for admin routes
}

type GatewayConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	WebhookSecret string        `yaml:"webhook_secret"`
	RedirectURL   string        `yaml:"redirect_url"`
	WebhookURL    string        `yaml:"webhook_url"`
	InvoiceTTL    time.Duration `yaml:"invoice_ttl"`
	Timeout       time.Duration `yaml:"timeout"`
}

type SweeperConfig struct {
	Interval      time.Duration `yaml:"interval"`
	LookaheadDays int           `yaml:"lookahead_days"`
}

type ReconcilerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	AbandonAfter time.Duration `yaml:"abandon_after"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Server     ServerConfig     `yaml:"server"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.InvoiceTTL <= 0 {
		cfg.Gateway.InvoiceTTL = 24 * time.Hour
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = 10 * time.Minute
	}
	if cfg.Sweeper.LookaheadDays <= 0 {
		cfg.Sweeper.LookaheadDays = 7
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Reconciler.AbandonAfter <= 0 {
		cfg.Reconciler.AbandonAfter = 24 * time.Hour
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Gateway.BaseURL == "" {
		return nil, errors.New("gateway.base_url is required")
	}
	if cfg.Gateway.WebhookSecret == "" {
		return nil, errors.New("gateway.webhook_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
