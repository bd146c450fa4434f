// Package main provides the LogTide server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Alerting AlertingConfig `yaml:"alerting"`
	Verbose  bool           `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address           string        `yaml:"address"`             // HTTP listen address (default: :8080)
	StreamMaxDuration time.Duration `yaml:"stream_max_duration"` // Max lifetime of one SSE stream
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Driver is one of postgres, sqlite, or memory. Postgres is the
	// multi-process backend; sqlite and memory pair with the in-process
	// bus only.
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`         // SQLite database path
	DatabaseURL string `yaml:"database_url"` // Postgres connection string
}

// IngestConfig tunes the polling scheduler.
type IngestConfig struct {
	Interval      time.Duration `yaml:"interval"`       // Poll period per connection
	MaxAttempts   int           `yaml:"max_attempts"`   // Fetch retries per cycle
	MaxConcurrent int64         `yaml:"max_concurrent"` // Simultaneous in-flight fetches
}

// AnalysisConfig tunes the batch analyzer.
type AnalysisConfig struct {
	BatchSize  int              `yaml:"batch_size"`
	Interval   time.Duration    `yaml:"interval"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

// EnrichmentConfig configures the optional LLM summarizer. The API key
// comes from ANTHROPIC_API_KEY; enrichment is disabled when unset.
type EnrichmentConfig struct {
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	MaxSummaryLen int           `yaml:"max_summary_len"`
}

// AlertingConfig tunes alert deduplication and outbound notifications.
type AlertingConfig struct {
	DedupWindow time.Duration `yaml:"dedup_window"`
	// WebhookURL receives a JSON payload for every raised alert.
	// Notifications are disabled when empty.
	WebhookURL      string `yaml:"webhook_url"`
	NotifyMaxPerMin int    `yaml:"notify_max_per_min"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.StreamMaxDuration == 0 {
		c.Server.StreamMaxDuration = 30 * time.Minute
	}
	if c.Server.AccessTokenTTL == 0 {
		c.Server.AccessTokenTTL = 15 * time.Minute
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/logtide.db"
	}
	if c.Ingest.Interval == 0 {
		c.Ingest.Interval = 30 * time.Second
	}
	if c.Ingest.MaxAttempts == 0 {
		c.Ingest.MaxAttempts = 3
	}
	if c.Ingest.MaxConcurrent == 0 {
		c.Ingest.MaxConcurrent = 8
	}
	if c.Analysis.BatchSize == 0 {
		c.Analysis.BatchSize = 50
	}
	if c.Analysis.Interval == 0 {
		c.Analysis.Interval = 10 * time.Second
	}
	if c.Analysis.Enrichment.Timeout == 0 {
		c.Analysis.Enrichment.Timeout = 10 * time.Second
	}
	if c.Analysis.Enrichment.RatePerMinute == 0 {
		c.Analysis.Enrichment.RatePerMinute = 30
	}
	if c.Analysis.Enrichment.MaxSummaryLen == 0 {
		c.Analysis.Enrichment.MaxSummaryLen = 500
	}
	if c.Alerting.DedupWindow == 0 {
		c.Alerting.DedupWindow = 10 * time.Minute
	}
	if c.Alerting.NotifyMaxPerMin == 0 {
		c.Alerting.NotifyMaxPerMin = 10
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres, sqlite, or memory")
	}

	if c.Alerting.DedupWindow < time.Minute {
		return fmt.Errorf("alerting.dedup_window must be at least 1m")
	}
	if c.Ingest.Interval < time.Second {
		return fmt.Errorf("ingest.interval must be at least 1s")
	}
	return nil
}
