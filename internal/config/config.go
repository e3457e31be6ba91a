// Package config handles configuration loading for the SOAR engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"watchtower-soar/internal/correlation"
	"watchtower-soar/internal/dedup"
	"watchtower-soar/internal/eventlog"
	"watchtower-soar/internal/jobqueue"
	"watchtower-soar/internal/storage"
	"watchtower-soar/internal/trigger"
)

// Config holds the complete application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	EventLog    eventlog.Config   `yaml:"event_log"`
	Dedup       dedup.Config      `yaml:"dedup"`
	JobQueue    jobqueue.Config   `yaml:"job_queue"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Storage     StorageConfig     `yaml:"storage"`
	Trigger     trigger.Config    `yaml:"trigger"`
	Playbooks   PlaybookConfig    `yaml:"playbooks"`
	Correlation CorrelationConfig `yaml:"correlation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text
	Production bool   `yaml:"production"`
}

// StorageConfig holds ClickHouse settings. Disabled engines run without
// persistence: no execution history, no lookback for the correlators.
type StorageConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
}

// ArchiveConfig holds dead-job archival settings.
type ArchiveConfig struct {
	Enabled bool                   `yaml:"enabled"`
	S3      jobqueue.ArchiveConfig `yaml:"s3"`
}

// PlaybookConfig holds playbook loading settings.
type PlaybookConfig struct {
	Dir string `yaml:"dir"`
}

// CorrelationConfig holds the correlator settings.
type CorrelationConfig struct {
	Enabled     bool                          `yaml:"enabled"`
	Coordinator correlation.CoordinatorConfig `yaml:"coordinator"`
	Temporal    correlation.TemporalConfig    `yaml:"temporal"`
	Graph       correlation.GraphConfig       `yaml:"graph"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		EventLog: *eventlog.DefaultConfig(),
		Dedup:    *dedup.DefaultConfig(),
		JobQueue: *jobqueue.DefaultConfig(),
		Archive: ArchiveConfig{
			S3: *jobqueue.DefaultArchiveConfig(),
		},
		Storage: StorageConfig{
			Enabled:    true,
			ClickHouse: storage.DefaultClickHouseConfig(),
		},
		Trigger: *trigger.DefaultConfig(),
		Playbooks: PlaybookConfig{
			Dir: "playbooks",
		},
		Correlation: CorrelationConfig{
			Enabled:     true,
			Coordinator: *correlation.DefaultCoordinatorConfig(),
			Temporal:    *correlation.DefaultTemporalConfig(),
			Graph:       *correlation.DefaultGraphConfig(),
		},
	}
}

// Load reads configuration from the file named by SOAR_CONFIG_PATH,
// falling back to defaults, then applies environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("SOAR_CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from an explicit path. Used by tests and
// the -config flag.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Secrets are
// expected here rather than in the config file.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SOAR_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.HTTPPort = p
		}
	}
	if level := os.Getenv("SOAR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.EventLog.Brokers = splitAndTrim(brokers, ",")
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Dedup.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Dedup.Password = pass
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		c.Archive.S3.AccessKeyID = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		c.Archive.S3.SecretAccessKey = secret
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("config: http port %d out of range", c.Server.HTTPPort)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	if err := c.EventLog.Validate(); err != nil {
		return err
	}
	if err := c.JobQueue.Validate(); err != nil {
		return err
	}
	if err := c.Trigger.Validate(); err != nil {
		return err
	}
	if c.Archive.Enabled {
		if err := c.Archive.S3.Validate(); err != nil {
			return err
		}
	}
	if c.Correlation.Enabled {
		if err := c.Correlation.Coordinator.Validate(); err != nil {
			return err
		}
		if err := c.Correlation.Temporal.Validate(); err != nil {
			return err
		}
		if err := c.Correlation.Graph.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// splitAndTrim splits a separated list and drops empty entries.
func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
