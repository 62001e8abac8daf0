// Package config loads the collector's configuration file.
//
// Everything is read once at process start and treated as immutable for
// the process lifetime.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dockstat/internal/retry"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Influx configures the metrics sink connection.
type Influx struct {
	URL      string   `yaml:"url"`
	Database string   `yaml:"database"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Retry    Retry    `yaml:"retry,omitempty"`
}

// Retry is the generic sink retry policy. Pattern-specific bounds from
// the error classifier override MaxAttempts.
type Retry struct {
	InitialInterval Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     Duration `yaml:"max_interval,omitempty"`
	MaxAttempts     int      `yaml:"max_attempts,omitempty"`
}

// Batch configures size/time flush thresholds.
type Batch struct {
	MaxSize int      `yaml:"max_size,omitempty"`
	MaxWait Duration `yaml:"max_wait,omitempty"`
}

// Stream bounds per-container buffering.
type Stream struct {
	MaxBufferBytes int `yaml:"max_buffer_bytes,omitempty"`
	MaxLineBytes   int `yaml:"max_line_bytes,omitempty"`
}

// Config is the full collector configuration.
type Config struct {
	LogLevel string `yaml:"log_level,omitempty"`
	Influx   Influx `yaml:"influx"`
	Batch    Batch  `yaml:"batch,omitempty"`
	Stream   Stream `yaml:"stream,omitempty"`
	// Fields selects which metric fields are kept: empty selects all,
	// the single entry "essential" selects the fixed essential subset,
	// anything else is an explicit name list.
	Fields []string `yaml:"fields,omitempty"`
	// ExtendedFields enables per-interface, per-core, and block-I/O
	// extraction.
	ExtendedFields  bool     `yaml:"extended_fields,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates the config file. A missing file yields the
// defaults, not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Influx.URL == "" {
		c.Influx.URL = "http://localhost:8086"
	}
	if c.Influx.Database == "" {
		c.Influx.Database = "dockstat"
	}
	if c.Influx.Timeout <= 0 {
		c.Influx.Timeout = Duration(10 * time.Second)
	}
	def := retry.DefaultPolicy()
	if c.Influx.Retry.InitialInterval <= 0 {
		c.Influx.Retry.InitialInterval = Duration(def.InitialInterval)
	}
	if c.Influx.Retry.MaxInterval <= 0 {
		c.Influx.Retry.MaxInterval = Duration(def.MaxInterval)
	}
	if c.Influx.Retry.MaxAttempts <= 0 {
		c.Influx.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Batch.MaxSize <= 0 {
		c.Batch.MaxSize = 100
	}
	if c.Batch.MaxWait <= 0 {
		c.Batch.MaxWait = Duration(10 * time.Second)
	}
	if c.Stream.MaxBufferBytes <= 0 {
		c.Stream.MaxBufferBytes = 1 << 20
	}
	if c.Stream.MaxLineBytes <= 0 {
		c.Stream.MaxLineBytes = 256 << 10
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = Duration(10 * time.Second)
	}
}

func (c *Config) validate() error {
	if c.Stream.MaxLineBytes > c.Stream.MaxBufferBytes {
		return fmt.Errorf("stream.max_line_bytes (%d) must not exceed stream.max_buffer_bytes (%d)",
			c.Stream.MaxLineBytes, c.Stream.MaxBufferBytes)
	}
	return nil
}

// RetryPolicy maps the configured sink retry settings onto the retry
// package's policy, keeping the default jitter and multiplier.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.InitialInterval = c.Influx.Retry.InitialInterval.Std()
	p.MaxInterval = c.Influx.Retry.MaxInterval.Std()
	p.MaxAttempts = c.Influx.Retry.MaxAttempts
	return p
}
