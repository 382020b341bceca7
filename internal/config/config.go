package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for the quiver service.
type Config struct {
	Listen          string        `yaml:"listen"`
	Flight          string        `yaml:"flight"`
	Server          string        `yaml:"server"`
	Dataset         string        `yaml:"dataset"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	MaxRows         int           `yaml:"max_rows"`
	Seed            uint64        `yaml:"seed"`
	OTel            bool          `yaml:"otel"`
	LogLevel        string        `yaml:"log_level"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Listen        string
	Flight        string
	Server        string
	Dataset       string
	MaxConcurrent int
	MaxRows       int
	Seed          uint64
	OTel          bool
	LogLevel      string
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Dataset:         "quiver_baselines",
		MaxConcurrent:   16384,
		MaxRows:         1 << 20,
		LogLevel:        "info",
		BreakerFailures: 5,
		BreakerTimeout:  10 * time.Second,
	}
}

// Load reads and validates a Config from YAML. Keys missing from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Listen != "" {
		c.Listen = o.Listen
	}
	if o.Flight != "" {
		c.Flight = o.Flight
	}
	if o.Server != "" {
		c.Server = o.Server
	}
	if o.Dataset != "" {
		c.Dataset = o.Dataset
	}
	if o.MaxConcurrent > 0 {
		c.MaxConcurrent = o.MaxConcurrent
	}
	if o.MaxRows > 0 {
		c.MaxRows = o.MaxRows
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.OTel {
		c.OTel = true
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
}

// Validate verifies the config is runnable. It never modifies c.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.MaxConcurrent <= 0 {
		return errors.Errorf("max_concurrent must be > 0 (got %d)", c.MaxConcurrent)
	}
	if c.MaxRows <= 0 {
		return errors.Errorf("max_rows must be > 0 (got %d)", c.MaxRows)
	}
	if c.BreakerFailures <= 0 {
		return errors.Errorf("breaker_failures must be > 0 (got %d)", c.BreakerFailures)
	}
	if c.BreakerTimeout <= 0 {
		return errors.Errorf("breaker_timeout must be > 0 (got %s)", c.BreakerTimeout)
	}
	if c.Server != "" && c.Dataset == "" {
		return errors.New("dataset must be set when forwarding to a server")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel. An empty level means info.
func (c *Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "log_level %q", c.LogLevel)
	}
	return lvl, nil
}
