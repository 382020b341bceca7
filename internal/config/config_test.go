package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quiver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
server: "localhost:3000"
dataset: "baselines"
max_concurrent: 64
max_rows: 4096
seed: 7
log_level: debug
breaker_timeout: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "localhost:3000", cfg.Server)
	assert.Equal(t, "baselines", cfg.Dataset)
	assert.Equal(t, 64, cfg.MaxConcurrent)
	assert.Equal(t, 4096, cfg.MaxRows)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 2*time.Second, cfg.BreakerTimeout)
	assert.Equal(t, 5, cfg.BreakerFailures)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "unknown_key: 1\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "max_concurrent: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "log_level: loud\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "max_rows: -1\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "breaker_failures: 0\n"))
	assert.Error(t, err)

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.Listen = ":8080"
	cfg.Seed = 3

	cfg.ApplyOverrides(Overrides{Listen: ":9999", MaxConcurrent: 8, MaxRows: 32, OTel: true})
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 32, cfg.MaxRows)
	assert.Equal(t, uint64(3), cfg.Seed)
	assert.True(t, cfg.OTel)
	assert.Equal(t, "quiver_baselines", cfg.Dataset)
}

func TestValidate(t *testing.T) {
	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())

	cfg := Default()
	cfg.Server = "localhost:3000"
	cfg.Dataset = ""
	assert.Error(t, cfg.Validate())

	require.NoError(t, Default().Validate())

	for name, mutate := range map[string]func(*Config){
		"max_rows":         func(c *Config) { c.MaxRows = 0 },
		"breaker_failures": func(c *Config) { c.BreakerFailures = 0 },
		"breaker_timeout":  func(c *Config) { c.BreakerTimeout = -time.Second },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			before := *cfg
			assert.Error(t, cfg.Validate())
			assert.Equal(t, before, *cfg)
		})
	}
}
