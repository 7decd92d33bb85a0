package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "permissive", cfg.Firewall.Mode)
	assert.Equal(t, 10000, cfg.Firewall.BufferSize)
	assert.Equal(t, 200*time.Microsecond, cfg.Firewall.ScoringBudget)
	assert.Equal(t, 0.85, cfg.Thresholds.Base)
	assert.True(t, cfg.Thresholds.Adaptive)
	assert.Equal(t, 8335, cfg.API.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Honeynet.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FromFile(t *testing.T) {
	content := `
firewall:
  mode: strict
  workers: 4
thresholds:
  base: 0.9
api:
  port: 9000
log:
  level: debug
`
	path := filepath.Join(t.TempDir(), "icarus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "strict", cfg.Firewall.Mode)
	assert.Equal(t, 4, cfg.Firewall.Workers)
	assert.Equal(t, 0.9, cfg.Thresholds.Base)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset keys keep their defaults
	assert.Equal(t, 10000, cfg.Firewall.BufferSize)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ICARUS_FIREWALL_MODE", "strict")
	t.Setenv("ICARUS_API_PORT", "9100")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "strict", cfg.Firewall.Mode)
	assert.Equal(t, 9100, cfg.API.Port)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Firewall.Mode = "paranoid" }},
		{"zero buffer", func(c *Config) { c.Firewall.BufferSize = 0 }},
		{"zero workers", func(c *Config) { c.Firewall.Workers = 0 }},
		{"threshold too high", func(c *Config) { c.Thresholds.Base = 1.0 }},
		{"threshold too low", func(c *Config) { c.Thresholds.Base = 0 }},
		{"oversized step", func(c *Config) { c.Thresholds.MaxStep = 0.9 }},
		{"bad port", func(c *Config) { c.API.Port = 70000 }},
		{"zero rate limit", func(c *Config) { c.API.RateLimit = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
