package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, "participant", cfg.Sessions.DefaultRole)
	assert.Equal(t, "kick", cfg.Sessions.Policy)
	assert.Equal(t, 5.0, cfg.Chat.Rate)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICE.Servers)
	assert.Equal(t, 500*time.Millisecond, cfg.Probe.InitialInterval)
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9000
sessions:
  max_participants: 4
  policy: tolerant
chat:
  rate: 1
`), 0o600))
	t.Setenv("HUDDLE_PORT", "9100")
	t.Setenv("HUDDLE_SESSIONS_DEFAULT_ROLE", "viewer")

	cfg, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port, "environment wins over the file")
	assert.Equal(t, 4, cfg.Sessions.MaxParticipants)
	assert.Equal(t, "tolerant", cfg.Sessions.Policy)
	assert.Equal(t, "viewer", cfg.Sessions.DefaultRole)
	assert.Equal(t, 1.0, cfg.Chat.Rate)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"ping", func(c *Config) { c.PingPeriod = 0 }},
		{"policy", func(c *Config) { c.Sessions.Policy = "ignore" }},
		{"chat rate", func(c *Config) { c.Chat.Rate = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"))
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
