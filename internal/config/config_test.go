package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Second, cfg.Signaling.PacingDelay)
	assert.Zero(t, cfg.Signaling.OfferTimeout)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingPeriod)
	assert.Equal(t, 64, cfg.WebSocket.SendBuffer)
	assert.Equal(t, "none", cfg.Events.Driver)
	require.NotEmpty(t, cfg.ICEServers)
	assert.Contains(t, cfg.ICEServers[0].URLs, "stun:stun.l.google.com:19302")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
port: 9000
signaling:
  pacing_delay: 250ms
  offer_timeout: 30s
ice_servers:
  - urls: ["turn:turn.example.com:3478"]
    username: u
    credential: p
events:
  driver: redis
  redis:
    channel: feed
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("MESH_PORT", "9100")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Signaling.PacingDelay)
	assert.Equal(t, 30*time.Second, cfg.Signaling.OfferTimeout)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, "u", cfg.ICEServers[0].Username)
	assert.Equal(t, "redis", cfg.Events.Driver)
	assert.Equal(t, "feed", cfg.Events.Redis.Channel)
	assert.Equal(t, "localhost:6379", cfg.Events.Redis.Address)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative pacing", func(c *Config) { c.Signaling.PacingDelay = -time.Second }},
		{"negative offer timeout", func(c *Config) { c.Signaling.OfferTimeout = -time.Second }},
		{"ping after pong", func(c *Config) { c.WebSocket.PingPeriod = c.WebSocket.PongWait }},
		{"bad ice url", func(c *Config) { c.ICEServers = []ICEServer{{URLs: []string{"http://nope"}}} }},
		{"unknown driver", func(c *Config) { c.Events.Driver = "smoke" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, base().Validate())
}
