package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.GeneratorEnabled())
	assert.Equal(t, 30*time.Second, cfg.Timing.DisconnectGrace)
	assert.Equal(t, 5, cfg.Gesture.Stream.WindowSize)
	assert.Equal(t, []string{DefaultSTUNServer}, cfg.PeerConfig().ICEServers[0].URLs)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing url", mutate: func(c *Config) { c.Signaling.URL = "" }, wantErr: "signaling: signaling url is required"},
		{name: "bad timing", mutate: func(c *Config) { c.Timing.FailedGrace = 0 }, wantErr: "timing: failed grace must be positive"},
		{name: "bad gesture", mutate: func(c *Config) { c.Gesture.HistorySize = 0 }, wantErr: "gesture: history size must be positive"},
		{name: "bad ice server", mutate: func(c *Config) { c.STUNServers = []string{"example.com"} }, wantErr: `invalid ice server "example.com"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.EqualError(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestLoad_FromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"SIGNBRIDGE_SIGNALING_URL=ws://relay.lan:9000/ws\n"+
			"SIGNBRIDGE_STUN_SERVERS=stun:a.example:3478, stun:b.example:3478\n"+
			"SIGNBRIDGE_AUTO_FINALIZE=4s\n"+
			"SIGNBRIDGE_GENERATOR_API_KEY=sk-test\n"+
			"SIGNBRIDGE_DISCOVER=true\n"), 0o600))

	for _, key := range []string{"SIGNALING_URL", "STUN_SERVERS", "AUTO_FINALIZE", "GENERATOR_API_KEY", "DISCOVER"} {
		key := EnvPrefix + key
		t.Cleanup(func() { os.Unsetenv(key) })
	}
	t.Setenv(EnvPrefix+"RING_TIMEOUT", "45s")

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "ws://relay.lan:9000/ws", cfg.Signaling.URL)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, cfg.STUNServers)
	assert.Equal(t, 4*time.Second, cfg.Gesture.Stream.AutoFinalize)
	assert.Equal(t, 45*time.Second, cfg.Relay.RingTimeout)
	assert.True(t, cfg.GeneratorEnabled())
	assert.True(t, cfg.Discover)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SIGNBRIDGE_TOKEN=from-file\n"), 0o600))
	t.Setenv(EnvPrefix+"TOKEN", "from-env")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	t.Setenv(EnvPrefix+"DISCONNECT_GRACE", "soon")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGNBRIDGE_DISCONNECT_GRACE")
}

func TestLoad_RejectsInvalidResult(t *testing.T) {
	t.Setenv(EnvPrefix+"RECONNECT_ATTEMPTS", "-1")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
