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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000/api", cfg.Server.APIBaseURL)
	assert.Equal(t, "ws://localhost:5000/ws", cfg.Socket.URL)
	assert.Equal(t, 5, cfg.Socket.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.Socket.ReconnectBackoff)
	assert.Equal(t, 50, cfg.Messaging.PageSize)
	assert.Equal(t, time.Second, cfg.Messaging.TypingIdleWait)
	assert.Equal(t, 3*time.Second, cfg.Messaging.TypingHardStop)
	assert.Equal(t, 3*time.Second, cfg.Messaging.TypingExpiry)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARBOR_API_URL", "https://prod.example.com/api")
	t.Setenv("HARBOR_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://prod.example.com/api", cfg.Server.APIBaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("socket:\n  url: wss://file.example.com/ws\n  max_reconnects: 9\nmessaging:\n  typing_hard_stop: 5s\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "wss://file.example.com/ws", cfg.Socket.URL)
	assert.Equal(t, 9, cfg.Socket.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.Messaging.TypingHardStop)
	assert.Equal(t, filepath.Join(dir, "harbor.log"), cfg.Log.File, "log file defaults into the profile dir")
}
