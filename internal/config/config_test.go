package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
control:
  listen: 127.0.0.1:9000
inspector:
  autostart: 127.0.0.1:3030
  outbound_buffer: 8
  close_grace: 500ms
  subprotocols:
    - chat
    - superchat
log:
  level: debug
  format: text
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inspector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := NewLoader("").Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.Control.Listen)
	assert.Empty(t, cfg.Inspector.Autostart)
	assert.Equal(t, 64, cfg.Inspector.OutboundBuffer)
	assert.Equal(t, int64(64<<20), cfg.Inspector.MaxMessageSize)
	assert.Equal(t, 10*time.Second, cfg.Inspector.WriteTimeout)
	assert.Equal(t, 2*time.Second, cfg.Inspector.CloseGrace)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_File(t *testing.T) {
	cfg, err := NewLoader(writeTestConfig(t, testYAML)).Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Control.Listen)
	assert.Equal(t, "127.0.0.1:3030", cfg.Inspector.Autostart)
	assert.Equal(t, 500*time.Millisecond, cfg.Inspector.CloseGrace)
	assert.Equal(t, []string{"chat", "superchat"}, cfg.Inspector.Subprotocols)
	assert.Equal(t, "debug", cfg.Log.Level)

	opts := cfg.Options()
	assert.Equal(t, 8, opts.OutboundBuffer)
	assert.Equal(t, 500*time.Millisecond, opts.CloseGrace)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("WSI_INSPECTOR_OUTBOUND_BUFFER", "16")
	t.Setenv("WSI_LOG_LEVEL", "warn")

	cfg, err := NewLoader(writeTestConfig(t, testYAML)).Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Inspector.OutboundBuffer)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"autostart":       "inspector:\n  autostart: localhost:80\n",
		"control":         "control:\n  listen: nowhere\n",
		"outbound buffer": "inspector:\n  outbound_buffer: 0\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader(writeTestConfig(t, content)).Load()
			assert.Error(t, err)
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeTestConfig(t, testYAML)
	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	require.True(t, l.Watch(func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	}))

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"), 0o644))

	deadline := time.NewTimer(3 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case cfg := <-reloaded:
			if cfg.Log.Level == "error" {
				return
			}
		case <-deadline.C:
			t.Fatal("timeout waiting for config reload")
		}
	}
}

func TestWatch_NoFile(t *testing.T) {
	chdirTemp(t)
	l := NewLoader("")
	_, err := l.Load()
	require.NoError(t, err)
	assert.False(t, l.Watch(func(*Config, error) {}))
}

// chdirTemp changes into a fresh temp dir and restores the working directory on cleanup.
func chdirTemp(t *testing.T) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
