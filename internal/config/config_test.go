package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  port: 9090
investigation:
  max_loops: 3
slack:
  bot_token: xoxb-test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Investigation.MaxLoops)
	assert.Equal(t, "xoxb-test", cfg.Slack.BotToken)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Investigation.MaxIterations)
	assert.Equal(t, 5*time.Minute, cfg.Investigation.MaxDuration)
	assert.Equal(t, 4096, cfg.Model.MaxTokens)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: {port: 8080")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero loops", func(c *Config) { c.Investigation.MaxLoops = 0 }, "max_loops"},
		{"zero iterations", func(c *Config) { c.Investigation.MaxIterations = 0 }, "max_iterations"},
		{"negative duration", func(c *Config) { c.Investigation.MaxDuration = -time.Second }, "max_duration"},
		{"zero concurrency", func(c *Config) { c.Investigation.Concurrency = 0 }, "concurrency"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errSub == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSub)
			}
		})
	}
}

func TestWatcher_DeliversInitialAndReloadedConfig(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")

	configs := make(chan *Config, 4)
	w, err := NewWatcher(WatcherConfig{FilePath: path, DebounceMillis: 20}, func(cfg *Config) error {
		configs <- cfg
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()

	select {
	case cfg := <-configs:
		assert.Equal(t, 8081, cfg.Server.Port)
	case <-time.After(time.Second):
		t.Fatal("initial config not delivered")
	}

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8082\n"), 0o644))

	select {
	case cfg := <-configs:
		assert.Equal(t, 8082, cfg.Server.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("reloaded config not delivered")
	}
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")

	configs := make(chan *Config, 4)
	w, err := NewWatcher(WatcherConfig{FilePath: path, DebounceMillis: 20}, func(cfg *Config) error {
		configs <- cfg
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()
	<-configs

	// Port 0 fails validation, so the callback must not fire again.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o644))

	select {
	case cfg := <-configs:
		t.Fatalf("invalid config was delivered: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StartFailsOnBrokenInitialConfig(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 0\n")

	w, err := NewWatcher(WatcherConfig{FilePath: path}, func(*Config) error { return nil })
	require.NoError(t, err)
	assert.Error(t, w.Start(t.Context()))
}
