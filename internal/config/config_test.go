package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "default", cfg.Temporal.Namespace)
	assert.Equal(t, "prompt-improvement", cfg.Temporal.TaskQueue)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "LOOP_AUDIT", cfg.NATS.Stream)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	assert.Equal(t, 0.02, cfg.Loop.ImprovementThreshold)
	assert.Equal(t, 0.7, cfg.Loop.QualityFloor)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing host port", func(c *Config) { c.Temporal.HostPort = "" }, "temporal.host_port"},
		{"missing task queue", func(c *Config) { c.Temporal.TaskQueue = "" }, "temporal.task_queue"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero rate limit", func(c *Config) { c.Server.RateLimit = 0 }, "server.rate_limit"},
		{"missing nats url", func(c *Config) { c.NATS.URL = "" }, "nats.url"},
		{"zero iterations", func(c *Config) { c.Loop.MaxIterations = 0 }, "loop.max_iterations"},
		{"quality floor above one", func(c *Config) { c.Loop.QualityFloor = 1.5 }, "loop.quality_floor"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
temporal:
  host_port: temporal.internal:7233
  namespace: prod
server:
  port: 9000
  shutdown_timeout: 30s
nats:
  url: nats://audit.internal:4222
  credentials: s3cret
loop:
  max_iterations: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "temporal.internal:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "prod", cfg.Temporal.Namespace)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "s3cret", cfg.NATS.Credentials.Value())
	assert.Equal(t, 5, cfg.Loop.MaxIterations)

	// Unset fields fall through to defaults.
	assert.Equal(t, "prompt-improvement", cfg.Temporal.TaskQueue)
	assert.Equal(t, 0.02, cfg.Loop.ImprovementThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("temporal:\n  host_port: from-file:7233\n"), 0o600))

	t.Setenv("PROMPTLOOP_TEMPORAL_HOST_PORT", "from-env:7233")
	t.Setenv("PROMPTLOOP_LOOP_MAX_ITERATIONS", "7")
	t.Setenv("PROMPTLOOP_UNKNOWN_KEY", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env:7233", cfg.Temporal.HostPort)
	assert.Equal(t, 7, cfg.Loop.MaxIterations)
}

func TestLoadInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
