package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_INT_BAD="abc" is not a valid integer`, err.Error())
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, v)

	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err = envBool("TEST_BOOL_BAD", false)
	require.Error(t, err)
	assert.Equal(t, `TEST_BOOL_BAD="maybe" is not a valid boolean`, err.Error())
}

func TestEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	v, err := envFloat("TEST_FLOAT", 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v, 1e-9)

	t.Setenv("TEST_FLOAT_BAD", "fast")
	_, err = envFloat("TEST_FLOAT_BAD", 0)
	assert.EqualError(t, err, `TEST_FLOAT_BAD="fast" is not a valid number`)
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, v)

	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err = envDuration("TEST_DUR_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_DUR_BAD="five-seconds" is not a valid duration`, err.Error())
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "botfleet-", cfg.ContainerPrefix)
	assert.Equal(t, "node:18-alpine", cfg.WorkerImage)
	assert.Equal(t, 3001, cfg.PortRangeStart)
	assert.Equal(t, 3999, cfg.PortRangeEnd)
	assert.Equal(t, 10*time.Second, cfg.RuntimeTimeout)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 3, cfg.ReconcileMissingTicks)
	assert.True(t, cfg.RateLimitEnabled)
	assert.True(t, cfg.MCPEnabled)
	assert.Equal(t, int64(1<<20), cfg.MaxRequestBodyBytes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BOTFLEET_PORT", "8081")
	t.Setenv("BOTFLEET_CONTAINER_PREFIX", "fleet-")
	t.Setenv("BOTFLEET_RECONCILE_INTERVAL", "2s")
	t.Setenv("BOTFLEET_RATE_LIMIT_ENABLED", "false")
	t.Setenv("BOTFLEET_RATE_LIMIT_RPS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "fleet-", cfg.ContainerPrefix)
	assert.Equal(t, 2*time.Second, cfg.ReconcileInterval)
	assert.False(t, cfg.RateLimitEnabled)
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("BOTFLEET_PORT", "abc")
	t.Setenv("BOTFLEET_RUNTIME_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `BOTFLEET_PORT="abc"`)
	assert.Contains(t, err.Error(), `BOTFLEET_RUNTIME_TIMEOUT="soon"`)
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port overlaps range", func(c *Config) { c.Port = 3500 }, "overlaps"},
		{"inverted range", func(c *Config) { c.PortRangeStart = 4000; c.PortRangeEnd = 3000 }, "PORT_RANGE"},
		{"empty prefix", func(c *Config) { c.ContainerPrefix = "" }, "CONTAINER_PREFIX"},
		{"missing ticks", func(c *Config) { c.ReconcileMissingTicks = 0 }, "MISSING_TICKS"},
		{"zero interval", func(c *Config) { c.ReconcileInterval = 0 }, "RECONCILE_INTERVAL"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "BOTFLEET_LOG_LEVEL"},
		{"stop grace above timeout", func(c *Config) { c.StopGrace = c.RuntimeTimeout }, "STOP_GRACE"},
		{"rate limit", func(c *Config) { c.RateLimitBurst = 0 }, "RATE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
