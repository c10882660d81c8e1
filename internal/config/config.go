// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
	MCPEnabled          bool

	// Container runtime settings.
	DockerHost      string // Empty uses DOCKER_HOST or the default socket.
	ContainerPrefix string
	WorkerImage     string
	BotsDir         string // Host directory holding one code directory per kind.
	KindsFile       string // Optional YAML overriding the built-in kind catalog.
	PortRangeStart  int
	PortRangeEnd    int
	RuntimeTimeout  time.Duration
	StopGrace       time.Duration // Passed to the engine before it kills a stopping container.

	// Reconciler settings.
	ReconcileInterval     time.Duration
	ReconcileGrace        time.Duration
	ReconcileMissingTicks int
	StatsConcurrency      int

	// Rate limiting of mutating routes.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel        string
	ShutdownTimeout time.Duration // Per phase. Zero waits indefinitely.
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		collect(err)
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		collect(err)
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := envBool(key, def)
		collect(err)
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		collect(err)
		return v
	}

	cfg := Config{
		Port:                  intVar("BOTFLEET_PORT", 4000),
		ReadTimeout:           durVar("BOTFLEET_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:          durVar("BOTFLEET_WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBodyBytes:   int64(intVar("BOTFLEET_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		MCPEnabled:            boolVar("BOTFLEET_MCP_ENABLED", true),
		DockerHost:            envStr("BOTFLEET_DOCKER_HOST", ""),
		ContainerPrefix:       envStr("BOTFLEET_CONTAINER_PREFIX", "botfleet-"),
		WorkerImage:           envStr("BOTFLEET_WORKER_IMAGE", "node:18-alpine"),
		BotsDir:               envStr("BOTFLEET_BOTS_DIR", "./bots"),
		KindsFile:             envStr("BOTFLEET_KINDS_FILE", ""),
		PortRangeStart:        intVar("BOTFLEET_PORT_RANGE_START", 3001),
		PortRangeEnd:          intVar("BOTFLEET_PORT_RANGE_END", 3999),
		RuntimeTimeout:        durVar("BOTFLEET_RUNTIME_TIMEOUT", 10*time.Second),
		StopGrace:             durVar("BOTFLEET_STOP_GRACE", 5*time.Second),
		ReconcileInterval:     durVar("BOTFLEET_RECONCILE_INTERVAL", 30*time.Second),
		ReconcileGrace:        durVar("BOTFLEET_RECONCILE_GRACE", 5*time.Second),
		ReconcileMissingTicks: intVar("BOTFLEET_RECONCILE_MISSING_TICKS", 3),
		StatsConcurrency:      intVar("BOTFLEET_STATS_CONCURRENCY", 8),
		RateLimitEnabled:      boolVar("BOTFLEET_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:          floatVar("BOTFLEET_RATE_LIMIT_RPS", 5),
		RateLimitBurst:        intVar("BOTFLEET_RATE_LIMIT_BURST", 20),
		OTELEndpoint:          envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:          boolVar("BOTFLEET_OTEL_INSECURE", false),
		ServiceName:           envStr("OTEL_SERVICE_NAME", "botfleet"),
		LogLevel:              envStr("BOTFLEET_LOG_LEVEL", "info"),
		ShutdownTimeout:       durVar("BOTFLEET_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("BOTFLEET_PORT must be between 1 and 65535"))
	}
	if c.ContainerPrefix == "" {
		errs = append(errs, fmt.Errorf("BOTFLEET_CONTAINER_PREFIX is required"))
	}
	if c.PortRangeStart <= 0 || c.PortRangeEnd > 65535 || c.PortRangeStart > c.PortRangeEnd {
		errs = append(errs, fmt.Errorf("BOTFLEET_PORT_RANGE_START..END must be a non-empty range within 1-65535"))
	} else if c.Port >= c.PortRangeStart && c.Port <= c.PortRangeEnd {
		errs = append(errs, fmt.Errorf("BOTFLEET_PORT %d overlaps the worker port range", c.Port))
	}
	if c.RuntimeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BOTFLEET_RUNTIME_TIMEOUT must be positive"))
	}
	if c.StopGrace < 0 || c.StopGrace >= c.RuntimeTimeout {
		errs = append(errs, fmt.Errorf("BOTFLEET_STOP_GRACE must be non-negative and below BOTFLEET_RUNTIME_TIMEOUT"))
	}
	if c.ReconcileInterval <= 0 {
		errs = append(errs, fmt.Errorf("BOTFLEET_RECONCILE_INTERVAL must be positive"))
	}
	if c.ReconcileGrace < 0 {
		errs = append(errs, fmt.Errorf("BOTFLEET_RECONCILE_GRACE must not be negative"))
	}
	if c.ReconcileMissingTicks < 1 {
		errs = append(errs, fmt.Errorf("BOTFLEET_RECONCILE_MISSING_TICKS must be at least 1"))
	}
	if c.StatsConcurrency < 1 {
		errs = append(errs, fmt.Errorf("BOTFLEET_STATS_CONCURRENCY must be at least 1"))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst < 1) {
		errs = append(errs, fmt.Errorf("BOTFLEET_RATE_LIMIT_RPS and BOTFLEET_RATE_LIMIT_BURST must be positive"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("BOTFLEET_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLogLevel maps debug, info, warn or error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("BOTFLEET_LOG_LEVEL=%q is not one of debug, info, warn, error", s)
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
