package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.OutputDir)
	assert.Equal(t, 10, cfg.MaxRedirects)
	assert.Equal(t, 1000, cfg.MaxNameAttempts)
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, time.Duration(0), cfg.Timeout)
	assert.Equal(t, int64(1<<20), cfg.ProgressInterval)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "127.0.0.1:9464", cfg.Telemetry.MetricsAddr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("QGET_OUTPUT_DIR", "/tmp/out")
	t.Setenv("QGET_MAX_REDIRECTS", "3")
	t.Setenv("QGET_TIMEOUT", "30s")
	t.Setenv("QGET_INSECURE", "true")
	t.Setenv("QGET_LOG_LEVEL", "debug")
	t.Setenv("QGET_TELEMETRY_ENABLED", "true")
	t.Setenv("QGET_TELEMETRY_OTLP_ENDPOINT", "collector:4317")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.Equal(t, 3, cfg.MaxRedirects)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	t.Setenv("QGET_PARALLEL", "many")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig()
		require.NoError(t, err)

		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero redirects", mutate: func(c *Config) { c.MaxRedirects = 0 }},
		{name: "zero name attempts", mutate: func(c *Config) { c.MaxNameAttempts = 0 }},
		{name: "zero parallel", mutate: func(c *Config) { c.Parallel = 0 }},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }},
		{name: "negative rate", mutate: func(c *Config) { c.LimitRate = -1 }},
		{name: "empty output dir", mutate: func(c *Config) { c.OutputDir = "" }},
		{name: "token with user", mutate: func(c *Config) { c.Token = "t"; c.User = "u" }},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
