package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 9600, cfg.Serial.Baud)
	assert.Equal(t, 2*time.Second, cfg.Request.Timeout)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
serial:
  port: /dev/ttyACM1
  baud: 19200
request:
  timeout: 500ms
  backoff:
    min: 50ms
sense_resistor: 0.002
log_level: debug
metrics_addr: ":9108"
`))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM1", cfg.Serial.Port)
	assert.Equal(t, 19200, cfg.Serial.Baud)
	assert.Equal(t, 100*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Request.Timeout)
	assert.Equal(t, 3, cfg.Request.Retries)
	assert.Equal(t, 50*time.Millisecond, cfg.Request.Backoff.Min)
	assert.Equal(t, 2*time.Second, cfg.Request.Backoff.Max)
	assert.Equal(t, 0.002, cfg.SenseResistor)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, ":9108", cfg.MetricsAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero baud", func(c *Config) { c.Serial.Baud = 0 }},
		{"zero timeout", func(c *Config) { c.Request.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.Request.Retries = -1 }},
		{"backoff max below min", func(c *Config) { c.Request.Backoff.Max = time.Millisecond }},
		{"backoff factor", func(c *Config) { c.Request.Backoff.Factor = 0.5 }},
		{"sense resistor", func(c *Config) { c.SenseResistor = 0 }},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("serial: [not, a, map"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "failed to parse YAML", le.Message)

	_, err = Parse([]byte("serial:\n  baud: -1\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	dir := t.TempDir()
	path := filepath.Join(dir, "afectl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: 5s\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sense_resistor: -1\n"), 0o644))
	_, err = Load(bad)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, bad, le.File)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
