// Package config loads the afectl configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the tool configuration. Durations are written as Go duration
// strings ("2s", "250ms").
type Config struct {
	Serial  Serial  `yaml:"serial"`
	Request Request `yaml:"request"`

	// SenseResistor is the current shunt in ohms.
	SenseResistor float64 `yaml:"sense_resistor"`

	LogLevel     string        `yaml:"log_level"`
	CapturePath  string        `yaml:"capture_path"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Serial struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// Request controls per-request timeouts and client retries.
type Request struct {
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
	Backoff Backoff       `yaml:"backoff"`
}

type Backoff struct {
	Min    time.Duration `yaml:"min"`
	Max    time.Duration `yaml:"max"`
	Factor float64       `yaml:"factor"`
	Jitter bool          `yaml:"jitter"`
}

// LoadError reports a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Cause }

var ErrInvalid = errors.New("invalid configuration")

func Default() Config {
	return Config{
		Serial: Serial{
			Port:        "/dev/ttyUSB0",
			Baud:        9600,
			ReadTimeout: 100 * time.Millisecond,
		},
		Request: Request{
			Timeout: 2 * time.Second,
			Retries: 3,
			Backoff: Backoff{
				Min:    100 * time.Millisecond,
				Max:    2 * time.Second,
				Factor: 2,
			},
		},
		SenseResistor: 0.001,
		LogLevel:      "info",
		PollInterval:  time.Second,
	}
}

// Parse decodes data over the defaults, so a file only needs the keys it
// changes.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{Message: "validation failed", Cause: err}
	}
	return cfg, nil
}

// Load reads path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Serial.Baud > 0, "serial.baud must be positive, got %d", c.Serial.Baud)
	check(c.Serial.ReadTimeout >= 0, "serial.read_timeout must not be negative")
	check(c.Request.Timeout > 0, "request.timeout must be positive")
	check(c.Request.Retries >= 0, "request.retries must not be negative")
	check(c.Request.Backoff.Min > 0, "request.backoff.min must be positive")
	check(c.Request.Backoff.Max >= c.Request.Backoff.Min, "request.backoff.max below min")
	check(c.Request.Backoff.Factor >= 1, "request.backoff.factor must be at least 1")
	check(c.SenseResistor > 0, "sense_resistor must be positive")
	check(c.PollInterval > 0, "poll_interval must be positive")
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, s)
	}
	return l, nil
}

// Level is the configured log level, info if it does not parse.
func (c Config) Level() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}
