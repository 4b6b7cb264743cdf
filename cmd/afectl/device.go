package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonamat/go-afe-bms/internal/bms"
	"github.com/jonamat/go-afe-bms/internal/capture"
	"github.com/jonamat/go-afe-bms/internal/config"
	"github.com/jonamat/go-afe-bms/internal/register"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

// globalFlags override the configuration file.
type globalFlags struct {
	config   string
	port     string
	baud     int
	logLevel string
	capture  string
	sense    float64
	timeout  time.Duration
}

func addGlobalFlags(fs *flag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVar(&g.config, "config", "", "Configuration file (YAML)")
	fs.StringVar(&g.port, "port", "", "Serial port (default from config, /dev/ttyUSB0)")
	fs.IntVar(&g.baud, "baud", 0, "Baud rate")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&g.capture, "capture", "", "Append a protocol capture to this file")
	fs.Float64Var(&g.sense, "sense-resistor", 0, "Current sense resistor in ohms")
	fs.DurationVar(&g.timeout, "timeout", 0, "Per-request timeout")
	return g
}

// load reads the configuration, applies the flags and sets up logging.
func (g *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return config.Config{}, err
	}
	if g.port != "" {
		cfg.Serial.Port = g.port
	}
	if g.baud != 0 {
		cfg.Serial.Baud = g.baud
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.capture != "" {
		cfg.CapturePath = g.capture
	}
	if g.sense != 0 {
		cfg.SenseResistor = g.sense
	}
	if g.timeout != 0 {
		cfg.Request.Timeout = g.timeout
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	setupLogging(cfg.Level())
	return cfg, nil
}

func setupLogging(level slog.Level) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

// captureLogger builds the frame trace for cfg: the capture file when one is
// set, and the debug log at debug level. It returns nil when neither applies.
func captureLogger(cfg config.Config) (capture.Logger, func(), error) {
	var loggers []capture.Logger
	cleanup := func() {}
	if cfg.CapturePath != "" {
		file, err := capture.NewFileLogger(cfg.CapturePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open capture file: %w", err)
		}
		loggers = append(loggers, file)
		cleanup = func() { _ = file.Close() }
	}
	if cfg.Level() <= slog.LevelDebug {
		loggers = append(loggers, capture.NewSlogAdapter(slog.Default()))
	}

	switch len(loggers) {
	case 0:
		return nil, cleanup, nil
	case 1:
		return loggers[0], cleanup, nil
	}
	return capture.NewMultiLogger(loggers...), cleanup, nil
}

// newDevice builds an unconnected client from cfg. The returned cleanup
// closes the capture file.
func newDevice(cfg config.Config, opts ...transport.Option) (*bms.Device, func(), error) {
	sessionOpts := append([]transport.Option{transport.WithTimeout(cfg.Request.Timeout)}, opts...)

	trace, cleanup, err := captureLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	if trace != nil {
		sessionOpts = append(sessionOpts, transport.WithCapture(trace))
	}

	b := cfg.Request.Backoff
	dev := bms.New(
		bms.WithLogger(slog.Default()),
		bms.WithSerialConfig(transport.SerialConfig{Baud: cfg.Serial.Baud, ReadTimeout: cfg.Serial.ReadTimeout}),
		bms.WithRetries(cfg.Request.Retries),
		bms.WithBackoff(b.Min, b.Max, b.Factor, b.Jitter),
		bms.WithSessionOptions(sessionOpts...),
		bms.WithDriverOptions(register.WithSenseResistor(cfg.SenseResistor)),
	)
	return dev, cleanup, nil
}

// connect opens the configured port and loads the device memory.
func connect(ctx context.Context, cfg config.Config, opts ...transport.Option) (*bms.Device, func(), error) {
	dev, cleanup, err := newDevice(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := dev.Connect(cfg.Serial.Port); err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := dev.Refresh(ctx); err != nil {
		_ = dev.Disconnect()
		cleanup()
		return nil, nil, err
	}
	return dev, func() {
		_ = dev.Disconnect()
		cleanup()
	}, nil
}
