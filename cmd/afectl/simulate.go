package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kr/pty"

	"github.com/jonamat/go-afe-bms/internal/emulator"
	"github.com/jonamat/go-afe-bms/internal/field"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

func runSimulate(args []string) error {
	fs := newFlagSet("simulate", "simulate [flags]", "Run a device emulator on a pseudo terminal")
	g := addGlobalFlags(fs)
	major := fs.Uint("fw-major", 1, "Firmware major version")
	minor := fs.Uint("fw-minor", 0, "Firmware minor version")
	fault := fs.String("fault", "", "Status flag to raise at start, e.g. ov_fault")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}

	e := emulator.New(
		emulator.WithLogger(slog.Default()),
		emulator.WithFirmware(byte(*major), byte(*minor)),
		emulator.WithSenseResistor(cfg.SenseResistor),
	)
	if *fault != "" {
		id, err := field.Lookup(*fault)
		if err != nil {
			return err
		}
		if err := e.Set(id, 1); err != nil {
			return err
		}
	}

	var opts []transport.Option
	trace, cleanup, err := captureLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	if trace != nil {
		opts = append(opts, transport.WithCapture(trace))
	}

	ptm, tty, err := pty.Open()
	if err != nil {
		return fmt.Errorf("failed to open pty: %w", err)
	}
	defer tty.Close()
	fmt.Println("emulator listening on", tty.Name())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serve closes ptm with its session.
	return e.Serve(ctx, ptm, opts...)
}
