package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/backoff"

	"github.com/jonamat/go-afe-bms/internal/bms"
	"github.com/jonamat/go-afe-bms/internal/config"
	"github.com/jonamat/go-afe-bms/internal/metrics"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

func runMonitor(args []string) error {
	fs := newFlagSet("monitor", "monitor [flags]", "Poll the device and serve Prometheus metrics")
	g := addGlobalFlags(fs)
	addr := fs.String("metrics-addr", "", "Listen address for /metrics (default from config)")
	interval := fs.Duration("interval", 0, "Poll interval (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.MetricsAddr = *addr
	}
	if *interval > 0 {
		cfg.PollInterval = *interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.New()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer srv.Close()
	}

	dev, cleanup, err := newDevice(cfg, transport.WithObserver(collector))
	if err != nil {
		return err
	}
	defer cleanup()

	monitor(ctx, dev, cfg, collector)
	return nil
}

// monitor connects, polls until the session fails, then reconnects with
// backoff until ctx is done.
func monitor(ctx context.Context, dev *bms.Device, cfg config.Config, collector *metrics.Collector) {
	reconnect := &backoff.Backoff{
		Min:    cfg.Request.Backoff.Min,
		Max:    30 * time.Second,
		Factor: cfg.Request.Backoff.Factor,
		Jitter: true,
	}

	for ctx.Err() == nil {
		if err := dev.Connect(cfg.Serial.Port); err != nil {
			delay := reconnect.Duration()
			slog.Warn("connect failed", slog.Any("error", err), slog.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		reconnect.Reset()
		collector.SetConnected(true)

		err := poll(ctx, dev, cfg.PollInterval, collector)
		collector.SetConnected(false)
		_ = dev.Disconnect()
		if ctx.Err() != nil {
			return
		}
		slog.Warn("connection lost", slog.Any("error", err))
		sleep(ctx, reconnect.Duration())
	}
}

func poll(ctx context.Context, dev *bms.Device, interval time.Duration, collector *metrics.Collector) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		data, err := dev.GetAllData(ctx)
		switch {
		case data != nil:
			collector.Update(data.Readings, err)
			failures = 0
		case err != nil:
			failures++
			slog.Warn("poll failed", slog.Any("error", err), slog.Int("failures", failures))
			if errors.Is(err, transport.ErrClosed) || failures >= 3 {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-dev.Done():
			return errors.New("session ended")
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
