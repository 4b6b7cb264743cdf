package bms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	"github.com/jonamat/go-afe-bms/internal/protocol"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

// sendRequest runs one request, repeating it up to bms.requestRetries times
// while it times out. Other failures are returned at once.
//
// Responses are matched by opcode only. A response to a timed-out attempt
// that arrives during the backoff wait completes the request without a
// resend; one that arrives after the resend resolves the resend, and the
// resend's own response is then dispatched as an unsolicited packet.
func (bms *Device) sendRequest(ctx context.Context, op protocol.Opcode, payload []byte) ([]byte, error) {
	s, err := bms.currentSession()
	if err != nil {
		return nil, err
	}

	late := make(chan []byte, 1)
	remove := s.OnPacket(op, func(p protocol.Packet) {
		select {
		case late <- p.Payload:
		default:
		}
	})
	defer remove()

	b := &backoff.Backoff{
		Min:    bms.backoff.Min,
		Max:    bms.backoff.Max,
		Factor: bms.backoff.Factor,
		Jitter: bms.backoff.Jitter,
	}
	attempts := bms.requestRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		drain(late)
		resp, err := s.Request(ctx, op, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, transport.ErrTimeout) || attempt == attempts {
			break
		}

		delay := b.Duration()
		bms.log.Warn("request attempt failed",
			slog.String("op", op.String()),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case resp := <-late:
			timer.Stop()
			bms.log.Info("late response accepted", slog.String("op", op.String()), slog.Int("attempt", attempt))
			return resp, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	if !errors.Is(lastErr, transport.ErrTimeout) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s failed after %d tries: %w", op, attempts, lastErr)
}

func drain(ch chan []byte) {
	select {
	case <-ch:
	default:
	}
}
