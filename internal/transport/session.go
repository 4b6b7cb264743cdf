// Package transport runs the command protocol over a byte stream: framed
// writes, a background reader that dispatches decoded packets, and
// request/response matching by opcode.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonamat/go-afe-bms/internal/capture"
	"github.com/jonamat/go-afe-bms/internal/protocol"
)

// DefaultTimeout bounds a Request when no other timeout is configured.
const DefaultTimeout = 2 * time.Second

const readBufferSize = 256

// Session errors.
var (
	// ErrClosed indicates the session has been closed locally or by a fatal
	// stream error.
	ErrClosed = errors.New("session closed")

	// ErrTimeout indicates no response arrived within the request timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrRequestPending indicates a request for the same opcode is already
	// waiting for its response.
	ErrRequestPending = errors.New("request already pending")

	// ErrRejected indicates the device answered with a nack.
	ErrRejected = errors.New("request rejected")
)

// Handler is called on the reader goroutine for every decoded packet of
// its opcode. It must not block.
type Handler func(p protocol.Packet)

// Observer is notified of session traffic. Implementations must be safe for
// concurrent use.
type Observer interface {
	FrameSent(op protocol.Opcode, size int)
	FrameReceived(op protocol.Opcode, size int)
	DecodeError(err error)
	RequestDone(op protocol.Opcode, elapsed time.Duration, err error)
}

type handlerEntry struct {
	fn Handler
}

type result struct {
	payload []byte
	err     error
}

// Session owns one stream. Send and Request are safe for concurrent use.
type Session struct {
	rw       io.ReadWriter
	id       string
	inbound  protocol.Direction
	timeout  time.Duration
	log      *slog.Logger
	capture  capture.Logger
	observer Observer

	wmu sync.Mutex

	hmu      sync.RWMutex
	handlers map[protocol.Opcode][]*handlerEntry

	pmu     sync.Mutex
	pending map[protocol.Opcode]chan result

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithCapture records every frame and decode error.
func WithCapture(c capture.Logger) Option {
	return func(s *Session) { s.capture = c }
}

func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithDirection sets the direction of inbound frames. Hosts read responses
// (the default); a device side reads requests.
func WithDirection(dir protocol.Direction) Option {
	return func(s *Session) { s.inbound = dir }
}

func WithSessionID(id string) Option {
	return func(s *Session) { s.id = id }
}

// NewSession starts the background reader on rw. If rw is an io.Closer it is
// closed with the session.
func NewSession(rw io.ReadWriter, opts ...Option) *Session {
	s := &Session{
		rw:       rw,
		inbound:  protocol.Response,
		timeout:  DefaultTimeout,
		log:      slog.Default(),
		capture:  capture.NoopLogger{},
		handlers: make(map[protocol.Opcode][]*handlerEntry),
		pending:  make(map[protocol.Opcode]chan result),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = capture.NewSessionID()
	}
	s.log = s.log.With(slog.String("session", s.id))
	s.record(capture.Event{Kind: capture.KindState, State: "open"})

	go s.readLoop()
	return s
}

// ID is the session identifier used in logs and captures.
func (s *Session) ID() string { return s.id }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, or nil while it is open.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close ends the session. Pending requests fail with ErrClosed.
func (s *Session) Close() error {
	return s.shutdown(ErrClosed)
}

func (s *Session) shutdown(cause error) error {
	var err error
	s.closeOnce.Do(func() {
		s.err = cause
		close(s.done)
		if c, ok := s.rw.(io.Closer); ok {
			err = c.Close()
		}
		state := capture.Event{Kind: capture.KindState, State: "closed"}
		if !errors.Is(cause, ErrClosed) {
			s.log.Error("session ended", slog.Any("error", cause))
			state.Error = cause.Error()
		}
		s.record(state)
	})
	return err
}

func (s *Session) closedErr() error {
	if errors.Is(s.err, ErrClosed) {
		return s.err
	}
	return fmt.Errorf("%w: %w", ErrClosed, s.err)
}

// OnPacket registers h for op. The returned func removes it.
func (s *Session) OnPacket(op protocol.Opcode, h Handler) (remove func()) {
	e := &handlerEntry{fn: h}
	s.hmu.Lock()
	s.handlers[op] = append(s.handlers[op], e)
	s.hmu.Unlock()

	return func() {
		s.hmu.Lock()
		defer s.hmu.Unlock()
		hs := s.handlers[op]
		for i, x := range hs {
			if x == e {
				s.handlers[op] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

// Send frames and writes one packet.
func (s *Session) Send(op protocol.Opcode, payload []byte) error {
	frame, err := protocol.Encode(op, payload)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return s.closedErr()
	default:
	}

	s.wmu.Lock()
	_, err = s.rw.Write(frame)
	s.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write %s frame: %w", op, err)
	}

	s.record(capture.Event{Direction: capture.DirectionOut, Kind: capture.KindFrame, Opcode: uint8(op), Data: frame})
	if s.observer != nil {
		s.observer.FrameSent(op, len(frame))
	}
	s.log.Debug("frame sent", slog.String("op", op.String()), slog.Int("size", len(frame)))
	return nil
}

// Request sends op and waits for the response with the same opcode. Only one
// request per opcode may be outstanding.
func (s *Session) Request(ctx context.Context, op protocol.Opcode, payload []byte) ([]byte, error) {
	start := time.Now()
	resp, err := s.request(ctx, op, payload)
	if s.observer != nil {
		s.observer.RequestDone(op, time.Since(start), err)
	}
	return resp, err
}

func (s *Session) request(ctx context.Context, op protocol.Opcode, payload []byte) ([]byte, error) {
	ch := make(chan result, 1)

	s.pmu.Lock()
	if _, busy := s.pending[op]; busy {
		s.pmu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRequestPending, op)
	}
	s.pending[op] = ch
	s.pmu.Unlock()
	defer s.forget(op, ch)

	if err := s.Send(op, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, op, s.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, s.closedErr()
	}
}

func (s *Session) forget(op protocol.Opcode, ch chan result) {
	s.pmu.Lock()
	if s.pending[op] == ch {
		delete(s.pending, op)
	}
	s.pmu.Unlock()
}

func (s *Session) resolve(op protocol.Opcode, r result) bool {
	s.pmu.Lock()
	ch, ok := s.pending[op]
	if ok {
		delete(s.pending, op)
	}
	s.pmu.Unlock()
	if ok {
		ch <- r
	}
	return ok
}

func (s *Session) readLoop() {
	dec := protocol.NewDecoder(s.inbound)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.rw.Read(buf)
		if n > 0 {
			_, _ = dec.Write(buf[:n])
			if !s.drain(dec) {
				return
			}
		}
		if err != nil {
			if ferr := dec.Flush(); ferr != nil {
				s.decodeError(ferr)
			}
			s.shutdown(fmt.Errorf("read: %w", err))
			return
		}
	}
}

// drain dispatches every complete packet. It returns false once the stream
// is unrecoverable.
func (s *Session) drain(dec *protocol.Decoder) bool {
	for {
		p, err := dec.Next()
		switch {
		case err == nil:
			s.dispatch(p)
		case errors.Is(err, protocol.ErrIncomplete):
			return true
		case errors.Is(err, protocol.ErrChecksum):
			s.decodeError(err)
		default:
			s.decodeError(err)
			s.shutdown(err)
			return false
		}
	}
}

func (s *Session) decodeError(err error) {
	s.log.Warn("dropped inbound frame", slog.Any("error", err))
	s.record(capture.Event{Direction: capture.DirectionIn, Kind: capture.KindError, Error: err.Error()})
	if s.observer != nil {
		s.observer.DecodeError(err)
	}
}

// dispatch runs the handlers before resolving the pending request, so a
// caller of Request sees every side effect of its response.
func (s *Session) dispatch(p protocol.Packet) {
	if frame, err := protocol.Encode(p.Opcode, p.Payload); err == nil {
		s.record(capture.Event{Direction: capture.DirectionIn, Kind: capture.KindFrame, Opcode: uint8(p.Opcode), Data: frame})
		if s.observer != nil {
			s.observer.FrameReceived(p.Opcode, len(frame))
		}
	}

	s.hmu.RLock()
	hs := append([]*handlerEntry(nil), s.handlers[p.Opcode]...)
	s.hmu.RUnlock()
	for _, h := range hs {
		h.fn(p)
	}

	if p.Opcode == protocol.OpNack && len(p.Payload) == 2 {
		op, reason := protocol.Opcode(p.Payload[0]), protocol.NackReason(p.Payload[1])
		if !s.resolve(op, result{err: fmt.Errorf("%w: %s: %s", ErrRejected, op, reason)}) {
			s.log.Warn("unsolicited nack", slog.String("op", op.String()), slog.String("reason", reason.String()))
		}
		return
	}
	if !s.resolve(p.Opcode, result{payload: p.Payload}) && len(hs) == 0 {
		s.log.Debug("unsolicited packet", slog.String("op", p.Opcode.String()))
	}
}

func (s *Session) record(e capture.Event) {
	e.Timestamp = time.Now()
	e.SessionID = s.id
	s.capture.Log(e)
}
