// Package bms is the host-side client of the AFE: it keeps a local register
// image in sync with the device over a transport session.
package bms

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/jonamat/go-afe-bms/internal/protocol"
	"github.com/jonamat/go-afe-bms/internal/register"
	"github.com/jonamat/go-afe-bms/internal/regmap"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

// ErrNotConnected is returned by device requests before Connect or Attach.
var ErrNotConnected = errors.New("device not connected")

// Device is one AFE reached over a serial link or any other stream.
type Device struct {
	img *regmap.Image
	drv *register.Driver
	log *slog.Logger

	serial         transport.SerialConfig
	requestRetries int
	backoff        backoff.Backoff
	sessionOpts    []transport.Option
	driverOpts     []register.Option

	mu      sync.Mutex
	session *transport.Session
}

type Option func(*Device)

func WithLogger(l *slog.Logger) Option {
	return func(bms *Device) { bms.log = l }
}

// WithSerialConfig sets the port parameters used by Connect. The name is
// taken from Connect's argument.
func WithSerialConfig(cfg transport.SerialConfig) Option {
	return func(bms *Device) { bms.serial = cfg }
}

// WithRetries sets how many times a timed out request is repeated.
func WithRetries(n int) Option {
	return func(bms *Device) { bms.requestRetries = n }
}

// WithBackoff sets the delay policy between retries.
func WithBackoff(minDelay, maxDelay time.Duration, factor float64, jitter bool) Option {
	return func(bms *Device) {
		bms.backoff = backoff.Backoff{Min: minDelay, Max: maxDelay, Factor: factor, Jitter: jitter}
	}
}

// WithSessionOptions is passed to every session the device opens.
func WithSessionOptions(opts ...transport.Option) Option {
	return func(bms *Device) { bms.sessionOpts = append(bms.sessionOpts, opts...) }
}

// WithDriverOptions configures the register driver, e.g. the sense resistor
// or a thermistor.
func WithDriverOptions(opts ...register.Option) Option {
	return func(bms *Device) { bms.driverOpts = append(bms.driverOpts, opts...) }
}

func New(opts ...Option) *Device {
	bms := &Device{
		img:            regmap.New(),
		log:            slog.Default(),
		serial:         transport.DefaultSerialConfig(""),
		requestRetries: 3,
		backoff: backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    2 * time.Second,
			Factor: 2,
		},
	}
	for _, o := range opts {
		o(bms)
	}
	bms.drv = register.New(bms.img, append([]register.Option{register.WithLogger(bms.log)}, bms.driverOpts...)...)
	return bms
}

// Connect opens the serial port, e.g. "/dev/ttyUSB0". Call Refresh to load
// the device memory.
func (bms *Device) Connect(serialDevicePath string) error {
	cfg := bms.serial
	cfg.Name = serialDevicePath
	port, err := transport.OpenSerial(cfg)
	if err != nil {
		return err
	}
	bms.Attach(port)
	bms.log.Info("connected", slog.String("port", serialDevicePath), slog.Int("baud", cfg.Baud))
	return nil
}

// Attach starts a session on rw, replacing any open one. Responses to the
// read commands are copied into the local image before the request returns.
func (bms *Device) Attach(rw io.ReadWriter) {
	bms.mu.Lock()
	defer bms.mu.Unlock()
	if bms.session != nil {
		_ = bms.session.Close()
	}

	opts := append([]transport.Option{transport.WithLogger(bms.log)}, bms.sessionOpts...)
	s := transport.NewSession(rw, opts...)
	bms.onRead(s, protocol.OpReadAll, bms.img.SetAll)
	bms.onRead(s, protocol.OpReadEEPROM, bms.img.SetEEPROM)
	bms.onRead(s, protocol.OpReadUserEEPROM, bms.img.SetUserEEPROM)
	bms.onRead(s, protocol.OpReadRAM, bms.img.SetRAM)
	bms.session = s
}

func (bms *Device) onRead(s *transport.Session, op protocol.Opcode, store func([]byte) error) {
	s.OnPacket(op, func(p protocol.Packet) {
		if err := store(p.Payload); err != nil {
			bms.log.Error("failed to store response", slog.String("op", op.String()), slog.Any("error", err))
		}
	})
}

// Disconnect closes the session and the port under it.
func (bms *Device) Disconnect() error {
	bms.mu.Lock()
	defer bms.mu.Unlock()
	if bms.session == nil {
		return nil
	}
	err := bms.session.Close()
	bms.session = nil
	return err
}

// Connected reports whether a session is open and has not failed.
func (bms *Device) Connected() bool {
	bms.mu.Lock()
	defer bms.mu.Unlock()
	return bms.session != nil && bms.session.Err() == nil
}

// Done is closed when the current session ends. It returns nil when the
// device is not connected.
func (bms *Device) Done() <-chan struct{} {
	bms.mu.Lock()
	defer bms.mu.Unlock()
	if bms.session == nil {
		return nil
	}
	return bms.session.Done()
}

func (bms *Device) currentSession() (*transport.Session, error) {
	bms.mu.Lock()
	defer bms.mu.Unlock()
	if bms.session == nil {
		return nil, ErrNotConnected
	}
	return bms.session, nil
}

// Image is the local copy of the device memory.
func (bms *Device) Image() *regmap.Image { return bms.img }

// Driver decodes and edits the local image.
func (bms *Device) Driver() *register.Driver { return bms.drv }
