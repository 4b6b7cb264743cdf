// Package emulator answers the AFE command set from an in-memory register
// image. It serves the device end of a stream: the host side of tests and
// `afectl simulate` talk to it exactly as they would to the board.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jonamat/go-afe-bms/internal/field"
	"github.com/jonamat/go-afe-bms/internal/protocol"
	"github.com/jonamat/go-afe-bms/internal/register"
	"github.com/jonamat/go-afe-bms/internal/regmap"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

// RAM bits the emulator drives itself.
const (
	operatingStatusAddr = 0x83
	sleepBit            = 6
	fetStatusAddr       = 0x86
	fetMask             = protocol.FETDischarge | protocol.FETCharge | protocol.FETPrecharge
)

var errUnsupported = errors.New("unsupported request")

// Emulator is a simulated AFE. It is safe for concurrent use; one Emulator
// may serve several streams, all sharing the same image.
type Emulator struct {
	img   *regmap.Image
	drv   *register.Driver
	sense float64
	log   *slog.Logger

	major, minor byte

	mu     sync.Mutex
	drop   map[protocol.Opcode]int
	reject map[protocol.Opcode]protocol.NackReason
	served map[protocol.Opcode]int
}

type Option func(*Emulator)

func WithLogger(l *slog.Logger) Option {
	return func(e *Emulator) { e.log = l }
}

// WithFirmware sets the version answered to ping.
func WithFirmware(major, minor byte) Option {
	return func(e *Emulator) { e.major, e.minor = major, minor }
}

// WithSenseResistor sets the shunt used to encode the simulated current.
func WithSenseResistor(ohms float64) Option {
	return func(e *Emulator) { e.sense = ohms }
}

// New returns an emulator loaded with the default EEPROM and a resting
// eight-cell pack.
func New(opts ...Option) *Emulator {
	e := &Emulator{
		img:    regmap.New(),
		sense:  0.001,
		log:    slog.Default(),
		major:  1,
		minor:  0,
		drop:   make(map[protocol.Opcode]int),
		reject: make(map[protocol.Opcode]protocol.NackReason),
		served: make(map[protocol.Opcode]int),
	}
	for _, o := range opts {
		o(e)
	}
	e.drv = register.New(e.img, register.WithSenseResistor(e.sense), register.WithLogger(e.log))

	if err := e.img.SetEEPROM(field.DefaultEEPROM()); err != nil {
		panic(err)
	}
	if err := e.rest(); err != nil {
		panic(err)
	}
	return e
}

// rest fills RAM with a healthy idle pack.
func (e *Emulator) rest() error {
	cells := []field.ID{
		field.Cell1Voltage, field.Cell2Voltage, field.Cell3Voltage, field.Cell4Voltage,
		field.Cell5Voltage, field.Cell6Voltage, field.Cell7Voltage, field.Cell8Voltage,
	}
	for i, id := range cells {
		if err := e.Set(id, 3.69+0.003*float64(i)); err != nil {
			return err
		}
	}
	values := []struct {
		id field.ID
		v  float64
	}{
		{field.CellMinVoltage, 3.69},
		{field.CellMaxVoltage, 3.711},
		{field.PackVoltage, 29.6},
		{field.VRGOVoltage, 2.5},
		{field.InternalTemperature, 25},
		{field.XT1Voltage, 0.6},
		{field.XT2Voltage, 0.6},
		{field.CurrentGain, 50},
		{field.PackCurrent, 1.5},
		{field.DischargeFETOn, 1},
		{field.ChargeFETOn, 1},
		{field.LoadPresent, 1},
		{field.Discharging, 1},
	}
	for _, x := range values {
		if err := e.Set(x.id, x.v); err != nil {
			return err
		}
	}
	return nil
}

// Image is the emulator's register image.
func (e *Emulator) Image() *regmap.Image { return e.img }

// Read decodes a field from the emulator's image.
func (e *Emulator) Read(id field.ID) (register.Value, error) { return e.drv.Read(id) }

// Set stores an engineering value in any field, RAM included. Current
// values are encoded with the gain currently in the image.
func (e *Emulator) Set(id field.ID, v float64) error {
	f, err := field.Get(id)
	if err != nil {
		return err
	}
	deps := field.Deps{SenseResistor: e.sense}
	if f.DependsOnGain {
		if deps.Gain, err = e.drv.Gain(); err != nil {
			return err
		}
	}
	raw, err := f.Encode(v, deps)
	if err != nil {
		return err
	}
	_, err = e.img.Write16(f.Address, raw, f.Mask, f.Shift)
	return err
}

// Drop makes the emulator ignore the next n requests for op.
func (e *Emulator) Drop(op protocol.Opcode, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drop[op] += n
}

// Reject nacks the next request for op with reason.
func (e *Emulator) Reject(op protocol.Opcode, reason protocol.NackReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reject[op] = reason
}

// Served counts the requests received for op, dropped ones included.
func (e *Emulator) Served(op protocol.Opcode) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.served[op]
}

// Serve answers requests on rw until ctx is done or the stream fails. It
// returns nil when ctx ends the session.
func (e *Emulator) Serve(ctx context.Context, rw io.ReadWriter, opts ...transport.Option) error {
	opts = append([]transport.Option{
		transport.WithDirection(protocol.Request),
		transport.WithLogger(e.log),
	}, opts...)
	s := transport.NewSession(rw, opts...)

	for _, c := range protocol.Commands() {
		if c.Opcode == protocol.OpNack {
			continue
		}
		s.OnPacket(c.Opcode, func(p protocol.Packet) { e.handle(s, p) })
	}
	s.OnPacket(protocol.OpNack, func(p protocol.Packet) {
		e.log.Warn("host sent nack", slog.Any("payload", p.Payload))
	})

	select {
	case <-ctx.Done():
		_ = s.Close()
		return nil
	case <-s.Done():
		return s.Err()
	}
}

func (e *Emulator) handle(s *transport.Session, p protocol.Packet) {
	e.mu.Lock()
	e.served[p.Opcode]++
	if n := e.drop[p.Opcode]; n > 0 {
		e.drop[p.Opcode] = n - 1
		e.mu.Unlock()
		e.log.Debug("dropping request", slog.String("op", p.Opcode.String()))
		return
	}
	reason, rejected := e.reject[p.Opcode]
	delete(e.reject, p.Opcode)
	e.mu.Unlock()

	if rejected {
		e.nack(s, p.Opcode, reason)
		return
	}

	resp, err := e.respond(p)
	if err != nil {
		e.log.Warn("request failed", slog.String("op", p.Opcode.String()), slog.Any("error", err))
		reason := protocol.NackWriteFailed
		if errors.Is(err, errUnsupported) {
			reason = protocol.NackUnsupported
		}
		e.nack(s, p.Opcode, reason)
		return
	}
	if err := s.Send(p.Opcode, resp); err != nil {
		e.log.Warn("failed to send response", slog.String("op", p.Opcode.String()), slog.Any("error", err))
	}
}

func (e *Emulator) nack(s *transport.Session, op protocol.Opcode, reason protocol.NackReason) {
	if err := s.Send(protocol.OpNack, []byte{byte(op), byte(reason)}); err != nil {
		e.log.Warn("failed to send nack", slog.Any("error", err))
	}
}

func (e *Emulator) respond(p protocol.Packet) ([]byte, error) {
	// Any traffic other than a sleep command wakes the device.
	if p.Opcode != protocol.OpSleep {
		if err := e.img.WriteBit(operatingStatusAddr, sleepBit, false); err != nil {
			return nil, err
		}
	}

	switch p.Opcode {
	case protocol.OpPing:
		return []byte{e.major, e.minor}, nil
	case protocol.OpReadAll:
		return e.img.Bytes(), nil
	case protocol.OpReadEEPROM:
		return e.img.EEPROM(), nil
	case protocol.OpReadUserEEPROM:
		return e.img.UserEEPROM(), nil
	case protocol.OpReadRAM:
		return e.img.RAM(), nil
	case protocol.OpWriteEEPROM:
		return nil, e.img.SetEEPROM(p.Payload)
	case protocol.OpWriteUserEEPROM:
		return nil, e.img.SetUserEEPROM(p.Payload)
	case protocol.OpFETControl:
		bits := p.Payload[0]
		if bits&^fetMask != 0 {
			return nil, fmt.Errorf("%w: FET bits 0x%02X", errUnsupported, bits)
		}
		return nil, e.setFETs(bits)
	case protocol.OpSleep:
		if err := e.setFETs(0); err != nil {
			return nil, err
		}
		return nil, e.img.WriteBit(operatingStatusAddr, sleepBit, true)
	}
	return nil, fmt.Errorf("%w: %s", errUnsupported, p.Opcode)
}

func (e *Emulator) setFETs(bits byte) error {
	_, err := e.img.Write16(fetStatusAddr, uint16(bits), uint16(fetMask), 0)
	return err
}
