package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig selects and configures a serial port. The line is always
// 8N1.
type SerialConfig struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// DefaultSerialConfig returns 9600 baud with a 100ms read timeout.
func DefaultSerialConfig(name string) SerialConfig {
	return SerialConfig{
		Name:        name,
		Baud:        9600,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// OpenSerial opens the port for use with NewSession.
func OpenSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	portConfig := &serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	port, err := serial.OpenPort(portConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Name, err)
	}
	return timeoutReads{port}, nil
}

// timeoutReads turns the (0, io.EOF) a serial port returns when its read
// timeout expires into an empty read, which the session ignores.
type timeoutReads struct {
	io.ReadWriteCloser
}

func (t timeoutReads) Read(b []byte) (int, error) {
	n, err := t.ReadWriteCloser.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}
