// Package capture records the frames exchanged with the AFE.
//
// It is separate from operational logging (slog): a capture is a complete,
// machine-readable trace of one or more sessions that afectl can print and filter.
//
//	// console while developing
//	var logger capture.Logger = capture.NewSlogAdapter(slog.Default())
//
//	// binary file, readable with `afectl capture`
//	file, _ := capture.NewFileLogger("/var/log/afe/session.cap")
//
//	// both
//	logger = capture.NewMultiLogger(logger, file)
//
// Capture files are a stream of CBOR-encoded Events.
package capture

import "github.com/google/uuid"

// Logger receives capture events. Implementations must be safe for
// concurrent use and must not block for long.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

// MultiLogger fans events out to several loggers.
type MultiLogger struct {
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.New().String()
}
