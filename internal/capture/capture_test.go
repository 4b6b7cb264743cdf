package capture

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Log(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func frameEvent(session string, dir Direction, op uint8) Event {
	return Event{
		Timestamp: time.Now(),
		SessionID: session,
		Direction: dir,
		Kind:      KindFrame,
		Opcode:    op,
		Data:      []byte{op, 0x70},
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	e := frameEvent("s1", DirectionOut, 0x10)
	data, err := EncodeEvent(e)
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))
	got.Timestamp = e.Timestamp
	assert.Equal(t, e, got)
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")

	l, err := NewFileLogger(path)
	require.NoError(t, err)
	l.Log(frameEvent("a", DirectionOut, 0x10))
	l.Log(frameEvent("a", DirectionIn, 0x10))
	l.Log(Event{Timestamp: time.Now(), SessionID: "b", Kind: KindError, Error: "checksum mismatch"})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	// ignored after close
	l.Log(frameEvent("a", DirectionOut, 0x01))

	all, err := ReadFile(path, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, KindError, all[2].Kind)
	assert.Equal(t, "checksum mismatch", all[2].Error)

	in := DirectionIn
	got, err := ReadFile(path, Filter{SessionID: "a", Direction: &in})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{0x10, 0x70}, got[0].Data)

	kind := KindError
	got, err = ReadFile(path, Filter{Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")
	for i := 0; i < 2; i++ {
		l, err := NewFileLogger(path)
		require.NoError(t, err)
		l.Log(frameEvent("x", DirectionOut, 0x01))
		require.NoError(t, l.Close())
	}
	all, err := ReadFile(path, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cap")
	l, err := NewFileLogger(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Log(frameEvent("c", DirectionIn, 0x13))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	all, err := ReadFile(path, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 200)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope"), Filter{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMultiLogger(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := NewMultiLogger(a, NoopLogger{}, b)
	m.Log(frameEvent("m", DirectionIn, 0x01))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)

	NewMultiLogger().Log(Event{})
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewSlogAdapter(logger)

	a.Log(frameEvent("s", DirectionOut, 0x10))
	a.Log(Event{SessionID: "s", Kind: KindState, State: "closed"})

	out := buf.String()
	assert.Contains(t, out, "direction=OUT")
	assert.Contains(t, out, "data=1070")
	assert.Contains(t, out, "state=closed")
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewSessionID())
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "IN", DirectionIn.String())
	assert.Equal(t, "UNKNOWN", Direction(9).String())
	assert.Equal(t, "state", KindState.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
