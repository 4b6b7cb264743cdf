package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonamat/go-afe-bms/internal/field"
	"github.com/jonamat/go-afe-bms/internal/protocol"
	"github.com/jonamat/go-afe-bms/internal/register"
	"github.com/jonamat/go-afe-bms/internal/regmap"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

func TestFrameCounters(t *testing.T) {
	c := New()
	c.FrameSent(protocol.OpPing, 2)
	c.FrameSent(protocol.OpPing, 2)
	c.FrameReceived(protocol.OpReadRAM, 46)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.framesSent.WithLabelValues(protocol.OpPing.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesReceived.WithLabelValues(protocol.OpReadRAM.String())))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.bytesSent))
	assert.Equal(t, 46.0, testutil.ToFloat64(c.bytesReceived))
}

func TestDecodeErrorReasons(t *testing.T) {
	c := New()
	c.DecodeError(fmt.Errorf("frame: %w", protocol.ErrChecksum))
	c.DecodeError(protocol.ErrUnknownOpcode)
	c.DecodeError(io.ErrUnexpectedEOF)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.decodeErrors.WithLabelValues("checksum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decodeErrors.WithLabelValues("unknown_opcode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decodeErrors.WithLabelValues("other")))
}

func TestRequestOutcomes(t *testing.T) {
	c := New()
	op := protocol.OpReadAll
	c.RequestDone(op, 10*time.Millisecond, nil)
	c.RequestDone(op, 2*time.Second, fmt.Errorf("%w: read_all", transport.ErrTimeout))
	c.RequestDone(op, time.Millisecond, fmt.Errorf("%w: busy", transport.ErrRejected))
	c.RequestDone(op, 0, transport.ErrClosed)

	for _, result := range []string{"ok", "timeout", "rejected", "closed"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues(op.String(), result)), result)
	}
	assert.Equal(t, 1, testutil.CollectAndCount(c.requestDuration))
}

func TestUpdateFromReadings(t *testing.T) {
	img := regmap.New()
	require.NoError(t, img.SetEEPROM(field.DefaultEEPROM()))
	d := register.New(img)

	rs, err := d.ReadGroup(field.GroupVoltageLimits)
	require.NoError(t, err)

	c := New()
	c.Update(rs, nil)

	ov, ok := rs.Get(field.OverVoltageThreshold)
	require.True(t, ok)
	f, err := field.Get(field.OverVoltageThreshold)
	require.NoError(t, err)
	assert.InDelta(t, ov.Num, testutil.ToFloat64(c.fields.WithLabelValues(f.Name, f.Group.String(), "V")), 1e-9)
	assert.Equal(t, len(rs), testutil.CollectAndCount(c.fields))
	assert.NotZero(t, testutil.ToFloat64(c.lastUpdate))
}

func TestTimedFieldsReportSeconds(t *testing.T) {
	img := regmap.New()
	require.NoError(t, img.SetEEPROM(field.DefaultEEPROM()))
	d := register.New(img)
	c := New()

	rs, err := d.ReadGroup(field.GroupTiming)
	require.NoError(t, err)
	c.Update(rs, nil)
	series := testutil.CollectAndCount(c.fields)
	delay := c.fields.WithLabelValues("overvoltage_delay", field.GroupTiming.String(), "s")
	assert.InDelta(t, 1.0, testutil.ToFloat64(delay), 1e-9)

	// Switching the unit selector keeps the same series.
	require.NoError(t, d.WriteDuration(field.OverVoltageDelay, 250*time.Millisecond))
	rs, err = d.ReadGroup(field.GroupTiming)
	require.NoError(t, err)
	c.Update(rs, nil)
	assert.Equal(t, series, testutil.CollectAndCount(c.fields))
	assert.InDelta(t, 0.25, testutil.ToFloat64(delay), 1e-9)
}

func TestUpdateCountsFieldErrors(t *testing.T) {
	c := New()
	err := &register.BatchError{Errs: []*register.FieldError{
		{Field: field.CellCount, Err: field.ErrUnmappedCode},
	}}
	c.Update(nil, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fieldErrors.WithLabelValues(field.CellCount.String())))
}

func TestHandlerServesRegistry(t *testing.T) {
	c := New()
	c.SetConnected(true)
	c.FrameSent(protocol.OpPing, 2)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "afe_connected 1")
	assert.Contains(t, string(body), `afe_frames_sent_total{op="ping"} 1`)
}
