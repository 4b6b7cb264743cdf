package bms

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonamat/go-afe-bms/internal/emulator"
	"github.com/jonamat/go-afe-bms/internal/field"
	"github.com/jonamat/go-afe-bms/internal/protocol"
	"github.com/jonamat/go-afe-bms/internal/register"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

func attach(t *testing.T, e *emulator.Emulator, opts ...Option) *Device {
	t.Helper()
	host, dev := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- e.Serve(ctx, dev) }()

	opts = append([]Option{WithBackoff(time.Millisecond, 5*time.Millisecond, 2, false)}, opts...)
	bms := New(opts...)
	bms.Attach(host)
	t.Cleanup(func() {
		cancel()
		_ = bms.Disconnect()
		<-served
	})
	return bms
}

func TestNotConnected(t *testing.T) {
	bms := New()
	assert.False(t, bms.Connected())
	assert.Nil(t, bms.Done())
	assert.NoError(t, bms.Disconnect())

	_, err := bms.Ping(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectMissingPort(t *testing.T) {
	assert.Error(t, New().Connect("/nonexistent/tty"))
}

func TestPing(t *testing.T) {
	bms := attach(t, emulator.New(emulator.WithFirmware(3, 2)))
	assert.True(t, bms.Connected())

	fw, err := bms.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Firmware{Major: 3, Minor: 2}, fw)
	assert.Equal(t, "3.2", fw.String())
}

func TestRefreshPopulatesImage(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e)

	require.NoError(t, bms.Refresh(context.Background()))
	assert.Equal(t, e.Image().Bytes(), bms.Image().Bytes())

	v, err := bms.Driver().Read(field.OverVoltageThreshold)
	require.NoError(t, err)
	assert.InDelta(t, 4.25, v.Num, 0.01)
}

func TestRegionReads(t *testing.T) {
	e := emulator.New()
	require.NoError(t, e.Image().SetUserEEPROM([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	bms := attach(t, e)
	ctx := context.Background()

	require.NoError(t, bms.ReadEEPROM(ctx))
	assert.Equal(t, e.Image().EEPROM(), bms.Image().EEPROM())
	assert.Equal(t, make([]byte, 44), bms.Image().RAM())

	require.NoError(t, bms.ReadUserEEPROM(ctx))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, bms.Image().UserEEPROM())

	require.NoError(t, bms.RefreshRAM(ctx))
	assert.Equal(t, e.Image().RAM(), bms.Image().RAM())
}

func TestWriteEEPROM(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e)
	ctx := context.Background()

	require.NoError(t, bms.LoadDefaults())
	require.NoError(t, bms.Driver().Write(field.UnderVoltageThreshold, 2.9))
	require.NoError(t, bms.Driver().WriteDuration(field.OverVoltageDelay, 2*time.Second))
	require.NoError(t, bms.WriteEEPROM(ctx))

	v, err := e.Read(field.UnderVoltageThreshold)
	require.NoError(t, err)
	assert.InDelta(t, 2.9, v.Num, field.CellVoltageLSB)

	v, err = e.Read(field.OverVoltageDelay)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, v.Duration())
}

func TestWriteUserEEPROM(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e)

	user := []byte("pack-017")
	require.NoError(t, bms.WriteUserEEPROM(context.Background(), user))
	assert.Equal(t, user, e.Image().UserEEPROM())
	assert.Equal(t, user, bms.Image().UserEEPROM())

	assert.Error(t, bms.WriteUserEEPROM(context.Background(), []byte("short")))
}

func TestSetFETsAndStatus(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e)
	ctx := context.Background()

	require.NoError(t, bms.SetFETs(ctx, FETs{Charge: true}))

	st, err := bms.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, FETs{Charge: true}, st.FETs)
	assert.Equal(t, 8, st.NumberOfCells)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, st.ConnectedCells)
	assert.True(t, st.IsLoadPresent)
	assert.True(t, st.IsDischarging)
	assert.Equal(t, "normal", st.Mode)
	assert.Equal(t, 50.0, st.CurrentGain)
}

func TestSleep(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e)
	ctx := context.Background()

	require.NoError(t, bms.Sleep(ctx))
	v, err := e.Read(field.InSleep)
	require.NoError(t, err)
	assert.True(t, v.Bool())
}

func TestCellVoltagesFollowCellConfiguration(t *testing.T) {
	e := emulator.New()
	_, err := e.Image().Write16(0x49, 0x83, 0xFF, 0)
	require.NoError(t, err)
	bms := attach(t, e)

	cells, err := bms.GetCellVoltages(context.Background())
	require.NoError(t, err)
	require.Len(t, cells, 3)
	for _, n := range []int{1, 2, 8} {
		assert.Contains(t, cells, n)
	}
	assert.InDelta(t, 3.69, cells[1], field.CellVoltageLSB)
}

func TestGetFaults(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e)
	ctx := context.Background()

	faults, err := bms.GetFaults(ctx)
	require.NoError(t, err)
	assert.Empty(t, faults)

	require.NoError(t, e.Set(field.OVFault, 1))
	require.NoError(t, e.Set(field.OpenWireFault, 1))
	faults, err = bms.GetFaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ov_fault", "open_wire_fault"}, faults)
}

func TestGetAllData(t *testing.T) {
	bms := attach(t, emulator.New())

	data, err := bms.GetAllData(context.Background())
	require.NoError(t, err)
	require.NotNil(t, data.Status)
	assert.Len(t, data.CellVoltages, 8)
	assert.Len(t, data.Readings, field.NumIDs)
	assert.InDelta(t, 29.6, data.Pack.Voltage, 0.02)
	assert.InDelta(t, 1.5, data.Pack.Current, 0.01)
	assert.InDelta(t, 3.711, data.CellVoltageRange.HighestVoltage, field.CellVoltageLSB)
	assert.Equal(t, "V", data.Pack.XT1.Unit)
	assert.Empty(t, data.Faults)
}

func TestGetAllDataPartialFailure(t *testing.T) {
	e := emulator.New()
	_, err := e.Image().Write16(0x49, 0x00, 0xFF, 0)
	require.NoError(t, err)
	bms := attach(t, e)

	data, err := bms.GetAllData(context.Background())
	var batch *register.BatchError
	require.ErrorAs(t, err, &batch)
	assert.True(t, batch.Failed(field.CellCount))
	require.NotNil(t, data)
	assert.Nil(t, data.Status)
	assert.InDelta(t, 29.6, data.Pack.Voltage, 0.02)
}

func TestRetriesOnTimeout(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e,
		WithRetries(2),
		WithSessionOptions(transport.WithTimeout(30*time.Millisecond)))

	e.Drop(protocol.OpPing, 2)
	_, err := bms.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, e.Served(protocol.OpPing))
}

func TestRetriesExhausted(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e,
		WithRetries(1),
		WithSessionOptions(transport.WithTimeout(20*time.Millisecond)))

	e.Drop(protocol.OpPing, 5)
	_, err := bms.Ping(context.Background())
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Contains(t, err.Error(), "after 2 tries")
	assert.Equal(t, 2, e.Served(protocol.OpPing))
}

func TestLateResponseCompletesRetry(t *testing.T) {
	host, dev := net.Pipe()
	bms := New(
		WithRetries(2),
		WithBackoff(300*time.Millisecond, 300*time.Millisecond, 2, false),
		WithSessionOptions(transport.WithTimeout(30*time.Millisecond)))
	bms.Attach(host)
	t.Cleanup(func() {
		_ = bms.Disconnect()
		_ = dev.Close()
	})

	requests := make(chan protocol.Opcode, 4)
	go func() {
		for n := 0; ; n++ {
			p, err := protocol.ReadPacket(dev, protocol.Request)
			if err != nil {
				return
			}
			requests <- p.Opcode
			if n == 0 {
				time.Sleep(80 * time.Millisecond)
				frame, err := protocol.Encode(protocol.OpPing, []byte{1, 2})
				if assert.NoError(t, err) {
					_, _ = dev.Write(frame)
				}
			}
		}
	}()

	start := time.Now()
	fw, err := bms.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Firmware{Major: 1, Minor: 2}, fw)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Len(t, requests, 1)
}

func TestRejectedIsNotRetried(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e)

	e.Reject(protocol.OpSleep, protocol.NackBusy)
	err := bms.Sleep(context.Background())
	assert.ErrorIs(t, err, transport.ErrRejected)
	assert.Equal(t, 1, e.Served(protocol.OpSleep))
}

func TestAttachReplacesSession(t *testing.T) {
	e := emulator.New()
	bms := attach(t, e)
	first := bms.Done()

	host, dev := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Serve(ctx, dev) }()
	bms.Attach(host)

	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("previous session still open")
	}
	_, err := bms.Ping(context.Background())
	assert.NoError(t, err)
}
