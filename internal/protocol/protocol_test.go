package protocol

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonamat/go-afe-bms/internal/regmap"
)

func TestCatalogMatchesMemoryMap(t *testing.T) {
	lengths := map[Opcode]int{
		OpReadAll:         regmap.ImageSize,
		OpReadEEPROM:      regmap.EEPROMSize,
		OpReadUserEEPROM:  regmap.UserEEPROMSize,
		OpReadRAM:         regmap.RAMSize,
		OpWriteEEPROM:     regmap.EEPROMSize,
		OpWriteUserEEPROM: regmap.UserEEPROMSize,
	}
	for op, n := range lengths {
		c, ok := Lookup(op)
		require.True(t, ok, op.String())
		assert.Equal(t, n, max(c.RequestLength, c.ResponseLength), op.String())
	}

	seen := make(map[Opcode]bool)
	for _, c := range Commands() {
		assert.False(t, seen[c.Opcode])
		seen[c.Opcode] = true
		assert.True(t, Known(byte(c.Opcode)))
		assert.Equal(t, c.Name, c.Opcode.String())
	}

	_, ok := Lookup(0x55)
	assert.False(t, ok)
	assert.Equal(t, "opcode(0x55)", Opcode(0x55).String())
}

func TestChecksumKnownVector(t *testing.T) {
	assert.Equal(t, byte(0xF4), Checksum([]byte("123456789")))
}

func TestEncode(t *testing.T) {
	frame, err := Encode(OpPing, []byte{0xAA, 0xBB})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xAA, 0xBB, 0xD9}, frame)

	frame, err = Encode(OpReadAll, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x70}, frame)

	_, err = Encode(OpFETControl, []byte{1, 2})
	assert.ErrorIs(t, err, ErrPayloadLength)

	_, err = Encode(0x55, nil)
	assert.ErrorIs(t, err, ErrUnknownOpcode)
}

func randomPayload(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestRoundTripAllCommands(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, c := range Commands() {
		for _, dir := range []Direction{Request, Response} {
			t.Run(c.Name+"/"+dir.String(), func(t *testing.T) {
				payload := randomPayload(r, c.Length(dir))
				frame, err := Encode(c.Opcode, payload)
				require.NoError(t, err)
				require.Len(t, frame, c.FrameLength(dir))

				dec := NewDecoder(dir)
				_, _ = dec.Write(frame)
				p, err := dec.Next()
				require.NoError(t, err)
				assert.Equal(t, c.Opcode, p.Opcode)
				assert.Equal(t, payload, p.Payload)
				assert.Zero(t, dec.Buffered())

				p, err = ReadPacket(bytes.NewReader(frame), dir)
				require.NoError(t, err)
				assert.Equal(t, payload, p.Payload)
			})
		}
	}
}

// Any single corrupted byte is detected, the opcode byte included. A frame
// whose opcode turned into a longer command is only caught once the stream
// ends.
func TestSingleByteCorruption(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	frame, err := Encode(OpReadEEPROM, randomPayload(r, regmap.EEPROMSize))
	require.NoError(t, err)

	for i := 0; i < len(frame); i++ {
		for _, flip := range []byte{0x01, 0x80, 0xFF, byte(r.Intn(254) + 1)} {
			bad := bytes.Clone(frame)
			bad[i] ^= flip

			dec := NewDecoder(Response)
			_, _ = dec.Write(bad)
			_, err := dec.Next()
			if i == 0 && errors.Is(err, ErrIncomplete) {
				err = dec.Flush()
			}
			assert.ErrorIs(t, err, ErrChecksum, "byte %d ^ 0x%02X", i, flip)

			_, err = ReadPacket(bytes.NewReader(bad), Response)
			assert.ErrorIs(t, err, ErrChecksum)
		}
	}
}

func TestDecoderChunked(t *testing.T) {
	frame, err := Encode(OpReadRAM, make([]byte, regmap.RAMSize))
	require.NoError(t, err)

	dec := NewDecoder(Response)
	for i, b := range frame {
		_, _ = dec.Write([]byte{b})
		p, err := dec.Next()
		if i < len(frame)-1 {
			require.ErrorIs(t, err, ErrIncomplete)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, OpReadRAM, p.Opcode)
	}

	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestDecoderResyncAfterChecksum(t *testing.T) {
	stream := []byte{
		0x01, 0xAA, 0xBB, 0xEE, // ping response, bad CRC
		0x01, 0x02, 0x05, 0x5A, // ping response, firmware 2.5
	}
	dec := NewDecoder(Response)
	_, _ = dec.Write(stream)

	_, err := dec.Next()
	require.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, 4, dec.Buffered())

	p, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, Packet{Opcode: OpPing, Payload: []byte{2, 5}}, p)
}

func TestOpcodeByteCorruption(t *testing.T) {
	frame, err := Encode(OpReadEEPROM, make([]byte, regmap.EEPROMSize))
	require.NoError(t, err)
	ping, err := Encode(OpPing, []byte{2, 5})
	require.NoError(t, err)

	tests := []struct {
		name string
		op   byte
		// flush is set when the damaged frame reads as a longer command and
		// only the end of the stream reveals it.
		flush bool
	}{
		{"unknown opcode", 0x91, false},
		{"unrelated unknown opcode", 0x55, false},
		{"shorter command", byte(OpReadRAM), false},
		{"longer command", byte(OpReadAll), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := bytes.Clone(frame)
			bad[0] = tt.op

			dec := NewDecoder(Response)
			_, _ = dec.Write(bad)
			_, err := dec.Next()
			if tt.flush {
				require.ErrorIs(t, err, ErrIncomplete)
				err = dec.Flush()
			}
			require.ErrorIs(t, err, ErrChecksum)
			assert.Zero(t, dec.Buffered())

			_, err = ReadPacket(bytes.NewReader(bad), Response)
			assert.ErrorIs(t, err, ErrChecksum)
		})
	}

	t.Run("next frame survives", func(t *testing.T) {
		bad := bytes.Clone(frame)
		bad[0] = 0x91
		dec := NewDecoder(Response)
		_, _ = dec.Write(append(bad, ping...))

		_, err := dec.Next()
		require.ErrorIs(t, err, ErrChecksum)
		assert.Contains(t, err.Error(), "read_eeprom")
		p, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, Packet{Opcode: OpPing, Payload: []byte{2, 5}}, p)

		r := bytes.NewReader(append(bad, ping...))
		_, err = ReadPacket(r, Response)
		require.ErrorIs(t, err, ErrChecksum)
		p, err = ReadPacket(r, Response)
		require.NoError(t, err)
		assert.Equal(t, OpPing, p.Opcode)
	})
}

func TestDecoderUnknownOpcode(t *testing.T) {
	dec := NewDecoder(Request)
	_, _ = dec.Write([]byte{0x55, 0x10})

	// Too short to rule out a damaged opcode byte.
	_, err := dec.Next()
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 2, dec.Buffered())

	_, _ = dec.Write(make([]byte, MaxFrameLength(Request)-2))
	_, err = dec.Next()
	require.ErrorIs(t, err, ErrUnknownOpcode)
	assert.Zero(t, dec.Buffered())

	_, _ = dec.Write([]byte{0x10, 0x70})
	p, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, OpReadAll, p.Opcode)
	assert.Empty(t, p.Payload)
}

func TestDecoderFlush(t *testing.T) {
	dec := NewDecoder(Response)
	assert.NoError(t, dec.Flush())

	_, _ = dec.Write([]byte{byte(OpPing), 0x02})
	assert.ErrorIs(t, dec.Flush(), ErrIncomplete)
	assert.Zero(t, dec.Buffered())

	_, _ = dec.Write([]byte{0x55})
	assert.ErrorIs(t, dec.Flush(), ErrUnknownOpcode)
}

func TestDecoderReset(t *testing.T) {
	dec := NewDecoder(Response)
	_, _ = dec.Write([]byte{0x01, 0x02})
	dec.Reset()
	assert.Zero(t, dec.Buffered())
}

func TestReadPacketStreamEnds(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader(nil), Response)
	assert.ErrorIs(t, err, io.EOF)

	_, err = ReadPacket(bytes.NewReader([]byte{0x01, 0x02}), Response)
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = ReadPacket(bytes.NewReader([]byte{0x55}), Response)
	assert.ErrorIs(t, err, ErrUnknownOpcode)

	// Two frames back to back.
	r := bytes.NewReader([]byte{0x7F, 0x20, 0x03, 0x87, 0x31, Checksum([]byte{0x31})})
	p, err := ReadPacket(r, Response)
	require.NoError(t, err)
	assert.Equal(t, Packet{Opcode: OpNack, Payload: []byte{byte(OpWriteEEPROM), byte(NackUnsupported)}}, p)
	p, err = ReadPacket(r, Response)
	require.NoError(t, err)
	assert.Equal(t, OpSleep, p.Opcode)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "unsupported", NackUnsupported.String())
	assert.Equal(t, "reason(0x42)", NackReason(0x42).String())
	assert.Equal(t, "response", Response.String())
}
