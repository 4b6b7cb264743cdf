package regmap

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	assert.Equal(t, 128, ImageSize)
	assert.Equal(t, 84, RAMOffset)
	assert.Equal(t, 76, UserEEPROMOffset)
}

func TestIndex(t *testing.T) {
	tests := []struct {
		addr uint8
		want int
		err  bool
	}{
		{addr: 0x00, want: 0},
		{addr: 0x4B, want: 75},
		{addr: 0x4C, err: true},
		{addr: 0x4F, err: true},
		{addr: 0x50, want: 76},
		{addr: 0x57, want: 83},
		{addr: 0x58, err: true},
		{addr: 0x7F, err: true},
		{addr: 0x80, want: RAMOffset},
		{addr: 0x81, want: RAMOffset + 1},
		{addr: 0xAB, want: ImageSize - 1},
		{addr: 0xAC, err: true},
	}

	for _, tt := range tests {
		got, err := Index(tt.addr)
		if tt.err {
			assert.ErrorIs(t, err, ErrOutOfRange, "addr 0x%02X", tt.addr)
			continue
		}
		require.NoError(t, err, "addr 0x%02X", tt.addr)
		assert.Equal(t, tt.want, got, "addr 0x%02X", tt.addr)
	}
}

func TestRead16RAMTranslation(t *testing.T) {
	img := New()
	buf := make([]byte, ImageSize)
	buf[RAMOffset] = 0x34
	buf[RAMOffset+1] = 0x12
	buf[RAMOffset+2] = 0xCD
	require.NoError(t, img.SetAll(buf))

	v, err := img.Read16(0x80, 0, 0xFFFF)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)

	v, err = img.Read16(0x81, 0, 0xFFFF)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xCD12), v)
}

func TestRead16ShiftMask(t *testing.T) {
	img := New()
	eeprom := make([]byte, EEPROMSize)
	eeprom[0], eeprom[1] = 0x2A, 0x1E
	require.NoError(t, img.SetEEPROM(eeprom))

	v, err := img.Read16(0x00, 0, 0x0FFF)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0E2A), v)

	v, err = img.Read16(0x00, 12, 0x000F)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1), v)
}

func TestAccessValidation(t *testing.T) {
	img := New()

	tests := []struct {
		name  string
		addr  uint8
		shift uint8
	}{
		{"address above max", 0xAA, 0},
		{"shift above 15", 0x00, 16},
		{"reserved gap", 0x4C, 0},
		{"eeprom into reserved", 0x4B, 0},
		{"user eeprom into gap", 0x57, 0},
		{"unmapped", 0x60, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := img.Read16(tt.addr, tt.shift, 0xFFFF)
			assert.ErrorIs(t, err, ErrOutOfRange)
			_, err = img.Write16(tt.addr, 0, 0xFFFF, tt.shift)
			assert.ErrorIs(t, err, ErrOutOfRange)
		})
	}

	// Failed writes leave the image untouched.
	assert.Equal(t, make([]byte, ImageSize), img.Bytes())
}

func TestWrite16BitIsolation(t *testing.T) {
	for _, background := range []byte{0x00, 0xFF} {
		img := New()
		require.NoError(t, img.SetAll(bytes.Repeat([]byte{background}, ImageSize)))

		word, err := img.Write16(0x10, 0x0155, 0x03FF, 0)
		require.NoError(t, err)

		outside := uint16(background)<<8 | uint16(background)
		assert.Equal(t, outside&^0x03FF|0x0155, word)

		// Neighbouring bytes untouched.
		b := img.Bytes()
		assert.Equal(t, background, b[0x0F])
		assert.Equal(t, background, b[0x12])

		// Bits 10..15 keep the background.
		hi, err := img.Read16(0x10, 10, 0x3F)
		require.NoError(t, err)
		assert.Equal(t, uint16(background)&0x3F, hi)
	}
}

func TestWrite16Truncates(t *testing.T) {
	img := New()
	word, err := img.Write16(0x00, 0x1F, 0x0F, 12)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xF000), word)
}

func TestBits(t *testing.T) {
	img := New()

	require.NoError(t, img.WriteBit(0x4A, 3, true))
	on, err := img.ReadBit(0x4A, 3)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = img.ReadBit(0x4A, 2)
	require.NoError(t, err)
	assert.False(t, on)

	assert.Equal(t, byte(0x08), img.EEPROM()[0x4A])

	_, err = img.ReadBit(0x4A, 8)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, img.WriteBit(0x4A, 9, true), ErrOutOfRange)
}

func TestSetRegion(t *testing.T) {
	img := New()

	assert.ErrorIs(t, img.SetEEPROM(make([]byte, EEPROMSize-1)), ErrLengthMismatch)
	assert.ErrorIs(t, img.SetEEPROM(make([]byte, EEPROMSize+1)), ErrLengthMismatch)
	assert.ErrorIs(t, img.SetUserEEPROM(make([]byte, 9)), ErrLengthMismatch)
	assert.ErrorIs(t, img.SetRAM(nil), ErrLengthMismatch)
	assert.ErrorIs(t, img.SetAll(make([]byte, 126)), ErrLengthMismatch)
	assert.ErrorIs(t, img.SetRegion(3, []byte{1}), ErrOutOfRange)

	user := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, img.SetUserEEPROM(user))
	assert.Equal(t, user, img.UserEEPROM())

	v, err := img.Read16(0x50, 0, 0xFFFF)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), v)

	ram := bytes.Repeat([]byte{0xAA}, RAMSize)
	require.NoError(t, img.SetRAM(ram))
	assert.Equal(t, ram, img.RAM())
	assert.Equal(t, make([]byte, EEPROMSize), img.EEPROM())
}

func TestSnapshotsAreCopies(t *testing.T) {
	img := New()
	b := img.EEPROM()
	b[0] = 0xFF
	assert.Equal(t, byte(0), img.EEPROM()[0])
}

func TestConcurrentWritersDisjointBits(t *testing.T) {
	img := New()

	var wg sync.WaitGroup
	for bit := uint8(0); bit < 16; bit++ {
		wg.Add(1)
		go func(bit uint8) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := img.Write16(0x20, 1, 0x1, bit)
				assert.NoError(t, err)
			}
		}(bit)
	}
	wg.Wait()

	v, err := img.Read16(0x20, 0, 0xFFFF)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), v)
}
