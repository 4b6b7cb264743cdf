package field

import (
	"encoding/binary"

	"github.com/jonamat/go-afe-bms/internal/regmap"
)

// defaultWords is the factory configuration, one little-endian word per
// even EEPROM address up to 0x46.
var defaultWords = [...]uint16{
	0x1E2A, // 4.25 V OV, 1 ms charge detect
	0x1DD4, // 4.15 V OV recovery, 1 ms load detect
	0x18FF, // 2.70 V UV
	0x09FF,
	0x0E7F,
	0x0855,
	0x0DFF,
	0x07FF,
	0x0801, // OV delay 1 s
	0x0801, // UV delay 1 s
	0x0201, // open wire 1 ms
	0x44A0,
	0x480A,
	0x10C8,
	0x0A55,
	0x0D55,
	0x0011,
	0x0355,
	0x0414,
	0x0414,

	// 0x28..0x3E temperature limits
	0x0BF2, 0x0A93, 0x04B6, 0x053E,
	0x04B6, 0x053E, 0x0BF2, 0x0A93,
	0x04B6, 0x053E, 0x0BF2, 0x0A93,

	0x0625,
	0x05E6,
	0x06AA,
	0x7E01,
}

// DefaultEEPROM returns the factory default EEPROM contents.
func DefaultEEPROM() []byte {
	b := make([]byte, regmap.EEPROMSize)
	for i, w := range defaultWords {
		binary.LittleEndian.PutUint16(b[2*i:], w)
	}
	b[0x48] = 0xFA // 10 min idle/doze, 15 min sleep
	b[0x49] = 0xFF // 8 cells
	b[0x4A] = 0x01
	b[0x4B] = 0x00
	return b
}
