// Package regmap holds the host-side copy of the AFE memory: EEPROM, user
// EEPROM and RAM stored back to back in one byte array.
package regmap

import (
	"errors"
	"fmt"
	"sync"
)

// Device memory map.
const (
	EEPROMBase = 0x00
	EEPROMSize = 76 // 0x00..0x4B

	UserEEPROMBase = 0x50
	UserEEPROMSize = 8 // 0x50..0x57

	RAMBase = 0x80
	RAMSize = 44 // 0x80..0xAB

	// Image indices of each region.
	UserEEPROMOffset = EEPROMSize
	RAMOffset        = EEPROMSize + UserEEPROMSize

	ImageSize = EEPROMSize + UserEEPROMSize + RAMSize

	// MaxAddress is the highest address a 16-bit word access may start at.
	MaxAddress = 0xA9
	MaxShift   = 15
	MaxBit     = 7
)

var (
	// ErrOutOfRange reports an address, shift or bit outside the device limits.
	ErrOutOfRange = errors.New("out of range")

	// ErrLengthMismatch reports a bulk write whose size differs from the region.
	ErrLengthMismatch = errors.New("length mismatch")
)

// Region identifies one of the three device address spaces.
type Region uint8

const (
	RegionNone Region = iota
	RegionEEPROM
	RegionUserEEPROM
	RegionRAM
)

func (r Region) String() string {
	switch r {
	case RegionEEPROM:
		return "eeprom"
	case RegionUserEEPROM:
		return "user_eeprom"
	case RegionRAM:
		return "ram"
	default:
		return "none"
	}
}

// RegionOf returns the region a device address belongs to, or RegionNone for
// the reserved and unmapped gaps.
func RegionOf(addr uint8) Region {
	switch {
	case addr < EEPROMBase+EEPROMSize:
		return RegionEEPROM
	case addr >= UserEEPROMBase && addr < UserEEPROMBase+UserEEPROMSize:
		return RegionUserEEPROM
	case addr >= RAMBase && addr < RAMBase+RAMSize:
		return RegionRAM
	default:
		return RegionNone
	}
}

// Index translates a device address into an image index.
func Index(addr uint8) (int, error) {
	switch RegionOf(addr) {
	case RegionEEPROM:
		return int(addr - EEPROMBase), nil
	case RegionUserEEPROM:
		return int(addr-UserEEPROMBase) + UserEEPROMOffset, nil
	case RegionRAM:
		return int(addr-RAMBase) + RAMOffset, nil
	default:
		return 0, fmt.Errorf("%w: address 0x%02X is not mapped", ErrOutOfRange, addr)
	}
}

// wordIndex validates a 16-bit access at addr and returns the image index of
// its low byte.
func wordIndex(addr uint8, shift uint8) (int, error) {
	if addr > MaxAddress {
		return 0, fmt.Errorf("%w: address 0x%02X > 0x%02X", ErrOutOfRange, addr, MaxAddress)
	}
	if shift > MaxShift {
		return 0, fmt.Errorf("%w: shift %d > %d", ErrOutOfRange, shift, MaxShift)
	}
	if RegionOf(addr) != RegionOf(addr+1) {
		return 0, fmt.Errorf("%w: word at 0x%02X crosses a region boundary", ErrOutOfRange, addr)
	}
	return Index(addr)
}

// Image is the contiguous memory image. The zero value is an all-zero image
// ready for use. Image is safe for concurrent use.
type Image struct {
	mu  sync.RWMutex
	buf [ImageSize]byte
}

// New returns an all-zero image.
func New() *Image {
	return &Image{}
}

// Read16 composes the little-endian word at addr and returns (word>>shift)&mask.
func (m *Image) Read16(addr uint8, shift uint8, mask uint16) (uint16, error) {
	idx, err := wordIndex(addr, shift)
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	word := uint16(m.buf[idx+1])<<8 | uint16(m.buf[idx])
	m.mu.RUnlock()

	return (word >> shift) & mask, nil
}

// Write16 replaces the bits (mask<<shift) of the word at addr with
// (raw&mask)<<shift and returns the updated word. Bits outside the mask are
// preserved; the read-modify-write happens under the image lock.
func (m *Image) Write16(addr uint8, raw uint16, mask uint16, shift uint8) (uint16, error) {
	idx, err := wordIndex(addr, shift)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	word := uint16(m.buf[idx+1])<<8 | uint16(m.buf[idx])
	word &^= mask << shift
	word |= (raw & mask) << shift
	m.buf[idx] = byte(word)
	m.buf[idx+1] = byte(word >> 8)
	return word, nil
}

// ReadBit reports whether bit (0..7) of the byte at addr is set.
func (m *Image) ReadBit(addr uint8, bit uint8) (bool, error) {
	if bit > MaxBit {
		return false, fmt.Errorf("%w: bit %d > %d", ErrOutOfRange, bit, MaxBit)
	}
	v, err := m.Read16(addr, bit, 0x01)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// WriteBit sets or clears bit (0..7) of the byte at addr.
func (m *Image) WriteBit(addr uint8, bit uint8, on bool) error {
	if bit > MaxBit {
		return fmt.Errorf("%w: bit %d > %d", ErrOutOfRange, bit, MaxBit)
	}
	var raw uint16
	if on {
		raw = 1
	}
	_, err := m.Write16(addr, raw, 0x01, bit)
	return err
}

// SetRegion replaces the bytes of the region starting at image index offset.
// offset must be the start of a region and b must have exactly the region's
// length.
func (m *Image) SetRegion(offset int, b []byte) error {
	var size int
	switch offset {
	case 0:
		size = EEPROMSize
	case UserEEPROMOffset:
		size = UserEEPROMSize
	case RAMOffset:
		size = RAMSize
	default:
		return fmt.Errorf("%w: offset %d is not a region start", ErrOutOfRange, offset)
	}
	return m.set(offset, size, b)
}

func (m *Image) set(offset, size int, b []byte) error {
	if len(b) != size {
		return fmt.Errorf("%w: got %d bytes, region at %d holds %d", ErrLengthMismatch, len(b), offset, size)
	}

	m.mu.Lock()
	copy(m.buf[offset:offset+size], b)
	m.mu.Unlock()
	return nil
}

func (m *Image) SetEEPROM(b []byte) error     { return m.SetRegion(0, b) }
func (m *Image) SetUserEEPROM(b []byte) error { return m.SetRegion(UserEEPROMOffset, b) }
func (m *Image) SetRAM(b []byte) error        { return m.SetRegion(RAMOffset, b) }

// SetAll replaces the whole image.
func (m *Image) SetAll(b []byte) error { return m.set(0, ImageSize, b) }

func (m *Image) slice(from, to int) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, to-from)
	copy(out, m.buf[from:to])
	return out
}

// EEPROM returns a copy of the EEPROM region.
func (m *Image) EEPROM() []byte { return m.slice(0, EEPROMSize) }

// UserEEPROM returns a copy of the user EEPROM region.
func (m *Image) UserEEPROM() []byte { return m.slice(UserEEPROMOffset, RAMOffset) }

// RAM returns a copy of the RAM region.
func (m *Image) RAM() []byte { return m.slice(RAMOffset, ImageSize) }

// Bytes returns a copy of the whole image.
func (m *Image) Bytes() []byte { return m.slice(0, ImageSize) }
