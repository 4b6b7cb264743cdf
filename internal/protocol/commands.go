// Package protocol implements the host <-> AFE command frames: a fixed
// catalog of opcodes, each with a known payload length per direction,
// followed by a CRC-8.
package protocol

import "fmt"

// Opcode identifies a command on the wire.
type Opcode uint8

// Command opcodes.
const (
	OpPing            Opcode = 0x01
	OpReadAll         Opcode = 0x10
	OpReadEEPROM      Opcode = 0x11
	OpReadUserEEPROM  Opcode = 0x12
	OpReadRAM         Opcode = 0x13
	OpWriteEEPROM     Opcode = 0x20
	OpWriteUserEEPROM Opcode = 0x21
	OpFETControl      Opcode = 0x30
	OpSleep           Opcode = 0x31
	OpNack            Opcode = 0x7F
)

// FET control payload bits.
const (
	FETDischarge byte = 1 << 0
	FETCharge    byte = 1 << 1
	FETPrecharge byte = 1 << 2
)

// Direction selects which payload length of a command applies.
type Direction uint8

const (
	// Request frames travel host -> device.
	Request Direction = iota
	// Response frames travel device -> host.
	Response
)

func (d Direction) String() string {
	if d == Response {
		return "response"
	}
	return "request"
}

// Command describes one opcode. The catalog is static.
type Command struct {
	Opcode         Opcode
	Name           string
	RequestLength  int
	ResponseLength int
	Description    string
}

// Length returns the payload length for dir.
func (c Command) Length(dir Direction) int {
	if dir == Response {
		return c.ResponseLength
	}
	return c.RequestLength
}

// FrameLength is opcode + payload + checksum.
func (c Command) FrameLength(dir Direction) int {
	return 1 + c.Length(dir) + 1
}

var commands = [...]Command{
	{OpPing, "ping", 0, 2, "firmware version (major, minor)"},
	{OpReadAll, "read_all", 0, 128, "full memory image"},
	{OpReadEEPROM, "read_eeprom", 0, 76, "configuration EEPROM"},
	{OpReadUserEEPROM, "read_user_eeprom", 0, 8, "user EEPROM"},
	{OpReadRAM, "read_ram", 0, 44, "status and measurement RAM"},
	{OpWriteEEPROM, "write_eeprom", 76, 0, "replace configuration EEPROM"},
	{OpWriteUserEEPROM, "write_user_eeprom", 8, 0, "replace user EEPROM"},
	{OpFETControl, "fet_control", 1, 0, "drive DFET/CFET/PCFET"},
	{OpSleep, "sleep", 0, 0, "enter sleep mode"},
	{OpNack, "nack", 2, 2, "command rejected (opcode, reason)"},
}

var byOpcode = func() (m [256]*Command) {
	for i := range commands {
		m[commands[i].Opcode] = &commands[i]
	}
	return m
}()

// Lookup returns the catalog entry for op.
func Lookup(op Opcode) (Command, bool) {
	c := byOpcode[op]
	if c == nil {
		return Command{}, false
	}
	return *c, true
}

// Known reports whether b is a catalog opcode.
func Known(b byte) bool { return byOpcode[b] != nil }

// MaxFrameLength is the longest frame travelling in dir.
func MaxFrameLength(dir Direction) int {
	n := 0
	for _, c := range commands {
		n = max(n, c.FrameLength(dir))
	}
	return n
}

// Commands returns the catalog in opcode order.
func Commands() []Command {
	out := make([]Command, len(commands))
	copy(out, commands[:])
	return out
}

func (o Opcode) String() string {
	if c := byOpcode[o]; c != nil {
		return c.Name
	}
	return fmt.Sprintf("opcode(0x%02X)", uint8(o))
}

// NackReason is the second byte of a nack payload.
type NackReason byte

const (
	NackChecksum    NackReason = 0x01
	NackLength      NackReason = 0x02
	NackUnsupported NackReason = 0x03
	NackBusy        NackReason = 0x04
	NackWriteFailed NackReason = 0x05
)

func (r NackReason) String() string {
	switch r {
	case NackChecksum:
		return "checksum"
	case NackLength:
		return "length"
	case NackUnsupported:
		return "unsupported"
	case NackBusy:
		return "busy"
	case NackWriteFailed:
		return "write failed"
	}
	return fmt.Sprintf("reason(0x%02X)", byte(r))
}
