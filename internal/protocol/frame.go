package protocol

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/sigurn/crc8"
)

// Framing errors.
var (
	// ErrChecksum indicates a frame whose CRC does not match its contents.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrIncomplete indicates more bytes are needed to finish a frame.
	ErrIncomplete = errors.New("incomplete frame")

	// ErrUnknownOpcode indicates a byte at a frame boundary that is not in
	// the command catalog. The stream cannot be resynchronised after it.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrPayloadLength indicates a payload whose size does not match the
	// catalog.
	ErrPayloadLength = errors.New("payload length mismatch")
)

// CRC-8, polynomial 0x07, initial value 0, no reflection.
var crcTable = crc8.MakeTable(crc8.CRC8)

// Checksum returns the CRC-8 of b.
func Checksum(b []byte) byte {
	return crc8.Checksum(b, crcTable)
}

// Packet is one decoded frame.
type Packet struct {
	Opcode  Opcode
	Payload []byte
}

// Encode frames payload for op. The payload must match the request or the
// response length of the command.
func Encode(op Opcode, payload []byte) ([]byte, error) {
	c, ok := Lookup(op)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(op))
	}
	if len(payload) != c.RequestLength && len(payload) != c.ResponseLength {
		return nil, fmt.Errorf("%w: %s: %d bytes", ErrPayloadLength, c.Name, len(payload))
	}
	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, byte(op))
	frame = append(frame, payload...)
	return append(frame, Checksum(frame)), nil
}

// ReadPacket reads exactly one frame from r. A stream that ends before the
// first byte returns io.EOF; one that ends inside a frame returns
// ErrIncomplete. A frame whose only damage is its opcode byte is consumed
// and reported as ErrChecksum. An unknown opcode that no frame length
// explains returns ErrUnknownOpcode after reading up to the longest frame.
func ReadPacket(r io.Reader, dir Direction) (Packet, error) {
	var head [1]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Packet{}, err
	}
	c, ok := Lookup(Opcode(head[0]))
	if !ok {
		return Packet{}, readMisframed(r, head[0], dir)
	}

	frame := make([]byte, c.FrameLength(dir))
	frame[0] = head[0]
	if k, err := io.ReadFull(r, frame[1:]); err != nil {
		if !errors.Is(err, io.ErrUnexpectedEOF) && err != io.EOF {
			return Packet{}, fmt.Errorf("failed to read %s frame: %w", c.Name, err)
		}
		if m, ok := misframed(frame[:1+k], dir); ok {
			return Packet{}, fmt.Errorf("%w: %s frame with opcode byte 0x%02X", ErrChecksum, m.Name, head[0])
		}
		return Packet{}, fmt.Errorf("%w: %s", ErrIncomplete, c.Name)
	}

	n := len(frame) - 1
	if Checksum(frame[:n]) != frame[n] {
		return Packet{}, fmt.Errorf("%w: %s", ErrChecksum, c.Name)
	}
	return Packet{Opcode: c.Opcode, Payload: frame[1:n]}, nil
}

// readMisframed grows a frame that starts with an unknown opcode one frame
// length at a time until some catalog opcode explains it.
func readMisframed(r io.Reader, op byte, dir Direction) error {
	frame := []byte{op}
	for _, n := range frameLengths(dir) {
		if n <= len(frame) {
			continue
		}
		more := make([]byte, n-len(frame))
		k, err := io.ReadFull(r, more)
		frame = append(frame, more[:k]...)
		if m, ok := misframed(frame, dir); ok {
			return fmt.Errorf("%w: %s frame with opcode byte 0x%02X", ErrChecksum, m.Name, op)
		}
		if err != nil {
			if !errors.Is(err, io.ErrUnexpectedEOF) && err != io.EOF {
				return fmt.Errorf("failed to read frame: %w", err)
			}
			break
		}
	}
	return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, op)
}

// misframed looks for the shortest frame at the start of b that carries a
// valid checksum once its first byte is replaced by a different catalog
// opcode. That is the footprint of a frame damaged only in its opcode byte.
func misframed(b []byte, dir Direction) (Command, bool) {
	var (
		best  Command
		found bool
	)
	for _, c := range commands {
		n := c.FrameLength(dir)
		if n > len(b) || Opcode(b[0]) == c.Opcode {
			continue
		}
		if found && n >= best.FrameLength(dir) {
			continue
		}
		body := append([]byte{byte(c.Opcode)}, b[1:n-1]...)
		if Checksum(body) == b[n-1] {
			best, found = c, true
		}
	}
	return best, found
}

// frameLengths lists the distinct frame lengths in dir, shortest first.
func frameLengths(dir Direction) []int {
	out := make([]int, 0, len(commands))
	for _, c := range commands {
		out = append(out, c.FrameLength(dir))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
