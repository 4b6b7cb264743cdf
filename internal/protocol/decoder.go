package protocol

import "fmt"

// Decoder reassembles frames from arbitrary chunks of a byte stream. It is
// not safe for concurrent use.
type Decoder struct {
	dir Direction
	buf []byte
}

// NewDecoder returns a decoder for frames travelling in dir.
func NewDecoder(dir Direction) *Decoder {
	return &Decoder{dir: dir}
}

// Write appends stream bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered is the number of bytes waiting to be decoded.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Reset drops any buffered bytes.
func (d *Decoder) Reset() { d.buf = d.buf[:0] }

// Next decodes the next complete frame.
//
// It returns ErrIncomplete when more bytes are needed. A frame whose only
// damage is its opcode byte is reported as ErrChecksum and skipped whole.
// On any other ErrChecksum the bad frame's first byte is dropped and the
// buffer is advanced to the next byte that is a known opcode, so the caller
// can keep calling Next. An unknown opcode is only reported once a frame of
// every length has been ruled out; the whole buffer is then dropped.
func (d *Decoder) Next() (Packet, error) {
	if len(d.buf) == 0 {
		return Packet{}, ErrIncomplete
	}
	c, ok := Lookup(Opcode(d.buf[0]))
	if !ok {
		if m, ok := misframed(d.buf, d.dir); ok {
			return Packet{}, d.skipMisframed(m)
		}
		if len(d.buf) < MaxFrameLength(d.dir) {
			return Packet{}, ErrIncomplete
		}
		op := d.buf[0]
		d.Reset()
		return Packet{}, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, op)
	}
	n := c.FrameLength(d.dir)
	if len(d.buf) < n {
		return Packet{}, ErrIncomplete
	}

	if Checksum(d.buf[:n-1]) != d.buf[n-1] {
		if m, ok := misframed(d.buf[:n], d.dir); ok {
			return Packet{}, d.skipMisframed(m)
		}
		d.resync()
		return Packet{}, fmt.Errorf("%w: %s", ErrChecksum, c.Name)
	}

	p := Packet{Opcode: c.Opcode, Payload: append([]byte(nil), d.buf[1:n-1]...)}
	d.consume(n)
	return p, nil
}

// Flush reports what is left in the buffer once the stream has ended and
// empties it. It returns nil when nothing was buffered.
func (d *Decoder) Flush() error {
	if len(d.buf) == 0 {
		return nil
	}
	defer d.Reset()
	if m, ok := misframed(d.buf, d.dir); ok {
		return fmt.Errorf("%w: %s frame with opcode byte 0x%02X", ErrChecksum, m.Name, d.buf[0])
	}
	c, ok := Lookup(Opcode(d.buf[0]))
	if !ok {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, d.buf[0])
	}
	return fmt.Errorf("%w: %s", ErrIncomplete, c.Name)
}

func (d *Decoder) skipMisframed(m Command) error {
	op := d.buf[0]
	d.consume(m.FrameLength(d.dir))
	return fmt.Errorf("%w: %s frame with opcode byte 0x%02X", ErrChecksum, m.Name, op)
}

func (d *Decoder) resync() {
	i := 1
	for i < len(d.buf) && !Known(d.buf[i]) {
		i++
	}
	d.consume(i)
}

func (d *Decoder) consume(n int) {
	d.buf = append(d.buf[:0], d.buf[n:]...)
}
