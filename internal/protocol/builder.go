package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// PacketBuilder writes little-endian primitives into a growing buffer.
// The first failed write is remembered; later writes are skipped and Build
// reports that error without returning partial output.
type PacketBuilder struct {
	buf bytes.Buffer
	err error
}

// NewPacketBuilder creates a builder with room for size bytes.
func NewPacketBuilder(size int) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.Grow(size)
	return b
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
	b.err = nil
}

func (b *PacketBuilder) put(v any) *PacketBuilder {
	if b.err != nil {
		return b
	}
	if err := binary.Write(&b.buf, binary.LittleEndian, v); err != nil {
		b.err = fmt.Errorf("failed to write %T: %w", v, err)
	}
	return b
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v uint8) *PacketBuilder {
	if b.err == nil {
		b.buf.WriteByte(v)
	}
	return b
}

// WriteInt8 writes a signed byte.
func (b *PacketBuilder) WriteInt8(v int8) *PacketBuilder {
	return b.WriteUint8(uint8(v))
}

// WriteBool writes 1 for true and 0 for false.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	return b.put(v)
}

// WriteInt16 writes an int16 in little-endian order.
func (b *PacketBuilder) WriteInt16(v int16) *PacketBuilder {
	return b.put(v)
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	return b.put(v)
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	return b.put(v)
}

// WriteInt32Array writes each element as a little-endian int32, back to back.
func (b *PacketBuilder) WriteInt32Array(values []int32) *PacketBuilder {
	for _, v := range values {
		b.WriteInt32(v)
	}
	return b
}

// WriteFixedString writes s into a slot of exactly size bytes, padding the
// remainder with zeros. Text longer than the slot is an error, never truncated.
func (b *PacketBuilder) WriteFixedString(s string, size int) *PacketBuilder {
	if b.err != nil {
		return b
	}
	if err := checkFixedString(s, size); err != nil {
		b.err = err
		return b
	}
	b.buf.WriteString(s)
	for i := len(s); i < size; i++ {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	if b.err == nil {
		b.buf.Write(data)
	}
	return b
}

// Err returns the first write error, if any.
func (b *PacketBuilder) Err() error {
	return b.err
}

// Len returns the number of bytes written so far.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// Build returns a copy of the written bytes, or the first write error.
func (b *PacketBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out, nil
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

func checkFixedString(s string, size int) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidEncoding)
	}
	// A NUL would be read back as the end of the string.
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: contains NUL byte", ErrInvalidEncoding)
	}
	if len(s) > size {
		return fmt.Errorf("%w: %d bytes into %d-byte slot", ErrFieldTooLong, len(s), size)
	}
	return nil
}
