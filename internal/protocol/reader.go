package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// PacketReader reads little-endian primitives at sequential offsets.
// Like PacketBuilder, the first failure sticks and later reads return zero values.
type PacketReader struct {
	data []byte
	off  int
	err  error
}

// NewPacketReader creates a reader over data. The slice is not retained past
// the reads; strings are copied out.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{data: data}
}

func (r *PacketReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedBuffer, n, r.off, len(r.data)-r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// ReadUint8 reads one byte.
func (r *PacketReader) ReadUint8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadInt8 reads one signed byte.
func (r *PacketReader) ReadInt8() int8 {
	return int8(r.ReadUint8())
}

// ReadBool reads one byte; any nonzero value is true.
func (r *PacketReader) ReadBool() bool {
	return r.ReadUint8() != 0
}

// ReadUint16 reads a little-endian uint16.
func (r *PacketReader) ReadUint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// ReadInt16 reads a little-endian int16.
func (r *PacketReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// ReadUint32 reads a little-endian uint32.
func (r *PacketReader) ReadUint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadInt32 reads a little-endian int32.
func (r *PacketReader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

// ReadInt32Array reads n consecutive int32 values. It returns nil on failure.
func (r *PacketReader) ReadInt32Array(n int) []int32 {
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.err = fmt.Errorf("%w: negative array length %d at offset %d", ErrTruncatedBuffer, n, r.off)
		return nil
	}
	if len(r.data)-r.off < n*4 {
		r.next(n * 4)
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = r.ReadInt32()
	}
	return out
}

// ReadFixedString reads a size-byte slot and strips the zero padding.
func (r *PacketReader) ReadFixedString(size int) string {
	b := r.next(size)
	if b == nil {
		return ""
	}
	b = bytes.TrimRight(b, "\x00")
	if !utf8.Valid(b) {
		r.err = fmt.Errorf("%w: %d-byte slot at offset %d is not valid UTF-8", ErrInvalidEncoding, size, r.off-size)
		return ""
	}
	return string(b)
}

// Skip advances past n bytes.
func (r *PacketReader) Skip(n int) {
	r.next(n)
}

// Remaining returns the number of unread bytes.
func (r *PacketReader) Remaining() int {
	return len(r.data) - r.off
}

// Offset returns the current read position.
func (r *PacketReader) Offset() int {
	return r.off
}

// Err returns the first read error, if any.
func (r *PacketReader) Err() error {
	return r.err
}
