package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Header precedes every payload on the wire.
//
//	[0:16]  client identifier
//	[16:18] packet type (LE)
//	[18:20] payload length (LE)
type Header struct {
	ID   uuid.UUID
	Type PacketType
	Size uint16
}

// NewIdentifier builds a 16-byte identifier from raw bytes, zero-padding
// short input. Input longer than 16 bytes is rejected.
func NewIdentifier(b []byte) (uuid.UUID, error) {
	var id uuid.UUID
	if len(b) > IDSize {
		return id, fmt.Errorf("%w: got %d bytes", ErrIdentifierOverflow, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MarshalBinary encodes the header into its 20-byte form.
func (h Header) MarshalBinary() ([]byte, error) {
	out := make([]byte, HeaderSize)
	h.put(out)
	return out, nil
}

func (h Header) put(out []byte) {
	copy(out[:IDSize], h.ID[:])
	binary.LittleEndian.PutUint16(out[IDSize:], uint16(h.Type))
	binary.LittleEndian.PutUint16(out[IDSize+2:], h.Size)
}

// UnmarshalBinary decodes the first 20 bytes of data. Bytes past the header
// are ignored. On error the receiver is unchanged.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedHeader, len(data), HeaderSize)
	}
	t := PacketType(binary.LittleEndian.Uint16(data[IDSize:]))
	if !t.Valid() {
		return fmt.Errorf("%w: tag %d", ErrUnknownPacketType, uint16(t))
	}
	copy(h.ID[:], data[:IDSize])
	h.Type = t
	h.Size = binary.LittleEndian.Uint16(data[IDSize+2:])
	return nil
}

// DecodeHeader parses a header from the front of data.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	err := h.UnmarshalBinary(data)
	return h, err
}

func (h Header) String() string {
	return fmt.Sprintf("%s from %s (%d bytes)", h.Type, h.ID, h.Size)
}
