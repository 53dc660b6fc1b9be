package protocol

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Packet is a header plus its decoded payload. Payload is nil for packets
// whose type is recognized but not decoded on receive.
type Packet struct {
	Header  Header
	Payload Payload
}

// New wraps payload in a packet from id. The header type comes from the
// payload and the size is filled in when the packet is encoded.
func New(id uuid.UUID, payload Payload) *Packet {
	return &Packet{
		Header:  Header{ID: id, Type: payload.Type()},
		Payload: payload,
	}
}

// Ignored reports whether the packet was accepted without decoding a payload.
func (p *Packet) Ignored() bool {
	return p.Payload == nil
}

// Encode serializes p. The header's size field is recomputed from the encoded
// payload; p itself is not modified.
func Encode(p *Packet) ([]byte, error) {
	if p.Payload == nil {
		return nil, fmt.Errorf("encode %s: %w", p.Header.Type, ErrUnsupportedVariant)
	}
	if p.Header.Type != p.Payload.Type() {
		return nil, fmt.Errorf("encode: header type %s does not match payload type %s", p.Header.Type, p.Payload.Type())
	}
	body, err := p.Payload.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(body) > p.Payload.MaxSize() {
		return nil, fmt.Errorf("encode %s: %w: %d bytes, limit %d", p.Header.Type, ErrPayloadOverflow, len(body), p.Payload.MaxSize())
	}
	h := p.Header
	h.Size = uint16(len(body))
	out := make([]byte, HeaderSize+len(body))
	h.put(out)
	copy(out[HeaderSize:], body)
	return out, nil
}

// MarshalBinary is Encode as a method.
func (p *Packet) MarshalBinary() ([]byte, error) {
	return Encode(p)
}

// WritePacket encodes p and writes it to w in a single call.
func WritePacket(w io.Writer, p *Packet) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s packet: %w", p.Header.Type, err)
	}
	return nil
}

func (p *Packet) String() string {
	if p.Ignored() {
		return p.Header.String() + " [ignored]"
	}
	return fmt.Sprintf("%s %+v", p.Header, p.Payload)
}
