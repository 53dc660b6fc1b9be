package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decode parses a header and its payload. payload must hold at least the
// length the header declares; exactly that many bytes are handed to the
// payload decoder. Types that are recognized but not decoded on receive come
// back with a nil Payload.
func Decode(header, payload []byte) (*Packet, error) {
	h, err := DecodeHeader(header)
	if err != nil {
		return nil, err
	}
	if len(payload) < int(h.Size) {
		return nil, fmt.Errorf("decode %s: %w: declared %d bytes, got %d", h.Type, ErrTruncatedPayload, h.Size, len(payload))
	}
	pkt := &Packet{Header: h}
	if !Decoded(h.Type) {
		return pkt, nil
	}
	p, err := DecodePayload(h.Type, payload[:h.Size])
	if err != nil {
		return nil, err
	}
	pkt.Payload = p
	return pkt, nil
}

// DecodeFrame parses a complete header+payload buffer.
func DecodeFrame(frame []byte) (*Packet, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedHeader, len(frame), HeaderSize)
	}
	return Decode(frame[:HeaderSize], frame[HeaderSize:])
}

// ReadPacket reads one packet from r: the 20-byte header, then exactly the
// declared payload length. The payload of an unknown type is still consumed
// so the stream stays aligned. io.EOF is returned unwrapped when r ends
// cleanly before a header.
func ReadPacket(r io.Reader) (*Packet, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", ErrTruncatedHeader, err)
		}
		return nil, fmt.Errorf("failed to read packet header: %w", err)
	}

	size := binary.LittleEndian.Uint16(header[IDSize+2:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: declared %d bytes: %w", ErrTruncatedPayload, size, err)
		}
		return nil, fmt.Errorf("failed to read packet payload (%d bytes): %w", size, err)
	}

	return Decode(header[:], payload)
}
