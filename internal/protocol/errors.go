package protocol

import "errors"

// Codec errors. Callers match them with errors.Is; the returned errors carry
// extra context such as the field name and the offending length.
var (
	ErrTruncatedBuffer    = errors.New("buffer too short")
	ErrTruncatedHeader    = errors.New("header truncated")
	ErrTruncatedPayload   = errors.New("payload truncated")
	ErrFieldTooLong       = errors.New("field exceeds capacity")
	ErrPayloadOverflow    = errors.New("payload exceeds maximum size")
	ErrIdentifierOverflow = errors.New("identifier longer than 16 bytes")
	ErrUnknownPacketType  = errors.New("unknown packet type")
	ErrUnsupportedVariant = errors.New("packet type has no payload codec")
	ErrInvalidEncoding    = errors.New("invalid string encoding")
)
