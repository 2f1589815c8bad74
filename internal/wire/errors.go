package wire

import "errors"

// Decode failure modes named in §4.1. These are returned, never panicked:
// decoding a frame must be a total function over its input bytes.
var (
	ErrMalformedFrame  = errors.New("wire: frame shorter than the minimum 13-byte header")
	ErrTruncatedFrame  = errors.New("wire: declared payload length exceeds available bytes")
	ErrPayloadNotJSON  = errors.New("wire: payload is not valid structured data")
)
