// Package qerr defines the transport-level error conditions that the
// loss-recovery core can raise while processing an incoming ACK frame.
package qerr

import "fmt"

// TransportErrorCode is a QUIC transport error code, RFC 9000 Section 20.1.
type TransportErrorCode uint64

const (
	// FrameEncodingError indicates a malformed ACK frame: a negative
	// computed packet number, or a range exceeding the available span.
	FrameEncodingError TransportErrorCode = 0x7
	// ProtocolViolation indicates an ACK for a packet number never sent
	// in the corresponding packet number space.
	ProtocolViolation TransportErrorCode = 0xa
)

func (c TransportErrorCode) String() string {
	switch c {
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	default:
		return fmt.Sprintf("unknown error code %#x", uint64(c))
	}
}

// FrameType identifies which frame type was being processed when the error
// occurred. This core only ever reports ACK.
type FrameType uint8

const FrameTypeACK FrameType = 1

// TransportError is a connection-level error produced while processing a
// received ACK frame. Callers must close the connection upon receiving one.
type TransportError struct {
	ErrorCode    TransportErrorCode
	FrameType    FrameType
	ErrorMessage string
}

var _ error = &TransportError{}

func (e *TransportError) Error() string {
	if e.ErrorMessage == "" {
		return e.ErrorCode.String()
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode.String(), e.ErrorMessage)
}

// NewFrameEncodingError builds the error raised when an ACK frame's ranges
// cannot be decoded into a consistent, non-negative sequence of packet
// numbers.
func NewFrameEncodingError(reason string) *TransportError {
	return &TransportError{
		ErrorCode:    FrameEncodingError,
		FrameType:    FrameTypeACK,
		ErrorMessage: reason,
	}
}

// NewProtocolViolation builds the error raised when an ACK frame acknowledges
// a packet number that was never sent in the given packet number space.
func NewProtocolViolation(reason string) *TransportError {
	return &TransportError{
		ErrorCode:    ProtocolViolation,
		FrameType:    FrameTypeACK,
		ErrorMessage: reason,
	}
}
