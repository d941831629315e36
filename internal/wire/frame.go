// Package wire defines the decoded frame structs consumed by the
// loss-recovery core. Parsing frames off the wire and encrypting/framing
// packets is the job of the surrounding packet layer; this package only
// models the frames once they've been decoded (or, for outgoing frames,
// before they're handed to the packet layer for framing).
package wire

// FrameType identifies the kind of a frame tracked by the Send Context.
// Resend behavior (see the ackhandler package) is keyed off this type.
type FrameType uint8

const (
	FrameTypeAck FrameType = iota
	FrameTypeStream
	FrameTypeResetStream
	FrameTypePing
	FrameTypePathChallenge
	FrameTypePathResponse
	FrameTypeConnectionClose
	FrameTypeMaxData
	FrameTypeMaxStreams
	FrameTypeMaxStreamData
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeAck:
		return "ACK"
	case FrameTypeStream:
		return "STREAM"
	case FrameTypeResetStream:
		return "RESET_STREAM"
	case FrameTypePing:
		return "PING"
	case FrameTypePathChallenge:
		return "PATH_CHALLENGE"
	case FrameTypePathResponse:
		return "PATH_RESPONSE"
	case FrameTypeConnectionClose:
		return "CONNECTION_CLOSE"
	case FrameTypeMaxData:
		return "MAX_DATA"
	case FrameTypeMaxStreams:
		return "MAX_STREAMS"
	case FrameTypeMaxStreamData:
		return "MAX_STREAM_DATA"
	default:
		return "unknown"
	}
}

// Frame is the tagged payload carried by a sent frame record. Every frame
// variant knows its own type; the ackhandler package switches on it to
// decide how to resend a frame once its packet has been declared lost.
type Frame interface {
	FrameType() FrameType
}

// StreamID identifies a stream; it is opaque to this core beyond being used
// as a lookup key for the stream tree (see ackhandler.StreamFinder).
type StreamID uint64

// StreamFrame carries (a fragment of) stream data.
type StreamFrame struct {
	StreamID StreamID
	Offset   uint64
	Data     []byte
	Fin      bool
}

func (*StreamFrame) FrameType() FrameType { return FrameTypeStream }

// ResetStreamFrame abruptly terminates a stream.
type ResetStreamFrame struct {
	StreamID  StreamID
	ErrorCode uint64
	FinalSize uint64
}

func (*ResetStreamFrame) FrameType() FrameType { return FrameTypeResetStream }

// PingFrame elicits an acknowledgment; it carries no data. PTO probes are
// sent as PingFrames with IgnoreCongestion set on the sent frame record.
type PingFrame struct{}

func (PingFrame) FrameType() FrameType { return FrameTypePing }

// PathChallengeFrame is used for path validation.
type PathChallengeFrame struct {
	Data [8]byte
}

func (*PathChallengeFrame) FrameType() FrameType { return FrameTypePathChallenge }

// PathResponseFrame answers a PathChallengeFrame.
type PathResponseFrame struct {
	Data [8]byte
}

func (*PathResponseFrame) FrameType() FrameType { return FrameTypePathResponse }

// ConnectionCloseFrame signals connection termination.
type ConnectionCloseFrame struct {
	IsApplicationError bool
	ErrorCode          uint64
	ReasonPhrase       string
}

func (*ConnectionCloseFrame) FrameType() FrameType { return FrameTypeConnectionClose }

// MaxDataFrame advertises the connection-level flow-control limit.
// On resend, the limit is re-read from the flow controller rather than
// retransmitted verbatim: a stale limit would let the peer believe the
// window shrank.
type MaxDataFrame struct {
	MaximumData uint64
}

func (*MaxDataFrame) FrameType() FrameType { return FrameTypeMaxData }

// MaxStreamsFrame advertises the stream-count limit, for one of the two
// independent limits (bidirectional vs. unidirectional) a QUIC connection
// tracks — this is the MAX_STREAMS / MAX_STREAMS2 distinction in the spec.
type MaxStreamsFrame struct {
	Bidirectional bool
	MaximumStreams uint64
}

func (*MaxStreamsFrame) FrameType() FrameType { return FrameTypeMaxStreams }

// MaxStreamDataFrame advertises a per-stream flow-control limit.
type MaxStreamDataFrame struct {
	StreamID      StreamID
	MaximumStreamData uint64
}

func (*MaxStreamDataFrame) FrameType() FrameType { return FrameTypeMaxStreamData }
