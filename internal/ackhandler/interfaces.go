package ackhandler

import (
	"time"

	"github.com/kittyhawk-quic/recovery/internal/protocol"
	"github.com/kittyhawk-quic/recovery/internal/wire"
)

// StreamSendState mirrors just enough of a stream's send-side state machine
// for resend decisions: a STREAM frame belonging to an already-reset stream
// must be dropped rather than retransmitted.
type StreamSendState uint8

const (
	StreamSendOpen StreamSendState = iota
	StreamSendResetSent
	StreamSendResetRecvd
)

// StreamFinder looks up a stream's current send state and flow-control
// limit. It is the find_stream collaborator: the stream tree itself lives
// outside this core.
type StreamFinder interface {
	// FindStreamSendState reports the send state of the given stream, or
	// ok=false if the stream no longer exists (deleted).
	FindStreamSendState(id wire.StreamID) (state StreamSendState, ok bool)
	// CurrentMaxStreamData returns the current receive-side flow-control
	// limit for the stream, or ok=false if the stream no longer exists.
	CurrentMaxStreamData(id wire.StreamID) (limit uint64, ok bool)
}

// StreamAckHandler returns flow-control credit for an acknowledged
// STREAM/RESET_STREAM frame.
type StreamAckHandler interface {
	HandleStreamAck(f wire.Frame)
}

// FlowController supplies the up-to-date connection-level limits used when
// a MAX_DATA or MAX_STREAMS frame is resent: stale limits must never be
// retransmitted verbatim.
type FlowController interface {
	CurrentMaxData() uint64
	CurrentMaxStreams(bidi bool) uint64
}

// PathMTUHandler is invoked once per ACK range at the application
// encryption level.
type PathMTUHandler interface {
	HandlePathMTU(min, max protocol.PacketNumber)
}

// FrameQueuer re-queues a frame for transmission on the given Send Context.
// Resent frames that aren't simply dropped go back onto the Send Context's
// pending queue through this interface.
type FrameQueuer interface {
	QueueFrame(level protocol.EncryptionLevel, f wire.Frame)
}

// FrameSender emits a frame immediately, bypassing the normal send queue.
// Used only for PTO probes.
type FrameSender interface {
	SendFrameNow(level protocol.EncryptionLevel, f wire.Frame) error
}

// EventPoster posts the generic "there's more to send" event. A single
// implementation is shared by every Send Context.
type EventPoster interface {
	PostPush()
}

// PeerTransportParameters are the subset of the peer's transport parameters
// this core needs to interpret ACK delays.
type PeerTransportParameters struct {
	AckDelayExponent uint8
	MaxAckDelay      time.Duration
}

// LocalTransportParameters are the subset of local transport parameters
// this core needs.
type LocalTransportParameters struct {
	MaxUDPPayloadSize protocol.ByteCount
	MaxIdleTimeout    time.Duration
}
