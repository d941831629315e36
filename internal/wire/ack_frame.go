package wire

import "github.com/kittyhawk-quic/recovery/internal/protocol"

// AckRange is one (gap, range) pair of an ACK frame, RFC 9000 Section
// 19.3.1, in the order they appear on the wire (after the first range).
// Gap is the number of packet numbers skipped between this range and the
// previous one, minus one; Range is the count of acknowledged packet numbers
// minus one.
type AckRange struct {
	Gap   uint64
	Range uint64
}

// AckFrame is the decoded form of a QUIC ACK frame. Decoding the variable
// length integers off the wire is the job of the surrounding frame parser;
// this core only ever sees the struct below.
type AckFrame struct {
	// Largest is the largest packet number this frame acknowledges.
	Largest protocol.PacketNumber
	// FirstRange is the number of contiguously-acknowledged packets
	// below Largest (ack_range_count for the first, implicit range).
	FirstRange uint64
	// Delay is the peer's raw, unscaled ACK delay, to be shifted by the
	// peer's ack_delay_exponent and interpreted in microseconds.
	Delay uint64
	// Ranges holds every (gap, range) pair beyond the first range, in
	// wire order (closest to Largest first).
	Ranges []AckRange

	// ECT0, ECT1 and ECNCE are accepted syntactically but, per this
	// core's non-goals, never influence congestion control.
	ECT0, ECT1, ECNCE uint64
}

// HasMissingRanges reports whether the frame describes any gaps.
func (f *AckFrame) HasMissingRanges() bool {
	return len(f.Ranges) > 0
}

func (*AckFrame) FrameType() FrameType { return FrameTypeAck }
