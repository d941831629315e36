package ackhandler

import (
	"time"

	"github.com/kittyhawk-quic/recovery/internal/protocol"
	"github.com/kittyhawk-quic/recovery/internal/utils"
	"github.com/kittyhawk-quic/recovery/internal/wire"
)

// ackRange is one (gap, range) pair of the receiver-side range database, in
// the same representation as wire.AckRange: a gap (missing packet numbers
// minus one) followed by the number of packet numbers covered below it minus
// one.
type ackRange struct {
	gap uint64
	rng uint64
}

// receivedPacketTracker is the receiver-side ACK Range DB for a single
// encryption level, Section 3's "Receiver-side range DB": the largest
// contiguous range of received packet numbers, plus up to MaxAckRanges
// older, disjoint ranges further back.
type receivedPacketTracker struct {
	level protocol.EncryptionLevel

	largestRange protocol.PacketNumber // largest pnum of the current top range; Invalid if nothing received yet
	firstRange   uint64                // count of contiguous packet numbers below largestRange
	ranges       []ackRange            // older ranges, closest to largestRange first

	// pendingAck is the highest-numbered received packet that still needs
	// to be acknowledged; Invalid if none. It lets dropAckRanges reset the
	// "needs ack" flag precisely once the peer has seen it acked.
	pendingAck protocol.PacketNumber

	// sendAck counts how many ack-eliciting packets have arrived since the
	// last time an ACK was actually sent. A value >= maxAckGap forces
	// immediate emission regardless of the max_ack_delay timer.
	sendAck uint64

	ackDelayStart time.Time
}

func newReceivedPacketTracker(level protocol.EncryptionLevel) *receivedPacketTracker {
	return &receivedPacketTracker{
		level:        level,
		largestRange: protocol.InvalidPacketNumber,
		pendingAck:   protocol.InvalidPacketNumber,
	}
}

// ReceivedPacketHandler owns one receivedPacketTracker per encryption
// level: the ACK Range DB and the outgoing-ACK scheduling state of
// Section 4.E.
type ReceivedPacketHandler struct {
	trackers [protocol.NumberOfEncryptionLevels]*receivedPacketTracker
	logger   utils.Logger
}

func NewReceivedPacketHandler(logger utils.Logger) *ReceivedPacketHandler {
	h := &ReceivedPacketHandler{logger: logger}
	for i := range h.trackers {
		h.trackers[i] = newReceivedPacketTracker(protocol.EncryptionLevel(i))
	}
	return h
}

func (h *ReceivedPacketHandler) tracker(level protocol.EncryptionLevel) *receivedPacketTracker {
	return h.trackers[level]
}

// ReceivedPacket records an incoming packet number against the range
// database for its level. needAck marks the packet as ack-eliciting. This
// is on_packet_received.
func (h *ReceivedPacketHandler) ReceivedPacket(level protocol.EncryptionLevel, pn protocol.PacketNumber, needAck bool, now time.Time) {
	t := h.tracker(level)

	if needAck {
		if t.sendAck == 0 {
			t.ackDelayStart = now
		}
		t.sendAck++

		if t.pendingAck == protocol.InvalidPacketNumber || t.pendingAck < pn {
			t.pendingAck = pn
		}
	}

	base := t.largestRange

	if base == protocol.InvalidPacketNumber {
		t.largestRange = pn
		return
	}

	if base == pn {
		return
	}

	largest := base
	smallest := largest - protocol.PacketNumber(t.firstRange)

	if pn > base {
		if pn-base == 1 {
			t.firstRange++
			t.largestRange = pn
			return
		}

		// A new gap opens in front of the current top range.
		gap := uint64(pn - base - 2)
		rng := t.firstRange

		t.firstRange = 0
		t.largestRange = pn

		// The packet arrived out of order relative to what's already been
		// acknowledged as the top range; force an immediate ACK.
		if needAck {
			t.sendAck = maxAckGap
		}

		t.insertRange(0, ackRange{gap: gap, rng: rng})
		return
	}

	// pn < base: look the packet number up in the existing ranges.
	if needAck {
		t.sendAck = maxAckGap
	}

	if pn >= smallest && pn <= largest {
		return // already known
	}

	for i := 0; i < len(t.ranges); i++ {
		r := &t.ranges[i]

		ge := smallest - 1
		gs := ge - protocol.PacketNumber(r.gap)

		if pn >= gs && pn <= ge {
			switch {
			case gs == ge:
				// The gap is exactly one packet wide and now filled: merge
				// into the range before it and drop this entry.
				if i == 0 {
					t.firstRange += r.rng + 2
				} else {
					t.ranges[i-1].rng += r.rng + 2
				}
				t.ranges = append(t.ranges[:i], t.ranges[i+1:]...)

			case pn == gs:
				r.gap--
				r.rng++

			case pn == ge:
				r.gap--
				if i == 0 {
					t.firstRange++
				} else {
					t.ranges[i-1].rng++
				}

			default:
				// Split the gap in two.
				newGap := uint64(ge - pn - 1)
				r.gap = uint64(pn - gs - 1)
				t.insertRange(i, ackRange{gap: newGap, rng: 0})
			}
			return
		}

		largest = smallest - protocol.PacketNumber(r.gap) - 2
		smallest = largest - protocol.PacketNumber(r.rng)

		if pn >= smallest && pn <= largest {
			return // already known, inside an older range
		}
	}

	if pn == smallest-1 {
		if len(t.ranges) == 0 {
			t.firstRange++
		} else {
			t.ranges[len(t.ranges)-1].rng++
		}
		return
	}

	if len(t.ranges) >= protocol.MaxAckRanges {
		// The range table is full and pn is older than every tracked
		// range: pn is not recorded, and no ACK is emitted for it.
		return
	}

	t.ranges = append(t.ranges, ackRange{gap: uint64(smallest - 2 - pn), rng: 0})
}

// insertRange inserts r at index i, shifting later entries back. The slice
// is capped at MaxAckRanges: once full, the oldest entries are discarded
// rather than grown without bound, since a connection that's missing that
// many distinct ranges from the peer has bigger problems than ACK
// compactness.
func (t *receivedPacketTracker) insertRange(i int, r ackRange) {
	t.ranges = append(t.ranges, ackRange{})
	copy(t.ranges[i+1:], t.ranges[i:])
	t.ranges[i] = r
	if len(t.ranges) > protocol.MaxAckRanges {
		t.ranges = t.ranges[:protocol.MaxAckRanges]
	}
}

// dropAckRanges is called once an outgoing ACK frame for this level has
// itself been acknowledged by the peer: every range entirely at or below pn
// (the Largest field of that ACK) is now redundant and can be forgotten.
func (h *ReceivedPacketHandler) dropAckRanges(level protocol.EncryptionLevel, pn protocol.PacketNumber) {
	t := h.tracker(level)

	base := t.largestRange
	if base == protocol.InvalidPacketNumber {
		return
	}

	if t.pendingAck != protocol.InvalidPacketNumber && pn >= t.pendingAck {
		t.pendingAck = protocol.InvalidPacketNumber
	}

	largest := base
	smallest := largest - protocol.PacketNumber(t.firstRange)

	if pn >= largest {
		t.largestRange = protocol.InvalidPacketNumber
		t.firstRange = 0
		t.ranges = nil
		return
	}

	if pn >= smallest {
		t.firstRange = uint64(largest - pn - 1)
		t.ranges = nil
		return
	}

	for i, r := range t.ranges {
		largest = smallest - protocol.PacketNumber(r.gap) - 2
		smallest = largest - protocol.PacketNumber(r.rng)

		if pn >= largest {
			t.ranges = t.ranges[:i]
			return
		}
		if pn >= smallest {
			t.ranges[i].rng = uint64(largest - pn - 1)
			t.ranges = t.ranges[:i+1]
			return
		}
	}
}

// forceAck marks the next GenerateAck call as must-send, bypassing the
// delayed-ack heuristic. Used when a previously sent ACK frame for this
// level is declared lost: the peer's acknowledgment state is stale and
// needs refreshing promptly.
func (h *ReceivedPacketHandler) forceAck(level protocol.EncryptionLevel) {
	h.tracker(level).sendAck = maxAckGap
}

// GenerateAck builds the ACK frame for level, if one is due. hasOtherFrames
// reports whether any other frame is already queued to go out at this
// level: when it's true, an Application-level ACK can ride along with those
// frames, so the delayed-ack heuristic is skipped. It returns ok=false
// when nothing needs to be sent right now (the caller should instead arm
// its push timer for the returned wait duration).
func (h *ReceivedPacketHandler) GenerateAck(level protocol.EncryptionLevel, now time.Time, maxAckDelay time.Duration, hasOtherFrames bool) (frame *wire.AckFrame, wait time.Duration, ok bool) {
	t := h.tracker(level)

	if t.sendAck == 0 {
		return nil, 0, false
	}

	if level == protocol.Encryption1RTT {
		delay := now.Sub(t.ackDelayStart)
		if !hasOtherFrames && t.sendAck < maxAckGap && delay < maxAckDelay {
			return nil, maxAckDelay - delay, false
		}
	}

	frame = t.buildAckFrame(now)
	t.sendAck = 0
	return frame, 0, true
}

// buildAckFrame renders the current range database into wire form.
func (t *receivedPacketTracker) buildAckFrame(now time.Time) *wire.AckFrame {
	f := &wire.AckFrame{
		Largest:    t.largestRange,
		FirstRange: t.firstRange,
		Delay:      uint64(now.Sub(t.ackDelayStart) / time.Microsecond),
	}
	if len(t.ranges) > 0 {
		f.Ranges = make([]wire.AckRange, len(t.ranges))
		for i, r := range t.ranges {
			f.Ranges[i] = wire.AckRange{Gap: r.gap, Range: r.rng}
		}
	}
	return f
}
