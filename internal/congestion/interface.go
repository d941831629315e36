// Package congestion implements the NewReno congestion controller used by
// the loss-recovery core, following RFC 9002 Section 7.
package congestion

import (
	"time"

	"github.com/kittyhawk-quic/recovery/internal/protocol"
)

// SendAlgorithm is the interface the ACK Receiver and Loss Detector drive
// the congestion controller through. A Send Context never touches window
// or ssthresh directly.
type SendAlgorithm interface {
	// OnPacketSent accounts size bytes as newly in flight, unless
	// ignoreCongestion is set (PTO PING probes bypass accounting).
	OnPacketSent(pn protocol.PacketNumber, size protocol.ByteCount, ignoreCongestion bool)

	// OnPacketAcked is the congestion_ack hook: invoked once per removed
	// sent-frame record, but only has an effect for the frame that
	// carries the packet's congestion-controlled size (plen != 0).
	// Returns true if the connection was send-blocked and no longer is.
	OnPacketAcked(now time.Time, pn protocol.PacketNumber, sendTime time.Time, plen protocol.ByteCount) (unblocked bool)

	// OnPacketLost is the congestion_lost hook: invoked exactly once per
	// declared-lost packet, on that packet's representative frame.
	// Returns true if the connection was send-blocked and no longer is.
	OnPacketLost(now time.Time, pn protocol.PacketNumber, sendTime time.Time, plen protocol.ByteCount) (unblocked bool)

	// OnPersistentCongestion collapses the window after a sustained loss
	// episode, RFC 9002 Section 7.6.2.
	OnPersistentCongestion(now time.Time)

	GetCongestionWindow() protocol.ByteCount
	InFlight() protocol.ByteCount
	Blocked() bool

	SetMaxDatagramSize(protocol.ByteCount)
	// SetRstPacketNumber sets the boundary below which congestion
	// accounting is ignored, e.g. after a path reset.
	SetRstPacketNumber(protocol.PacketNumber)
}
