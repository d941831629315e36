package congestion

import (
	"time"

	"github.com/kittyhawk-quic/recovery/internal/protocol"
)

// RenoSender implements the NewReno slow-start / congestion-avoidance
// controller described in RFC 9002 Section 7, adapted to the congestion-ack
// and congestion-lost hooks this core's ACK Receiver and Loss Detector call.
type RenoSender struct {
	window   protocol.ByteCount
	ssthresh protocol.ByteCount // noSSThresh means "infinite"

	inFlight protocol.ByteCount

	// recoveryStart marks the most recent window reduction. Acks and
	// losses for packets sent before it don't trigger further growth or
	// shrinkage — RFC 9002 7.3.1's "only one reduction per RTT" rule.
	recoveryStart time.Time

	maxDatagramSize protocol.ByteCount
	maxIdleTimeout  time.Duration

	// rstPnum is the packet-number boundary below which congestion
	// accounting is ignored, e.g. after a path reset.
	rstPnum protocol.PacketNumber
}

const noSSThresh = protocol.ByteCount(1 << 62)

// NewRenoSender constructs a RenoSender with the RFC 9002-recommended
// initial window of 10 datagrams and an unset slow-start threshold.
func NewRenoSender(maxDatagramSize protocol.ByteCount, maxIdleTimeout time.Duration) *RenoSender {
	return &RenoSender{
		window:          protocol.InitialWindowPacketCount * maxDatagramSize,
		ssthresh:        noSSThresh,
		maxDatagramSize: maxDatagramSize,
		maxIdleTimeout:  maxIdleTimeout,
		rstPnum:         protocol.InvalidPacketNumber,
	}
}

func (r *RenoSender) GetCongestionWindow() protocol.ByteCount { return r.window }
func (r *RenoSender) InFlight() protocol.ByteCount            { return r.inFlight }
func (r *RenoSender) Blocked() bool                           { return r.inFlight >= r.window }

func (r *RenoSender) SetMaxDatagramSize(s protocol.ByteCount) {
	r.maxDatagramSize = s
}

func (r *RenoSender) SetRstPacketNumber(pn protocol.PacketNumber) {
	r.rstPnum = pn
}

func (r *RenoSender) belowRst(pn protocol.PacketNumber) bool {
	return r.rstPnum != protocol.InvalidPacketNumber && pn < r.rstPnum
}

func (r *RenoSender) OnPacketSent(pn protocol.PacketNumber, size protocol.ByteCount, ignoreCongestion bool) {
	if ignoreCongestion || r.belowRst(pn) {
		return
	}
	r.inFlight += size
}

// OnPacketAcked is congestion_ack from Section 4.D: grows the window in
// slow start or congestion avoidance, unless the packet was sent during an
// already-accounted-for recovery episode.
func (r *RenoSender) OnPacketAcked(now time.Time, pn protocol.PacketNumber, sendTime time.Time, plen protocol.ByteCount) bool {
	if plen == 0 || r.belowRst(pn) {
		return false
	}

	wasBlocked := r.Blocked()
	r.inFlight -= plen

	if !sendTime.After(r.recoveryStart) {
		// Still inside the recovery episode: no growth.
	} else if r.window < r.ssthresh {
		r.window += plen // slow start
	} else {
		r.window += r.maxDatagramSize * plen / r.window // congestion avoidance
	}

	// Guard recoveryStart against wrap: if it's more than 2*maxIdleTimeout
	// in the past, pull it forward. Preserved from the source though
	// formally unnecessary with 64-bit monotonic time.
	if floor := now.Add(-2 * r.maxIdleTimeout); r.recoveryStart.Before(floor) {
		r.recoveryStart = floor
	}

	return wasBlocked && !r.Blocked()
}

// OnPacketLost is congestion_lost from Section 4.D: halves the window and
// sets ssthresh, once per recovery episode.
func (r *RenoSender) OnPacketLost(now time.Time, pn protocol.PacketNumber, sendTime time.Time, plen protocol.ByteCount) bool {
	if plen == 0 || r.belowRst(pn) {
		return false
	}

	wasBlocked := r.Blocked()
	r.inFlight -= plen

	if !sendTime.After(r.recoveryStart) {
		// Already accounted for in this recovery episode.
		return wasBlocked && !r.Blocked()
	}

	r.recoveryStart = now
	r.window /= 2
	if min := 2 * r.maxDatagramSize; r.window < min {
		r.window = min
	}
	r.ssthresh = r.window

	return wasBlocked && !r.Blocked()
}

// OnPersistentCongestion is persistent_congestion from Section 4.D:
// collapses the window to the RFC 9002 floor. ssthresh is left untouched.
func (r *RenoSender) OnPersistentCongestion(now time.Time) {
	r.recoveryStart = now
	r.window = 2 * r.maxDatagramSize
}
