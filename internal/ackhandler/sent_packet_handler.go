package ackhandler

import (
	"time"

	"github.com/kittyhawk-quic/recovery/internal/congestion"
	"github.com/kittyhawk-quic/recovery/internal/protocol"
	"github.com/kittyhawk-quic/recovery/internal/qerr"
	"github.com/kittyhawk-quic/recovery/internal/utils"
	"github.com/kittyhawk-quic/recovery/internal/wire"
)

const (
	// maxAckGap is the number of unacknowledged incoming packets, at the
	// Application level, that force an immediate outgoing ACK regardless of
	// the max_ack_delay timer. RFC 9000 Section 13.2.1 calls this out as a
	// recommended default of 2.
	maxAckGap = 2

	// packetThreshold is RFC 9002 Section 6.1.1's kPacketThreshold.
	packetThreshold = 3

	// timeGranularity is RFC 9002 Section 6.1.2's kGranularity.
	timeGranularity = time.Millisecond

	// persistentCongestionThreshold is RFC 9002 Section 7.6.1's
	// kPersistentCongestionThreshold.
	persistentCongestionThreshold = 3
)

// ackTimeStat tracks the send-time span of the packets a single incoming
// ACK frame newly acknowledged. It feeds the persistent-congestion check
// once detectLost runs for that same ACK.
type ackTimeStat struct {
	maxPnSendTime time.Time // send time of the packet at the frame's Largest pnum, if newly acked
	oldest        time.Time
	newest        time.Time
}

func (s *ackTimeStat) observe(sendTime time.Time) {
	if s.oldest.IsZero() || sendTime.Before(s.oldest) {
		s.oldest = sendTime
	}
	if s.newest.IsZero() || sendTime.After(s.newest) {
		s.newest = sendTime
	}
}

type timerMode uint8

const (
	timerNone timerMode = iota
	timerLossDetection
	timerPTO
)

// SentPacketHandler is the Send Context, ACK Receiver, Loss Detector and
// loss/PTO timer: it tracks every ack-eliciting frame sent at every
// encryption level, processes incoming ACK frames against them, declares
// packets lost by packet- and time-threshold, and drives a single
// connection-wide congestion controller.
type SentPacketHandler struct {
	levels [protocol.NumberOfEncryptionLevels]*sendContext

	congestion congestion.SendAlgorithm
	rttStats   *utils.RTTStats
	logger     utils.Logger

	ptoCount uint32

	peerParams  PeerTransportParameters
	localParams LocalTransportParameters

	handshakeConfirmed bool
	closing            bool

	streams    StreamFinder
	streamAcks StreamAckHandler
	flow       FlowController
	pathMTU    PathMTUHandler
	frameSend  FrameSender
	events     EventPoster

	// rcv lets the ACK Receiver force an immediate outgoing ACK at the
	// Application level when an ACK frame is itself resent.
	rcv *ReceivedPacketHandler

	timerDeadline time.Time
	timerKind     timerMode
}

// NewSentPacketHandler constructs a handler with an empty Send Context for
// every encryption level.
func NewSentPacketHandler(
	cc congestion.SendAlgorithm,
	rttStats *utils.RTTStats,
	logger utils.Logger,
	streams StreamFinder,
	streamAcks StreamAckHandler,
	flow FlowController,
	pathMTU PathMTUHandler,
	frameSend FrameSender,
	events EventPoster,
	rcv *ReceivedPacketHandler,
	peerParams PeerTransportParameters,
	localParams LocalTransportParameters,
) *SentPacketHandler {
	h := &SentPacketHandler{
		congestion:  cc,
		rttStats:    rttStats,
		logger:      logger,
		streams:     streams,
		streamAcks:  streamAcks,
		flow:        flow,
		pathMTU:     pathMTU,
		frameSend:   frameSend,
		events:      events,
		rcv:         rcv,
		peerParams:  peerParams,
		localParams: localParams,
	}
	for i := range h.levels {
		h.levels[i] = newSendContext(protocol.EncryptionLevel(i))
	}
	return h
}

func (h *SentPacketHandler) ctx(level protocol.EncryptionLevel) *sendContext {
	return h.levels[level]
}

// QueueFrame implements FrameQueuer for the level it's called with: it
// appends to that level's Send Context pending queue. This is how both a
// frame producer and this core's own loss-resend path (resendFrame) enqueue
// a frame for the next outgoing packet at that level.
func (h *SentPacketHandler) QueueFrame(level protocol.EncryptionLevel, f wire.Frame) {
	h.ctx(level).QueueFrame(f)
}

// DrainPending returns and clears every frame queued for level via
// QueueFrame, including those re-queued by loss resend. The sender calls
// this once per outgoing packet to pick up everything ready to coalesce.
func (h *SentPacketHandler) DrainPending(level protocol.EncryptionLevel) []wire.Frame {
	return h.ctx(level).drainPending()
}

// SentPacket records a newly sent packet against its level's Send Context
// and accounts its size to the congestion controller, unless
// ignoreCongestion is set (used for PTO probes).
func (h *SentPacketHandler) SentPacket(level protocol.EncryptionLevel, frames []wire.Frame, plen protocol.ByteCount, ignoreCongestion bool, now time.Time) protocol.PacketNumber {
	c := h.ctx(level)
	pn := c.nextPacketNumber()

	p := getSentPacket()
	p.pnum = pn
	p.sendTime = now
	p.level = level
	if !ignoreCongestion {
		p.plen = plen
	}
	p.ignoreCongestion = ignoreCongestion
	p.frames = frames
	c.recordSent(p)

	h.congestion.OnPacketSent(pn, plen, ignoreCongestion)
	h.setLostTimer(now)
	return pn
}

// ReceivedAck is the ACK Receiver's entry point: it applies the frame to
// the named level's Send Context, samples RTT if the frame newly
// acknowledges its own Largest packet, and runs loss detection.
func (h *SentPacketHandler) ReceivedAck(level protocol.EncryptionLevel, ack *wire.AckFrame, now time.Time) error {
	c := h.ctx(level)

	if ack.FirstRange > uint64(ack.Largest) {
		return qerr.NewFrameEncodingError("invalid first range in ack frame")
	}

	min := protocol.PacketNumber(uint64(ack.Largest) - ack.FirstRange)
	max := ack.Largest

	var st ackTimeStat
	if err := h.handleAckRange(c, min, max, &st, now); err != nil {
		return err
	}

	// RFC 9000 Section 13.2.4: only track the largest acknowledged packet
	// number seen across every ACK frame for this level.
	if c.largestAck < max || c.largestAck == protocol.InvalidPacketNumber {
		c.largestAck = max

		// RFC 9002 Section 5.1: an RTT sample requires that the largest
		// acknowledged packet number is newly acknowledged and that at
		// least one newly acknowledged packet was ack-eliciting.
		if !st.maxPnSendTime.IsZero() {
			h.sampleRTT(ack, st.maxPnSendTime, now)
		}
	}

	for _, r := range ack.Ranges {
		if r.Gap+2 > uint64(min) {
			return qerr.NewFrameEncodingError("invalid range in ack frame")
		}
		newMax := protocol.PacketNumber(uint64(min) - r.Gap - 2)
		if r.Range > uint64(newMax) {
			return qerr.NewFrameEncodingError("invalid range in ack frame")
		}
		min = protocol.PacketNumber(uint64(newMax) - r.Range)
		max = newMax
		if err := h.handleAckRange(c, min, max, &st, now); err != nil {
			return err
		}
	}

	return h.detectLost(now, &st)
}

// handleAckRange walks the Send Context from the head, applying the
// congestion-ack hook and per-frame-type acknowledgment handling to every
// tracked packet in [min, max], and removing it from the queue.
func (h *SentPacketHandler) handleAckRange(c *sendContext, min, max protocol.PacketNumber, st *ackTimeStat, now time.Time) error {
	if c.level == protocol.Encryption1RTT && h.pathMTU != nil {
		h.pathMTU.HandlePathMTU(min, max)
	}

	found := false
	c.iterateUpTo(max, func(p *sentPacket) (remove, keepGoing bool) {
		if p.pnum < min {
			return false, true
		}
		found = true

		h.congestion.OnPacketAcked(now, p.pnum, p.sendTime, p.plen)

		for _, f := range p.frames {
			switch f.FrameType() {
			case wire.FrameTypeAck:
				if h.rcv != nil {
					h.rcv.dropAckRanges(c.level, f.(*wire.AckFrame).Largest)
				}
			case wire.FrameTypeStream, wire.FrameTypeResetStream:
				if h.streamAcks != nil {
					h.streamAcks.HandleStreamAck(f)
				}
			}
		}

		if p.pnum == max {
			st.maxPnSendTime = p.sendTime
		}
		st.observe(p.sendTime)

		putSentPacket(p)
		return true, true
	})

	if !found {
		if max < c.nextPnum {
			// Duplicate ACK, or ACK for a non-ack-eliciting frame we never
			// tracked in the first place.
			return nil
		}
		return qerr.NewProtocolViolation("ack for packet not sent")
	}

	if h.events != nil && !h.closing {
		h.events.PostPush()
	}
	h.ptoCount = 0
	return nil
}

// sampleRTT decodes the peer's raw ACK delay using their ack_delay_exponent,
// clamping to max_ack_delay once the handshake is confirmed, and feeds the
// result to the RTT estimator.
func (h *SentPacketHandler) sampleRTT(ack *wire.AckFrame, sendTime, now time.Time) {
	latestRTT := now.Sub(sendTime)

	ackDelay := time.Duration(ack.Delay<<h.peerParams.AckDelayExponent) * time.Microsecond
	if h.handshakeConfirmed && ackDelay > h.peerParams.MaxAckDelay {
		ackDelay = h.peerParams.MaxAckDelay
	}

	h.rttStats.UpdateRTT(latestRTT, ackDelay, now)

	if h.logger.Debug() {
		h.logger.Debugf("rtt sample latest:%s min:%s smoothed:%s var:%s",
			h.rttStats.LatestRTT(), h.rttStats.MinRTT(), h.rttStats.SmoothedRTT(), h.rttStats.MeanDeviation())
	}
}

// lossThreshold is RFC 9002 Section 6.1.2's kTimeThreshold applied to the
// current RTT estimate.
func (h *SentPacketHandler) lossThreshold() time.Duration {
	thr := h.rttStats.LatestRTT()
	if s := h.rttStats.SmoothedRTT(); s > thr {
		thr = s
	}
	thr += thr >> 3
	if thr < timeGranularity {
		return timeGranularity
	}
	return thr
}

// ptoDuration is the PTO formula of RFC 9002 Appendix A.8, before the
// pto_count exponential backoff is applied.
func (h *SentPacketHandler) ptoDuration(level protocol.EncryptionLevel) time.Duration {
	d := h.rttStats.SmoothedRTT()
	if v := 4 * h.rttStats.MeanDeviation(); v > timeGranularity {
		d += v
	} else {
		d += timeGranularity
	}
	if level == protocol.Encryption1RTT && h.handshakeConfirmed {
		d += h.peerParams.MaxAckDelay
	}
	return d
}

// persistentCongestionDuration is RFC 9002 Section 7.6.1's formula for the
// minimum span a sustained loss episode must cover before it is classified
// as persistent congestion.
func (h *SentPacketHandler) persistentCongestionDuration() time.Duration {
	d := h.rttStats.SmoothedRTT()
	if v := 4 * h.rttStats.MeanDeviation(); v > timeGranularity {
		d += v
	} else {
		d += timeGranularity
	}
	d += h.peerParams.MaxAckDelay
	return d * persistentCongestionThreshold
}

// detectLost walks every level's Send Context from the head, declaring
// packets lost by packet- or time-threshold, then checks whether the
// accumulated loss episode qualifies as persistent congestion, then rearms
// the loss/PTO timer. st is nil when called from the loss-detection timer
// rather than from ReceivedAck.
func (h *SentPacketHandler) detectLost(now time.Time, st *ackTimeStat) error {
	thr := h.lossThreshold()

	var oldest, newest time.Time
	nlost := 0

	firstRTT := h.rttStats.FirstSampleTime()

	for _, c := range h.levels {
		if c.largestAck == protocol.InvalidPacketNumber {
			continue
		}

		for {
			p := c.front()
			if p == nil || p.pnum > c.largestAck {
				break
			}

			wait := p.sendTime.Add(thr).Sub(now)
			if wait > 0 && c.largestAck-p.pnum < packetThreshold {
				break
			}

			if !firstRTT.IsZero() && p.sendTime.After(firstRTT) {
				if oldest.IsZero() || p.sendTime.Before(oldest) {
					oldest = p.sendTime
				}
				if newest.IsZero() || p.sendTime.After(newest) {
					newest = p.sendTime
				}
				nlost++
			}

			h.resend(c, p, now)
		}
	}

	// RFC 9002 Section 7.6.2: once acknowledged, packets are no longer
	// tracked, so persistent congestion can only be assessed against the
	// send-time span of the most recent ACK frame's newly-acked packets.
	if st != nil && nlost >= 2 && (st.newest.Before(oldest) || st.oldest.After(newest)) {
		if newest.Sub(oldest) > h.persistentCongestionDuration() {
			h.congestion.OnPersistentCongestion(now)
			if h.logger.Debug() {
				h.logger.Debugf("persistent congestion window:%d", h.congestion.GetCongestionWindow())
			}
		}
	}

	h.setLostTimer(now)
	return nil
}

// resend removes the oldest packet from the Send Context, runs the
// congestion-lost hook once for the whole packet, and dispatches every
// frame it carried to its type-specific resend behavior.
func (h *SentPacketHandler) resend(c *sendContext, p *sentPacket, now time.Time) {
	removed := c.removePacket(p.pnum)
	if removed == nil {
		return
	}

	h.congestion.OnPacketLost(now, p.pnum, p.sendTime, p.plen)
	p.plen = 0

	for _, f := range p.frames {
		h.resendFrame(c, f)
	}

	putSentPacket(p)

	if h.closing {
		return
	}
	if h.events != nil {
		h.events.PostPush()
	}
}

func (h *SentPacketHandler) resendFrame(c *sendContext, f wire.Frame) {
	switch fr := f.(type) {
	case *wire.AckFrame:
		if c.level == protocol.Encryption1RTT && h.rcv != nil {
			h.rcv.forceAck(c.level)
		}
		// dropped: acknowledgment state is regenerated from the receiver's
		// current range database, never replayed verbatim.

	case wire.PingFrame, *wire.PathChallengeFrame, *wire.PathResponseFrame, *wire.ConnectionCloseFrame:
		// dropped: none of these carry state that benefits from resending
		// unchanged, and a fresh PING/CLOSE will be generated if still needed.

	case *wire.MaxDataFrame:
		if h.flow != nil {
			c.QueueFrame(&wire.MaxDataFrame{MaximumData: h.flow.CurrentMaxData()})
		}

	case *wire.MaxStreamsFrame:
		if h.flow != nil {
			c.QueueFrame(&wire.MaxStreamsFrame{
				Bidirectional:  fr.Bidirectional,
				MaximumStreams: h.flow.CurrentMaxStreams(fr.Bidirectional),
			})
		}

	case *wire.MaxStreamDataFrame:
		if h.streams == nil {
			return
		}
		limit, ok := h.streams.CurrentMaxStreamData(fr.StreamID)
		if !ok {
			return
		}
		c.QueueFrame(&wire.MaxStreamDataFrame{StreamID: fr.StreamID, MaximumStreamData: limit})

	case *wire.StreamFrame:
		if h.streams != nil {
			if state, ok := h.streams.FindStreamSendState(fr.StreamID); ok {
				if state == StreamSendResetSent || state == StreamSendResetRecvd {
					return
				}
			}
		}
		c.QueueFrame(fr)

	default:
		c.QueueFrame(f)
	}
}

// setLostTimer arms the loss/PTO timer to the earliest deadline across
// every level, preferring a loss-detection deadline over a PTO deadline
// whenever one applies at all.
func (h *SentPacketHandler) setLostTimer(now time.Time) {
	thr := h.lossThreshold()

	var lost time.Duration = -1
	var pto time.Duration = -1

	for _, c := range h.levels {
		if c.empty() {
			continue
		}

		if c.largestAck != protocol.InvalidPacketNumber {
			if front := c.front(); front.pnum <= c.largestAck {
				w := front.sendTime.Add(thr).Sub(now)
				if w < 0 || c.largestAck-front.pnum >= packetThreshold {
					w = 0
				}
				if lost == -1 || w < lost {
					lost = w
				}
			}
		}

		back := c.back()
		w := back.sendTime.Add(h.ptoDuration(c.level) * time.Duration(uint64(1)<<h.ptoCount)).Sub(now)
		if w < 0 {
			w = 0
		}
		if pto == -1 || w < pto {
			pto = w
		}
	}

	switch {
	case lost != -1:
		h.timerKind = timerLossDetection
		h.timerDeadline = now.Add(lost)
	case pto != -1:
		h.timerKind = timerPTO
		h.timerDeadline = now.Add(pto)
	default:
		h.timerKind = timerNone
		h.timerDeadline = time.Time{}
	}
}

// GetLossDetectionTimeout returns the time at which OnLossDetectionTimeout
// should next be called, or the zero Time if no timer is armed.
func (h *SentPacketHandler) GetLossDetectionTimeout() time.Time {
	return h.timerDeadline
}

// OnLossDetectionTimeout fires the armed timer: either loss detection, or a
// PTO probe.
func (h *SentPacketHandler) OnLossDetectionTimeout(now time.Time) error {
	switch h.timerKind {
	case timerLossDetection:
		if h.logger.Debug() {
			h.logger.Debugf("loss timer fired")
		}
		return h.detectLost(now, nil)
	case timerPTO:
		return h.onPTO(now)
	}
	return nil
}

// onPTO picks the single earliest-due packet number space, mirroring RFC
// 9002 Appendix A.9's GetPTOTimeAndSpace/OnLossDetectionTimeout: among every
// level whose most recently sent packet is both unacknowledged and past its
// PTO deadline, only the one with the earliest deadline gets probed. Sending
// probes at every simultaneously-due level would double the probe count
// whenever two spaces (e.g. Initial and Handshake) happen to come due at the
// same timer firing.
func (h *SentPacketHandler) onPTO(now time.Time) error {
	var due *sendContext
	var earliest time.Duration

	for _, c := range h.levels {
		if c.empty() {
			continue
		}

		back := c.back()
		if c.largestAck != protocol.InvalidPacketNumber && back.pnum <= c.largestAck {
			continue
		}

		w := back.sendTime.Add(h.ptoDuration(c.level) * time.Duration(uint64(1)<<h.ptoCount)).Sub(now)
		if w > 0 {
			continue
		}

		if due == nil || w < earliest {
			due = c
			earliest = w
		}
	}

	if due != nil && h.frameSend != nil {
		if h.logger.Debug() {
			h.logger.Debugf("pto %s count:%d", due.level, h.ptoCount)
		}
		for i := 0; i < 2; i++ {
			if err := h.frameSend.SendFrameNow(due.level, wire.PingFrame{}); err != nil {
				return err
			}
		}
	}

	h.ptoCount++
	h.setLostTimer(now)
	return nil
}

// SetHandshakeConfirmed enables max_ack_delay clamping for RTT samples and
// PTO at the Application level, per RFC 9001 Section 4.7 (the loss
// detection timer never uses max_ack_delay until then).
func (h *SentPacketHandler) SetHandshakeConfirmed() {
	h.handshakeConfirmed = true
}

// SetClosing suppresses the PostPush side effects of ACK handling and loss
// detection once the connection is tearing down.
func (h *SentPacketHandler) SetClosing() {
	h.closing = true
}
