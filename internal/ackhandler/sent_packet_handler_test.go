package ackhandler

import (
	"testing"
	"time"

	"github.com/kittyhawk-quic/recovery/internal/congestion"
	"github.com/kittyhawk-quic/recovery/internal/protocol"
	"github.com/kittyhawk-quic/recovery/internal/utils"
	"github.com/kittyhawk-quic/recovery/internal/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testMaxDatagramSize = protocol.ByteCount(1200)

type fakeEvents struct{ posts int }

func (f *fakeEvents) PostPush() { f.posts++ }

type sentFrame struct {
	level protocol.EncryptionLevel
	frame wire.Frame
}

type fakeFrameSender struct {
	sent []sentFrame
	err  error
}

func (f *fakeFrameSender) SendFrameNow(level protocol.EncryptionLevel, fr wire.Frame) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentFrame{level: level, frame: fr})
	return nil
}

type fakeFlowController struct {
	maxData    uint64
	maxStreams uint64
}

func (f *fakeFlowController) CurrentMaxData() uint64               { return f.maxData }
func (f *fakeFlowController) CurrentMaxStreams(bidi bool) uint64 { return f.maxStreams }

func newTestHandler() (*SentPacketHandler, congestion.SendAlgorithm, *utils.RTTStats, *fakeEvents) {
	cc := congestion.NewRenoSender(testMaxDatagramSize, 30*time.Second)
	rtt := utils.NewRTTStats()
	events := &fakeEvents{}
	h := NewSentPacketHandler(cc, rtt, utils.DefaultLogger, nil, nil, nil, nil, nil, events, nil,
		PeerTransportParameters{}, LocalTransportParameters{})
	return h, cc, rtt, events
}

// Scenario 1: full cumulative ACK drains the queue, samples RTT exactly,
// and grows the window in slow start.
func TestFullAckScenario(t *testing.T) {
	h, cc, rtt, _ := newTestHandler()
	t0 := time.Now()

	initialWindow := cc.GetCongestionWindow()
	for pn := protocol.PacketNumber(0); pn < 5; pn++ {
		got := h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)
		require.Equal(t, pn, got)
	}
	require.Equal(t, 5*testMaxDatagramSize, cc.InFlight())

	t1 := t0.Add(50 * time.Millisecond)
	err := h.ReceivedAck(protocol.Encryption1RTT, &wire.AckFrame{Largest: 4, FirstRange: 4}, t1)
	require.NoError(t, err)

	require.True(t, h.ctx(protocol.Encryption1RTT).empty())
	require.Zero(t, cc.InFlight())
	require.Equal(t, 50*time.Millisecond, rtt.LatestRTT())
	require.Equal(t, 50*time.Millisecond, rtt.SmoothedRTT())
	require.Equal(t, 25*time.Millisecond, rtt.MeanDeviation())
	require.Equal(t, initialWindow+5*testMaxDatagramSize, cc.GetCongestionWindow())
}

// P6: replaying the same ACK frame is a no-op the second time.
func TestDuplicateAckIsNoop(t *testing.T) {
	h, cc, _, _ := newTestHandler()
	t0 := time.Now()
	h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)

	ack := &wire.AckFrame{Largest: 0, FirstRange: 0}
	require.NoError(t, h.ReceivedAck(protocol.Encryption1RTT, ack, t0.Add(10*time.Millisecond)))
	windowAfterFirst := cc.GetCongestionWindow()

	require.NoError(t, h.ReceivedAck(protocol.Encryption1RTT, ack, t0.Add(20*time.Millisecond)))
	require.Equal(t, windowAfterFirst, cc.GetCongestionWindow())
}

// An ACK naming a packet number this level never sent is a protocol
// violation.
func TestAckForUnsentPacketIsProtocolViolation(t *testing.T) {
	h, _, _, _ := newTestHandler()
	t0 := time.Now()
	h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)

	err := h.ReceivedAck(protocol.Encryption1RTT, &wire.AckFrame{Largest: 5, FirstRange: 0}, t0.Add(time.Millisecond))
	require.Error(t, err)
}

// An ACK with first_range > largest is a malformed frame.
func TestAckWithInvalidFirstRangeIsFrameEncodingError(t *testing.T) {
	h, _, _, _ := newTestHandler()
	err := h.ReceivedAck(protocol.Encryption1RTT, &wire.AckFrame{Largest: 2, FirstRange: 5}, time.Now())
	require.Error(t, err)
}

// P4: largest_ack never decreases, and pto_count resets on any
// successful ACK removal.
func TestLargestAckMonotonicAndPTOCountResets(t *testing.T) {
	h, _, _, _ := newTestHandler()
	t0 := time.Now()
	for pn := protocol.PacketNumber(0); pn < 3; pn++ {
		h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)
	}
	h.ptoCount = 7

	require.NoError(t, h.ReceivedAck(protocol.Encryption1RTT, &wire.AckFrame{Largest: 1, FirstRange: 1}, t0.Add(time.Millisecond)))
	require.EqualValues(t, 1, h.ctx(protocol.Encryption1RTT).largestAck)
	require.Zero(t, h.ptoCount)

	// An older, already-superseded largest must not move largestAck back.
	require.NoError(t, h.ReceivedAck(protocol.Encryption1RTT, &wire.AckFrame{Largest: 0, FirstRange: 0}, t0.Add(2*time.Millisecond)))
	require.EqualValues(t, 1, h.ctx(protocol.Encryption1RTT).largestAck)
}

// Scenario 2/P7: a packet within the packet-reordering threshold is not
// lost until the time threshold also elapses.
func TestLossWaitsForTimeThresholdBelowPacketThreshold(t *testing.T) {
	h, cc, _, _ := newTestHandler()
	t0 := time.Now()
	for pn := protocol.PacketNumber(0); pn < 10; pn++ {
		h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)
	}

	// Acks 9 and 0..7, leaving 8 outstanding. 9-8=1 < packetThreshold(3).
	t1 := t0.Add(10 * time.Millisecond)
	ack := &wire.AckFrame{Largest: 9, FirstRange: 0, Ranges: []wire.AckRange{{Gap: 0, Range: 7}}}
	require.NoError(t, h.ReceivedAck(protocol.Encryption1RTT, ack, t1))

	require.NotNil(t, h.ctx(protocol.Encryption1RTT).get(8))
	windowBeforeLoss := cc.GetCongestionWindow()

	thr := h.lossThreshold()
	require.NoError(t, h.detectLost(t1.Add(thr+time.Millisecond), nil))

	require.Nil(t, h.ctx(protocol.Encryption1RTT).get(8))
	require.Equal(t, windowBeforeLoss/2, cc.GetCongestionWindow())
}

// Scenario 3/P7: a packet 3-or-more behind largest_ack is lost immediately,
// with no need to wait out the time threshold.
func TestLossAtPacketThresholdIsImmediate(t *testing.T) {
	h, _, _, _ := newTestHandler()
	t0 := time.Now()
	for pn := protocol.PacketNumber(0); pn < 10; pn++ {
		h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)
	}

	// Acks 7..9 only; 9-6=3 >= packetThreshold, so 6 (and 0..5) are lost now.
	ack := &wire.AckFrame{Largest: 9, FirstRange: 2}
	require.NoError(t, h.ReceivedAck(protocol.Encryption1RTT, ack, t0.Add(time.Millisecond)))

	for pn := protocol.PacketNumber(0); pn <= 6; pn++ {
		require.Nil(t, h.ctx(protocol.Encryption1RTT).get(pn), "pn %d should have been declared lost", pn)
	}
}

// P5: a lost packet halves the window (floored at 2*maxDatagramSize), but a
// second loss from the same recovery episode (sent before the episode
// started) must not halve it again.
func TestLossOnlyReducesWindowOncePerRecoveryEpisode(t *testing.T) {
	h, cc, _, _ := newTestHandler()
	t0 := time.Now()
	c := h.ctx(protocol.Encryption1RTT)
	h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)
	h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)
	initialWindow := cc.GetCongestionWindow()

	t1 := t0.Add(time.Millisecond)
	h.resend(c, c.get(0), t1)
	require.Equal(t, initialWindow/2, cc.GetCongestionWindow())

	h.resend(c, c.get(1), t1)
	require.Equal(t, initialWindow/2, cc.GetCongestionWindow())
	require.GreaterOrEqual(t, cc.GetCongestionWindow(), 2*testMaxDatagramSize)
}

// Scenario 5: PTO fires two PINGs and doubles the backoff, driven the way
// the real timer loop would: read GetLossDetectionTimeout, fire
// OnLossDetectionTimeout at exactly that deadline, repeat.
func TestPTOSendsTwoPingsAndDoublesBackoff(t *testing.T) {
	h, _, rtt, _ := newTestHandler()
	sender := &fakeFrameSender{}
	h.frameSend = sender

	rtt.UpdateRTT(20*time.Millisecond, 0, time.Now())

	t0 := time.Now()
	h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)

	base := h.ptoDuration(protocol.Encryption1RTT)
	require.Equal(t, t0.Add(base), h.GetLossDetectionTimeout())

	require.NoError(t, h.OnLossDetectionTimeout(h.GetLossDetectionTimeout()))
	require.Len(t, sender.sent, 2)
	for _, s := range sender.sent {
		require.Equal(t, wire.FrameTypePing, s.frame.FrameType())
	}
	require.EqualValues(t, 1, h.ptoCount)

	// Backoff doubles: the next deadline is base further out than the one
	// that just fired.
	require.Equal(t, t0.Add(base).Add(base), h.GetLossDetectionTimeout())

	sender.sent = nil
	require.NoError(t, h.OnLossDetectionTimeout(h.GetLossDetectionTimeout()))
	require.Len(t, sender.sent, 2)
	require.EqualValues(t, 2, h.ptoCount)
}

// PTO probes go out with ignore_congestion semantics regardless of which
// level is due; verified here against a gomock expectation instead of a
// hand-rolled fake, for the exact call count and argument level.
func TestPTOCallsFrameSenderExactlyTwice(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h, _, rtt, _ := newTestHandler()
	sender := NewMockFrameSender(ctrl)
	h.frameSend = sender

	rtt.UpdateRTT(20*time.Millisecond, 0, time.Now())
	t0 := time.Now()
	h.SentPacket(protocol.EncryptionHandshake, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)

	sender.EXPECT().SendFrameNow(protocol.EncryptionHandshake, wire.PingFrame{}).Return(nil).Times(2)

	base := h.ptoDuration(protocol.EncryptionHandshake)
	require.NoError(t, h.OnLossDetectionTimeout(t0.Add(base)))
}

// Scenario 6: a sustained loss episode spanning the persistent-congestion
// duration collapses the window to the RFC 9002 floor, overriding whatever
// the ordinary per-loss halving left it at.
func TestPersistentCongestionCollapsesWindow(t *testing.T) {
	h, cc, rtt, _ := newTestHandler()
	tBase := time.Now()
	rtt.UpdateRTT(100*time.Millisecond, 0, tBase)
	rtt.UpdateRTT(100*time.Millisecond, 0, tBase)
	h.peerParams.MaxAckDelay = 25 * time.Millisecond

	pcd := h.persistentCongestionDuration()
	thr := h.lossThreshold()

	// The two sent packets must span more than pcd, and firstRTT must
	// predate both, for detectLost to count them towards persistent
	// congestion.
	t0 := tBase.Add(time.Second)
	h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)
	h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0.Add(pcd+10*time.Millisecond))
	h.ctx(protocol.Encryption1RTT).largestAck = 1

	now := t0.Add(pcd).Add(10 * time.Millisecond).Add(thr).Add(time.Millisecond)
	// A disjoint ackTimeStat, as if the most recent ACK newly acknowledged
	// packets from long before this loss episode.
	st := &ackTimeStat{oldest: tBase.Add(-time.Hour), newest: tBase.Add(-time.Hour)}
	require.NoError(t, h.detectLost(now, st))

	require.Nil(t, h.ctx(protocol.Encryption1RTT).get(0))
	require.Nil(t, h.ctx(protocol.Encryption1RTT).get(1))
	require.Equal(t, 2*testMaxDatagramSize, cc.GetCongestionWindow())
}

// §4.C: a lost STREAM frame is re-queued verbatim, and a lost MAX_DATA frame
// is re-queued with the *current* flow-control limit, never the stale
// original. Both land on the Send Context's pending queue and must actually
// be retrievable from there by the sender via DrainPending.
func TestLossResendQueuesFrameForRetransmission(t *testing.T) {
	cc := congestion.NewRenoSender(testMaxDatagramSize, 30*time.Second)
	rtt := utils.NewRTTStats()
	flow := &fakeFlowController{maxData: 4096}
	h := NewSentPacketHandler(cc, rtt, utils.DefaultLogger, nil, nil, flow, nil, nil, nil, nil,
		PeerTransportParameters{}, LocalTransportParameters{})

	t0 := time.Now()
	c := h.ctx(protocol.Encryption1RTT)
	h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.StreamFrame{StreamID: 3, Data: []byte("hi")}}, testMaxDatagramSize, false, t0)
	h.SentPacket(protocol.Encryption1RTT, []wire.Frame{&wire.MaxDataFrame{MaximumData: 1024}}, testMaxDatagramSize, false, t0)

	h.resend(c, c.get(0), t0.Add(time.Millisecond))
	h.resend(c, c.get(1), t0.Add(time.Millisecond))

	pending := h.DrainPending(protocol.Encryption1RTT)
	require.Len(t, pending, 2)

	sf, ok := pending[0].(*wire.StreamFrame)
	require.True(t, ok)
	require.EqualValues(t, 3, sf.StreamID)

	md, ok := pending[1].(*wire.MaxDataFrame)
	require.True(t, ok)
	require.EqualValues(t, 4096, md.MaximumData, "resend must use the current limit, not the stale original")

	require.Empty(t, h.DrainPending(protocol.Encryption1RTT), "drain clears the queue")
}

// Two pn spaces both past their PTO deadline at the same timer firing (the
// common handshake case: Initial and Handshake share RTT stats and neither
// carries a max_ack_delay term) must still only probe one of them — RFC 9002
// Appendix A.9 picks a single earliest-due space, not every due space.
func TestPTOProbesOnlySingleEarliestDueLevel(t *testing.T) {
	h, _, rtt, _ := newTestHandler()
	sender := &fakeFrameSender{}
	h.frameSend = sender

	rtt.UpdateRTT(20*time.Millisecond, 0, time.Now())

	t0 := time.Now()
	h.SentPacket(protocol.EncryptionInitial, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)
	h.SentPacket(protocol.EncryptionHandshake, []wire.Frame{&wire.StreamFrame{}}, testMaxDatagramSize, false, t0)

	base := h.ptoDuration(protocol.EncryptionInitial)
	require.Equal(t, base, h.ptoDuration(protocol.EncryptionHandshake))

	require.NoError(t, h.OnLossDetectionTimeout(t0.Add(base)))

	require.Len(t, sender.sent, 2, "exactly one pn space should be probed, not both")
	for _, s := range sender.sent {
		require.Equal(t, protocol.EncryptionInitial, s.level)
	}
	require.EqualValues(t, 1, h.ptoCount)
}
