package congestion

import (
	"testing"
	"time"

	"github.com/kittyhawk-quic/recovery/internal/protocol"
	"github.com/stretchr/testify/require"
)

const testMaxDatagramSize = protocol.ByteCount(1200)

func newTestSender() *RenoSender {
	return NewRenoSender(testMaxDatagramSize, 30*time.Second)
}

func TestInitialWindow(t *testing.T) {
	r := newTestSender()
	require.Equal(t, protocol.InitialWindowPacketCount*testMaxDatagramSize, r.GetCongestionWindow())
}

func TestSlowStartGrowth(t *testing.T) {
	r := newTestSender()
	now := time.Now()
	for _, pn := range []protocol.PacketNumber{0, 1, 2, 3, 4} {
		r.OnPacketSent(pn, testMaxDatagramSize, false)
	}
	require.Equal(t, 5*testMaxDatagramSize, r.InFlight())

	initial := r.GetCongestionWindow()
	for _, pn := range []protocol.PacketNumber{0, 1, 2, 3, 4} {
		r.OnPacketAcked(now, pn, now, testMaxDatagramSize)
	}
	require.Zero(t, r.InFlight())
	require.Equal(t, initial+5*testMaxDatagramSize, r.GetCongestionWindow())
}

func TestLossHalvesWindowAndSetsSSThresh(t *testing.T) {
	r := newTestSender()
	now := time.Now()
	r.OnPacketSent(0, testMaxDatagramSize, false)

	before := r.GetCongestionWindow()
	r.OnPacketLost(now, 0, now, testMaxDatagramSize)

	require.Equal(t, before/2, r.GetCongestionWindow())
	require.Equal(t, r.GetCongestionWindow(), r.ssthresh)
	require.GreaterOrEqual(t, r.GetCongestionWindow(), 2*testMaxDatagramSize)
}

func TestWindowNeverBelowTwoDatagrams(t *testing.T) {
	r := NewRenoSender(testMaxDatagramSize, 30*time.Second)
	r.window = 2 * testMaxDatagramSize
	now := time.Now()
	r.OnPacketSent(0, testMaxDatagramSize, false)
	r.OnPacketLost(now, 0, now, testMaxDatagramSize)
	require.Equal(t, 2*testMaxDatagramSize, r.GetCongestionWindow())
}

func TestSecondLossInSameRecoveryEpisodeDoesNotShrinkAgain(t *testing.T) {
	r := newTestSender()
	now := time.Now()
	r.OnPacketSent(0, testMaxDatagramSize, false)
	r.OnPacketSent(1, testMaxDatagramSize, false)

	r.OnPacketLost(now, 0, now, testMaxDatagramSize)
	afterFirst := r.GetCongestionWindow()

	// Packet 1 was sent no later than recoveryStart (== now), so it must
	// not trigger a second reduction.
	r.OnPacketLost(now.Add(time.Millisecond), 1, now, testMaxDatagramSize)
	require.Equal(t, afterFirst, r.GetCongestionWindow())
}

func TestPersistentCongestionCollapsesWindow(t *testing.T) {
	r := newTestSender()
	r.window = 100 * testMaxDatagramSize
	r.ssthresh = 50 * testMaxDatagramSize
	r.OnPersistentCongestion(time.Now())
	require.Equal(t, 2*testMaxDatagramSize, r.GetCongestionWindow())
	require.Equal(t, 50*testMaxDatagramSize, r.ssthresh)
}

func TestRstPacketNumberIgnoresOlderPackets(t *testing.T) {
	r := newTestSender()
	r.SetRstPacketNumber(10)
	r.OnPacketSent(5, testMaxDatagramSize, false)
	require.Zero(t, r.InFlight())
	r.OnPacketSent(10, testMaxDatagramSize, false)
	require.Equal(t, testMaxDatagramSize, r.InFlight())
}

func TestIgnoreCongestionPacketsDoNotCountInFlight(t *testing.T) {
	r := newTestSender()
	r.OnPacketSent(0, testMaxDatagramSize, true)
	require.Zero(t, r.InFlight())
}
