package ackhandler

import (
	"sync"
	"time"

	"github.com/kittyhawk-quic/recovery/internal/protocol"
	"github.com/kittyhawk-quic/recovery/internal/wire"
)

// sentPacket is one record in a Send Context's sent queue: a packet number
// that was sent, the frames it carried, and the bookkeeping the ACK
// Receiver and Loss Detector need to process it exactly once. This is the
// per-pnum entry of the Data Model's "sent" list.
type sentPacket struct {
	pnum     protocol.PacketNumber
	sendTime time.Time
	level    protocol.EncryptionLevel

	// plen is the packet's size in bytes, as accounted to the congestion
	// controller on send. It is zeroed once the packet is declared lost so
	// that a late-arriving ACK for it can't double-credit the window.
	plen protocol.ByteCount

	// ignoreCongestion marks packets that must never be handed to the
	// congestion controller, e.g. PTO PING probes.
	ignoreCongestion bool

	frames []wire.Frame
}

var sentPacketPool = sync.Pool{New: func() any { return &sentPacket{} }}

func getSentPacket() *sentPacket {
	p := sentPacketPool.Get().(*sentPacket)
	p.pnum = protocol.InvalidPacketNumber
	p.sendTime = time.Time{}
	p.level = protocol.EncryptionInitial
	p.plen = 0
	p.ignoreCongestion = false
	p.frames = nil
	return p
}

// putSentPacket returns a sentPacket record to the pool. Only records that
// were fully resolved (acknowledged, or lost with every frame either
// dropped or handed off to QueueFrame) are pooled.
func putSentPacket(p *sentPacket) {
	p.frames = nil
	sentPacketPool.Put(p)
}
