package ackhandler

import (
	"container/list"

	"github.com/kittyhawk-quic/recovery/internal/protocol"
	"github.com/kittyhawk-quic/recovery/internal/wire"
)

// sendContext is the per-encryption-level Send Context from Section 3: the
// ordered queue of outstanding sent packets, the queue of frames still
// waiting to be sent, the packet-number generator for this level, and the
// highest packet number the peer has acknowledged at this level.
//
// sent is kept in strict send order, oldest first, exactly like the
// intrusive queue the loss detector walks from the head. A side index maps
// packet number to list element so that get and removePacket find a packet
// without a linear scan; ACK ranges are applied by walking the queue from
// the head (iterateUpTo).
type sendContext struct {
	level protocol.EncryptionLevel

	sent     *list.List // of *sentPacket
	sentByPN map[protocol.PacketNumber]*list.Element

	nextPnum protocol.PacketNumber

	largestAck protocol.PacketNumber // InvalidPacketNumber if never set

	pending []wire.Frame
}

func newSendContext(level protocol.EncryptionLevel) *sendContext {
	return &sendContext{
		level:      level,
		sent:       list.New(),
		sentByPN:   make(map[protocol.PacketNumber]*list.Element),
		nextPnum:   0,
		largestAck: protocol.InvalidPacketNumber,
	}
}

// QueueFrame appends a frame to this level's pending queue.
func (c *sendContext) QueueFrame(f wire.Frame) {
	c.pending = append(c.pending, f)
}

// nextPacketNumber allocates the next packet number for this level.
// QUIC packet numbers never repeat within a level and are assigned
// strictly in send order, so a plain counter suffices; the
// optimistic-ACK-defense packet-number skipping some implementations layer
// on top is a sender-side heuristic outside the scope of this core.
func (c *sendContext) nextPacketNumber() protocol.PacketNumber {
	pn := c.nextPnum
	c.nextPnum++
	return pn
}

// drainPending removes and returns every frame queued for this level,
// ready to be coalesced into the next outgoing packet.
func (c *sendContext) drainPending() []wire.Frame {
	if len(c.pending) == 0 {
		return nil
	}
	f := c.pending
	c.pending = nil
	return f
}

// recordSent appends a newly sent packet to the tail of the sent queue.
// Callers must supply packet numbers in increasing order, as returned by
// nextPacketNumber.
func (c *sendContext) recordSent(p *sentPacket) {
	c.sentByPN[p.pnum] = c.sent.PushBack(p)
}

// get returns the sentPacket for pnum, or nil if it isn't (or is no longer)
// tracked.
func (c *sendContext) get(pnum protocol.PacketNumber) *sentPacket {
	if e, ok := c.sentByPN[pnum]; ok {
		return e.Value.(*sentPacket)
	}
	return nil
}

// removePacket removes pnum from the sent queue and returns it, or nil if
// it wasn't tracked.
func (c *sendContext) removePacket(pnum protocol.PacketNumber) *sentPacket {
	e, ok := c.sentByPN[pnum]
	if !ok {
		return nil
	}
	delete(c.sentByPN, pnum)
	c.sent.Remove(e)
	return e.Value.(*sentPacket)
}

// front returns the oldest tracked packet, or nil if none.
func (c *sendContext) front() *sentPacket {
	if e := c.sent.Front(); e != nil {
		return e.Value.(*sentPacket)
	}
	return nil
}

// back returns the most recently sent tracked packet, or nil if none.
func (c *sendContext) back() *sentPacket {
	if e := c.sent.Back(); e != nil {
		return e.Value.(*sentPacket)
	}
	return nil
}

func (c *sendContext) empty() bool { return c.sent.Len() == 0 }

// iterateUpTo walks tracked packets from the head while pnum <= max,
// invoking visit for each and removing it from the queue if visit returns
// true. Iteration stops as soon as a pnum exceeds max or visit returns
// keepGoing=false (after removing the packet if remove is also true).
func (c *sendContext) iterateUpTo(max protocol.PacketNumber, visit func(p *sentPacket) (remove, keepGoing bool)) {
	for e := c.sent.Front(); e != nil; {
		p := e.Value.(*sentPacket)
		if p.pnum > max {
			return
		}
		next := e.Next()
		remove, keepGoing := visit(p)
		if remove {
			delete(c.sentByPN, p.pnum)
			c.sent.Remove(e)
		}
		if !keepGoing {
			return
		}
		e = next
	}
}
