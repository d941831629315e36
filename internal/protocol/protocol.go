// Package protocol defines the wire-level types shared by the loss-recovery
// core: packet numbers, byte counts and encryption levels.
package protocol

import "fmt"

// PacketNumber is a QUIC packet number. It is a 62-bit integer in the wire
// format; we use an int64 here since that comfortably covers the valid range.
type PacketNumber int64

// InvalidPacketNumber is used as "not set" / "never observed" sentinel.
const InvalidPacketNumber PacketNumber = -1

func (p PacketNumber) String() string {
	if p == InvalidPacketNumber {
		return "unset"
	}
	return fmt.Sprintf("%d", int64(p))
}

// ByteCount is used to count bytes.
type ByteCount int64

// EncryptionLevel is the encryption level of a packet.
type EncryptionLevel uint8

const (
	EncryptionInitial EncryptionLevel = iota
	EncryptionHandshake
	Encryption1RTT
)

func (e EncryptionLevel) String() string {
	switch e {
	case EncryptionInitial:
		return "Initial"
	case EncryptionHandshake:
		return "Handshake"
	case Encryption1RTT:
		return "Application"
	default:
		return "unknown"
	}
}

// NumberOfEncryptionLevels is the number of independent packet number spaces /
// Send Contexts tracked by the loss-recovery core.
const NumberOfEncryptionLevels = 3

// MaxAckRanges bounds the receiver-side range database. Once it is full, a
// new range drops the oldest one and a packet older than every tracked range
// is not recorded; no ACK is emitted early because of it.
const MaxAckRanges = 64

// MaxUDPPayloadSizeDefault is used when no path MTU has been negotiated yet.
const MaxUDPPayloadSizeDefault ByteCount = 1252

// InitialWindowPacketCount is the initial congestion window in datagrams,
// RFC 9002 7.2.
const InitialWindowPacketCount = 10
