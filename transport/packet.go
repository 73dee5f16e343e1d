// Package transport implements the reliable ray transport of spec.md §3,
// §4.6: packet assembly up to MTU, per-destination sequence numbers, ack
// aggregation, retransmission, and duplicate suppression.
package transport

import (
	"net"

	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/wire"
)

// RayPacket carries one or more serialized rays bound for a single
// destination peer and treelet (spec.md §3).
type RayPacket struct {
	Dest         *net.UDPAddr
	DestWorkerID uint64
	Treelet      ray.TreeletID
	SeqNo        uint64
	Attempt      uint16
	Reliable     bool
	Tracked      bool
	Payload      []byte

	// TrackedRays is a non-owning logging snapshot of the rays in this
	// packet (spec.md §9): clones, never back-pointers into a queue.
	TrackedRays []*ray.State
}

// ServicePacket is a single-shot, never-retransmitted control datagram
// (spec.md §3): handshake messages, pings, and ack frames.
type ServicePacket struct {
	Dest    *net.UDPAddr
	Iface   int
	Opcode  wire.Opcode
	Payload []byte
}

// AckEntry is one (seqNo, tracked, attempt) triple destined for an ack
// frame, per spec.md §4.6.3/§6.
type AckEntry struct {
	SeqNo   uint64
	Tracked bool
	Attempt uint16
}
