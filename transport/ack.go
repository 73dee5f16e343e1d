package transport

import (
	"net"
	"time"

	"github.com/gordian-engine/rayworker/wire"
)

type sourceAcks struct {
	addr    *net.UDPAddr
	entries []AckEntry
}

// AckHandler implements spec.md §4.6.3 (send pending acks, retransmit
// timed-out outstanding packets) and §4.6.4 (receive-side dedup and ack
// parsing).
type AckHandler struct {
	senderID uint64
	pending  map[string]*sourceAcks // toBeAcked, keyed by source address
}

// NewAckHandler returns an AckHandler that stamps outgoing ack frames with
// senderID.
func NewAckHandler(senderID uint64) *AckHandler {
	return &AckHandler{senderID: senderID, pending: make(map[string]*sourceAcks)}
}

// Empty reports whether no acks are waiting to be sent, for the RayAcks
// action's predicate (spec.md §4.8).
func (h *AckHandler) Empty() bool {
	for _, sa := range h.pending {
		if len(sa.entries) > 0 {
			return false
		}
	}
	return true
}

func (h *AckHandler) recordPending(src *net.UDPAddr, e AckEntry) {
	key := src.String()
	sa, ok := h.pending[key]
	if !ok {
		sa = &sourceAcks{addr: src}
		h.pending[key] = sa
	}
	sa.entries = append(sa.entries, e)
}

// drainAcks packs every pending ack entry, per source, into one or more
// MTU-bounded Ack ServicePackets.
func (h *AckHandler) drainAcks() ([]*ServicePacket, error) {
	var out []*ServicePacket

	for key, sa := range h.pending {
		entries := sa.entries
		for len(entries) > 0 {
			payload, n := encodeAckEntries(entries)
			entries = entries[n:]

			m := wire.Message{SenderID: h.senderID, Opcode: wire.OpAck, Payload: payload}
			b, err := wire.Encode(m)
			if err != nil {
				return nil, err
			}
			out = append(out, &ServicePacket{Dest: sa.addr, Iface: 0, Opcode: wire.OpAck, Payload: b})
		}
		delete(h.pending, key)
	}

	return out, nil
}

// HandleRayAcknowledgements implements spec.md §4.6.3: drain all pending
// acks into service packets, then retransmit the front of outstanding
// while its deadline has passed and the destination has acked at least
// once before (the liveness gate).
func (h *AckHandler) HandleRayAcknowledgements(
	outstanding *OutstandingQueue,
	receivedAcks *ReceivedAcks,
	now time.Time,
) ([]*ServicePacket, []*RayPacket, error) {
	acks, err := h.drainAcks()
	if err != nil {
		return nil, nil, err
	}

	var requeued []*RayPacket
	for {
		deadline, pkt, ok := outstanding.Front()
		if !ok || deadline.After(now) {
			break
		}

		destKey := pkt.Dest.String()
		if !receivedAcks.NonEmpty(destKey) {
			break
		}

		outstanding.PopFront()

		if receivedAcks.Contains(destKey, pkt.SeqNo) {
			continue // acked; drop
		}

		pkt.Attempt++
		requeued = append(requeued, pkt)
	}

	return acks, requeued, nil
}

// HandleUDPReceive implements spec.md §4.6.4 for one freshly received
// datagram: reliable messages are recorded for acking and deduplicated
// against ReceivedSet; Ack messages are parsed into receivedAcks and
// dropped; everything else is returned for the control-plane handler to
// process.
//
// Each call corresponds to one datagram, which spec.md §4.2 defines as
// exactly one message; the "newest-to-oldest" walk spec.md §4.6.4
// describes accounts for a receive activation that drains several ready
// datagrams at once, which this reactor's one-ready-event-per-datagram
// model makes unnecessary -- see DESIGN.md.
func (h *AckHandler) HandleUDPReceive(
	src *net.UDPAddr,
	m wire.Message,
	received *ReceivedSet,
	receivedAcks *ReceivedAcks,
) (forward bool, duplicate bool) {
	if m.Opcode == wire.OpAck {
		for _, e := range decodeAckEntries(m.Payload) {
			receivedAcks.Add(src.String(), e.SeqNo)
		}
		return false, false
	}

	if !m.Reliable {
		return true, false
	}

	h.recordPending(src, AckEntry{SeqNo: m.SeqNo, Tracked: m.Tracked, Attempt: m.Attempt})

	if received.Contains(src.String(), m.SeqNo) {
		return false, true
	}
	received.Insert(src.String(), m.SeqNo)

	return true, false
}
