package transport

import (
	"time"

	"github.com/gordian-engine/rayworker/pacing"
	"github.com/gordian-engine/rayworker/wire"
)

// PacketTimeout is PACKET_TIMEOUT from spec.md §6.
const PacketTimeout = time.Second

// Stats accumulates the send-side counters spec.md §4.6.2 requires.
type Stats struct {
	SentRays  int64
	ResentRays int64
}

func (s *Stats) RecordSentRays(n int)  { s.SentRays += int64(n) }
func (s *Stats) RecordResentRays(n int) { s.ResentRays += int64(n) }

// Sender implements spec.md §4.6.2's handleUdpSend: service packets drain
// before ray packets on interface 0, only service packets may go on
// interface 1, and at most one packet is sent per activation so the
// reactor can re-evaluate pacing between sends.
type Sender struct {
	senderID uint64
	stats    *Stats
}

// NewSender returns a Sender that stamps outgoing frames with senderID.
func NewSender(senderID uint64, stats *Stats) *Sender {
	return &Sender{senderID: senderID, stats: stats}
}

// HandleUDPSend sends at most one packet on the given interface.
//
// svc is the pending service-packet queue for this interface; rayPkts is
// the shared ray-packet transmit queue (only consulted for interface 0).
// Returns whether a packet was sent.
func (s *Sender) HandleUDPSend(
	iface int,
	ch *pacing.Channel,
	svc *[]*ServicePacket,
	rayPkts *[]*RayPacket,
	outstanding *OutstandingQueue,
	now time.Time,
) (bool, error) {
	if len(*svc) > 0 {
		pkt := (*svc)[0]
		*svc = (*svc)[1:]
		if _, err := ch.Send(pkt.Dest, pkt.Payload); err != nil {
			return false, err
		}
		return true, nil
	}

	if iface != 0 {
		return false, nil
	}

	if len(*rayPkts) == 0 {
		return false, nil
	}

	pkt := (*rayPkts)[0]
	*rayPkts = (*rayPkts)[1:]

	m := wire.Message{
		SenderID: s.senderID,
		Opcode:   wire.OpSendRays,
		Payload:  pkt.Payload,
		Reliable: pkt.Reliable,
		Tracked:  pkt.Tracked,
		SeqNo:    pkt.SeqNo,
		Attempt:  pkt.Attempt,
	}
	b, err := wire.Encode(m)
	if err != nil {
		return false, err
	}

	if _, err := ch.Send(pkt.Dest, b); err != nil {
		return false, err
	}

	isRetransmission := pkt.Attempt > 0
	for _, r := range pkt.TrackedRays {
		r.Tick++
	}
	if isRetransmission {
		s.stats.RecordResentRays(len(pkt.TrackedRays))
	} else {
		s.stats.RecordSentRays(len(pkt.TrackedRays))
	}

	if pkt.Reliable {
		outstanding.PushBack(now.Add(PacketTimeout), pkt)
	}

	return true, nil
}
