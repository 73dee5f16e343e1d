package transport

import (
	"math/rand"
	"net"

	"github.com/gordian-engine/rayworker/pacing"
	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rayqueue"
)

// MinHeaderBudget is the minimum header reservation every ray packet's MTU
// budget must leave room for, per spec.md §4.6.1.
const MinHeaderBudget = 25

// AddrResolver resolves a peer worker id to its ray-path (interface 0)
// address. Kept as a function rather than a *peer.Table dependency so
// transport stays decoupled from the peer package (SPEC_FULL.md §G).
type AddrResolver func(workerID uint64) (*net.UDPAddr, bool)

// Assembler implements spec.md §4.6.1's packet assembly.
type Assembler struct {
	rng       *rand.Rand
	trackRate float64
}

// NewAssembler returns an Assembler that samples the tracked flag as a
// Bernoulli(trackRate) draw from rng.
func NewAssembler(rng *rand.Rand, trackRate float64) *Assembler {
	return &Assembler{rng: rng, trackRate: trackRate}
}

// HandleOutQueue builds at most one packet per non-empty out-queue
// treelet, greedily packing serialized rays up to pacing.MTUBytes with a
// minimum header budget, and returns the assembled packets for the
// transmit queue (spec.md §4.6.1).
func (a *Assembler) HandleOutQueue(
	q *rayqueue.Queues,
	treeletToWorker map[ray.TreeletID][]uint64,
	resolve AddrResolver,
	seq *SequenceSpace,
	reliable bool,
) []*RayPacket {
	var packets []*RayPacket

	for t, rays := range q.Out {
		if len(rays) == 0 {
			continue
		}

		owners := treeletToWorker[t]
		if len(owners) == 0 {
			continue
		}
		destID := owners[a.rng.Intn(len(owners))]

		destAddr, ok := resolve(destID)
		if !ok {
			continue
		}

		packetLen := MinHeaderBudget
		var payload []byte
		var tracked []*ray.State

		for len(q.Out[t]) > 0 {
			r := q.Out[t][0]

			rec := ray.Serialize(r)
			frameLen := 4 + len(rec)
			if packetLen+frameLen > pacing.MTUBytes {
				// Overflow: leave the ray at the front of the queue for
				// the next packet (spec.md §4.6.1).
				break
			}
			q.PopOut(t)

			lenPrefix := make([]byte, 4)
			lenPrefix[0] = byte(len(rec) >> 24)
			lenPrefix[1] = byte(len(rec) >> 16)
			lenPrefix[2] = byte(len(rec) >> 8)
			lenPrefix[3] = byte(len(rec))

			payload = append(payload, lenPrefix...)
			payload = append(payload, rec...)
			packetLen += frameLen
			tracked = append(tracked, r.Clone())
		}

		if len(payload) == 0 {
			continue
		}

		pkt := &RayPacket{
			Dest:         destAddr,
			DestWorkerID: destID,
			Treelet:      t,
			SeqNo:        seq.Next(destAddr.String()),
			Attempt:      0,
			Reliable:     reliable,
			Tracked:      a.rng.Float64() < a.trackRate,
			Payload:      payload,
			TrackedRays:  tracked,
		}
		packets = append(packets, pkt)
	}

	return packets
}
