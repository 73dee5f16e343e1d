package peer

import (
	"net"
	"time"

	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rerrors"
	"github.com/gordian-engine/rayworker/wire"
)

// Outbound is a service-packet instruction emitted by the FSM: the table
// never sends packets itself, it only describes what the reactor's send
// path (SPEC_FULL.md §G) should transmit.
type Outbound struct {
	Dest    *net.UDPAddr
	Iface   int
	Opcode  wire.Opcode
	Payload []byte
}

// Table is the worker's peer table (spec.md §3).
type Table struct {
	ownerID uint64
	mySeed  uint32
	byID    map[uint64]*Peer
}

// New returns an empty Table. ownerID is this worker's own id, and mySeed
// is this worker's own handshake nonce.
func New(ownerID uint64, mySeed uint32) *Table {
	return &Table{ownerID: ownerID, mySeed: mySeed, byID: make(map[uint64]*Peer)}
}

// Peers returns the live peer entries, for iteration by callers that need
// read-only access (e.g. WorkerStats).
func (t *Table) Peers() map[uint64]*Peer { return t.byID }

// Get returns the peer with the given id, if known.
func (t *Table) Get(id uint64) (*Peer, bool) {
	p, ok := t.byID[id]
	return p, ok
}

// ConnectTo registers a new peer learned via ConnectTo/MultipleConnect
// (spec.md §4.3) and returns the two ConnectionRequest packets to send.
func (t *Table) ConnectTo(id uint64, addrs [2]*net.UDPAddr) []Outbound {
	if existing, ok := t.byID[id]; ok {
		return t.requestPackets(existing)
	}

	p := newPeer(id, addrs, 0)
	t.byID[id] = p
	return t.requestPackets(p)
}

func (t *Table) requestPackets(p *Peer) []Outbound {
	out := make([]Outbound, 0, 2)
	for iface := 0; iface < 2; iface++ {
		if p.Addr[iface] == nil {
			continue
		}
		req := ConnectionRequest{
			MyID:      t.ownerID,
			MySeed:    t.mySeed,
			YourSeed:  p.Seed,
			AddressNo: uint8(iface),
		}
		out = append(out, Outbound{
			Dest:    p.Addr[iface],
			Iface:   iface,
			Opcode:  wire.OpConnectionRequest,
			Payload: EncodeConnectionRequest(req),
		})
	}
	return out
}

// HandleConnectionRequest implements spec.md §4.3: reply on the same
// interface if the peer is known, or defer the message (bounded to one
// retry per pass, enforced by the caller) if it is not.
func (t *Table) HandleConnectionRequest(src *net.UDPAddr, iface int, req ConnectionRequest, owned map[ray.TreeletID]struct{}) (Outbound, error) {
	p, ok := t.byID[req.MyID]
	if !ok {
		return Outbound{}, rerrors.DeferredError{Reason: "ConnectionRequest from unknown peer"}
	}

	p.Seed = req.MySeed

	treelets := make([]ray.TreeletID, 0, len(owned))
	for tl := range owned {
		treelets = append(treelets, tl)
	}

	resp := ConnectionResponse{
		WorkerID:  t.ownerID,
		MySeed:    t.mySeed,
		YourSeed:  req.MySeed,
		AddressNo: uint8(iface),
		Treelets:  treelets,
	}

	return Outbound{
		Dest:    src,
		Iface:   iface,
		Opcode:  wire.OpConnectionResponse,
		Payload: EncodeConnectionResponse(resp),
	}, nil
}

// PromotedTreelets is returned by HandleConnectionResponse: the set of
// treelets this peer announced for the first time, which the caller must
// promote out of the pending queue (spec.md §4.3).
type PromotedTreelets struct {
	PeerID   uint64
	Treelets []ray.TreeletID
}

// HandleConnectionResponse implements spec.md §4.3's seed check and the
// Connecting -> Connected transition once both interfaces are up.
func (t *Table) HandleConnectionResponse(resp ConnectionResponse, now time.Time) (PromotedTreelets, error) {
	p, ok := t.byID[resp.WorkerID]
	if !ok {
		return PromotedTreelets{}, rerrors.UnknownPeerError{WorkerID: resp.WorkerID}
	}

	if resp.YourSeed != t.mySeed {
		// Stale or mismatched reply; ignore without error per spec.md §7's
		// protocol-error handling (drop, log, don't fail the worker).
		return PromotedTreelets{}, nil
	}

	p.Seed = resp.MySeed
	p.Connected[resp.AddressNo] = true

	var newlyAnnounced []ray.TreeletID
	for _, tl := range resp.Treelets {
		if _, already := p.Treelets[tl]; !already {
			newlyAnnounced = append(newlyAnnounced, tl)
		}
		p.Treelets[tl] = struct{}{}
	}

	if p.bothConnected() && p.State != Connected {
		p.State = Connected
		p.NextKeepAlive = now.Add(KeepAliveInterval)
	}

	return PromotedTreelets{PeerID: p.ID, Treelets: newlyAnnounced}, nil
}

// Tick implements spec.md §4.3's peer-timer behavior: resend handshake
// requests to Connecting peers, and ping Connected peers whose keep-alive
// deadline has passed.
func (t *Table) Tick(now time.Time) []Outbound {
	var out []Outbound

	for _, p := range t.byID {
		switch p.State {
		case Connecting:
			p.Tries++
			out = append(out, t.requestPackets(p)...)

		case Connected:
			if p.ID == 0 {
				// Peer 0 is the coordinator; it has no UDP side of its own to
				// keep alive over, only the TCP control channel.
				continue
			}
			if !p.NextKeepAlive.After(now) {
				out = append(out, Outbound{
					Dest:    p.Addr[0],
					Iface:   0,
					Opcode:  wire.OpPing,
					Payload: EncodePing(t.ownerID),
				})
				p.NextKeepAlive = now.Add(KeepAliveInterval)
			}
		}
	}

	return out
}

// Empty reports whether the table has no peers, used by the Peers action's
// predicate (spec.md §4.8).
func (t *Table) Empty() bool { return len(t.byID) == 0 }
