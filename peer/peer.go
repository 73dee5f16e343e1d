// Package peer implements the peer table and connection state machine of
// spec.md §3/§4.3: dual-address handshake, keep-alive, and the treelet
// ownership a peer announces once connected.
package peer

import (
	"net"
	"time"

	"github.com/gordian-engine/rayworker/ray"
)

// State is a peer's connection progress, per spec.md §3.
type State uint8

const (
	Connecting State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "Connected"
	}
	return "Connecting"
}

// KeepAliveInterval is KEEP_ALIVE_INTERVAL from spec.md §6.
const KeepAliveInterval = time.Second

// Peer is one entry in the peer table, per spec.md §3.
type Peer struct {
	ID        uint64
	Addr      [2]*net.UDPAddr
	Connected [2]bool
	Seed      uint32
	State     State
	Treelets  map[ray.TreeletID]struct{}

	NextKeepAlive time.Time
	Tries         int
}

func newPeer(id uint64, addrs [2]*net.UDPAddr, seed uint32) *Peer {
	return &Peer{
		ID:       id,
		Addr:     addrs,
		Seed:     seed,
		State:    Connecting,
		Treelets: make(map[ray.TreeletID]struct{}),
	}
}

// bothConnected reports whether both interfaces have completed the
// handshake, the precondition for advancing to Connected (spec.md §4.3).
func (p *Peer) bothConnected() bool {
	return p.Connected[0] && p.Connected[1]
}
