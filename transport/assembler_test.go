package transport

import (
	"math/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/rayworker/pacing"
	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rayqueue"
)

func TestHandleOutQueueAssemblesOnePacketPerTreelet(t *testing.T) {
	q := rayqueue.New()
	t2w := map[ray.TreeletID][]uint64{1: {100}}
	q.Classify(&ray.State{Treelet: 1}, nil, t2w)
	q.Classify(&ray.State{Treelet: 1}, nil, t2w)
	q.Classify(&ray.State{Treelet: 1}, nil, t2w)

	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	resolve := func(id uint64) (*net.UDPAddr, bool) {
		if id == 100 {
			return dest, true
		}
		return nil, false
	}

	a := NewAssembler(rand.New(rand.NewSource(1)), 0)
	seq := NewSequenceSpace()

	packets := a.HandleOutQueue(q, t2w, resolve, seq, true)

	require.Len(t, packets, 1)
	require.EqualValues(t, 0, packets[0].SeqNo)
	require.True(t, packets[0].Reliable)
	require.Len(t, packets[0].TrackedRays, 3)
	require.Zero(t, q.OutSize)
}

func TestHandleOutQueueOverflowCarriesRayToNextPacket(t *testing.T) {
	q := rayqueue.New()
	t2w := map[ray.TreeletID][]uint64{1: {100}}

	// Build rays whose serialized size guarantees overflow after one ray
	// given the MTU budget.
	big := make([]byte, pacing.MTUBytes-MinHeaderBudget-128)
	q.Classify(&ray.State{Treelet: 1, Opaque: big}, nil, t2w)
	q.Classify(&ray.State{Treelet: 1, Opaque: big}, nil, t2w)

	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	resolve := func(id uint64) (*net.UDPAddr, bool) { return dest, true }

	a := NewAssembler(rand.New(rand.NewSource(1)), 0)
	seq := NewSequenceSpace()

	first := a.HandleOutQueue(q, t2w, resolve, seq, false)
	require.Len(t, first, 1)
	require.Len(t, first[0].TrackedRays, 1)
	require.Equal(t, 1, q.OutSize) // second ray carried over

	second := a.HandleOutQueue(q, t2w, resolve, seq, false)
	require.Len(t, second, 1)
	require.Len(t, second[0].TrackedRays, 1)
	require.EqualValues(t, 1, second[0].SeqNo)
	require.Zero(t, q.OutSize)
}

func TestHandleOutQueueSkipsTreeletWithNoKnownOwner(t *testing.T) {
	q := rayqueue.New()
	q.Out[1] = []*ray.State{{Treelet: 1}}
	q.OutSize = 1

	a := NewAssembler(rand.New(rand.NewSource(1)), 0)
	seq := NewSequenceSpace()

	packets := a.HandleOutQueue(q, map[ray.TreeletID][]uint64{}, func(uint64) (*net.UDPAddr, bool) { return nil, false }, seq, false)
	require.Empty(t, packets)
	require.Equal(t, 1, q.OutSize)
}
