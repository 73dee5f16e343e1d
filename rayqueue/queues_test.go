package rayqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/rayworker/ray"
)

func TestClassifyOwnTreelet(t *testing.T) {
	q := New()
	owned := map[ray.TreeletID]struct{}{10: {}}

	r := &ray.State{Treelet: 10}
	q.Classify(r, owned, nil)

	require.Len(t, q.Ray, 1)
	require.Zero(t, q.OutSize)
	require.Zero(t, q.PendingSize)
}

func TestClassifyKnownRemoteTreelet(t *testing.T) {
	q := New()
	owned := map[ray.TreeletID]struct{}{}
	t2w := map[ray.TreeletID][]uint64{20: {99}}

	r := &ray.State{Treelet: 20}
	q.Classify(r, owned, t2w)

	require.Len(t, q.Out[20], 1)
	require.Equal(t, 1, q.OutSize)
	require.Zero(t, q.PendingSize)
}

func TestClassifyUnknownTreeletGoesPendingAndNeeded(t *testing.T) {
	q := New()

	r := &ray.State{Treelet: 30}
	q.Classify(r, map[ray.TreeletID]struct{}{}, map[ray.TreeletID][]uint64{})

	require.Len(t, q.Pending[30], 1)
	require.Equal(t, 1, q.PendingSize)
	_, needed := q.NeededTreelets[30]
	require.True(t, needed)
}

func TestPromoteTreeletMovesPendingToOut(t *testing.T) {
	q := New()
	q.Classify(&ray.State{Treelet: 1}, map[ray.TreeletID]struct{}{}, map[ray.TreeletID][]uint64{})
	require.Equal(t, 1, q.PendingSize)

	q.PromoteTreelet(1)

	require.Equal(t, 0, q.PendingSize)
	require.Equal(t, 1, q.OutSize)
	require.Len(t, q.Out[1], 1)
	_, needed := q.NeededTreelets[1]
	require.False(t, needed)
}

func TestPromoteTreeletWithNoPendingIsNoop(t *testing.T) {
	q := New()
	q.RequestedTreelets[5] = struct{}{}
	q.PromoteTreelet(5)
	require.Zero(t, q.OutSize)
	_, requested := q.RequestedTreelets[5]
	require.False(t, requested)
}

func TestAggregateCountersMatchSumOfPerTreeletQueues(t *testing.T) {
	q := New()
	t2w := map[ray.TreeletID][]uint64{1: {1}, 2: {2}}
	q.Classify(&ray.State{Treelet: 1}, nil, t2w)
	q.Classify(&ray.State{Treelet: 1}, nil, t2w)
	q.Classify(&ray.State{Treelet: 2}, nil, t2w)
	q.Classify(&ray.State{Treelet: 3}, nil, nil) // pending

	sumOut := 0
	for _, rs := range q.Out {
		sumOut += len(rs)
	}
	sumPending := 0
	for _, rs := range q.Pending {
		sumPending += len(rs)
	}

	require.Equal(t, sumOut, q.OutSize)
	require.Equal(t, sumPending, q.PendingSize)
}

func TestPopOutDecrementsSizeAndDeletesEmptyTreelet(t *testing.T) {
	q := New()
	q.Classify(&ray.State{Treelet: 7}, nil, map[ray.TreeletID][]uint64{7: {1}})

	r, ok := q.PopOut(7)
	require.True(t, ok)
	require.EqualValues(t, 7, r.Treelet)
	require.Zero(t, q.OutSize)
	_, present := q.Out[7]
	require.False(t, present)

	_, ok = q.PopOut(7)
	require.False(t, ok)
}
