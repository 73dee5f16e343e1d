package transport

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rayqueue"
)

func pushFinished(q *rayqueue.Queues, n int) {
	for i := 0; i < n; i++ {
		q.PushFinished(&ray.State{PathID: ray.PathID(i)}, true)
	}
}

func TestHandleFinishedQueueDiscardClearsOnlyPastWatermark(t *testing.T) {
	q := rayqueue.New()
	pushFinished(q, FinishedDiscardWatermark)

	out := HandleFinishedQueue(q, Discard)
	require.Nil(t, out)
	require.Len(t, q.Finished, FinishedDiscardWatermark)

	q.PushFinished(&ray.State{}, false)
	out = HandleFinishedQueue(q, Discard)
	require.Nil(t, out)
	require.Empty(t, q.Finished)
}

func TestHandleFinishedQueueSendBackDrainsAllEntries(t *testing.T) {
	q := rayqueue.New()
	q.PushFinished(&ray.State{
		PathID: 7,
		Sample: ray.Sample{PFilm: [2]float32{1, 2}, Weight: 0.5},
		Beta:   [3]float32{1, 1, 1},
		Ld:     [3]float32{0.5, 0.5, 0.5},
	}, true)

	out := HandleFinishedQueue(q, SendBack)
	require.Len(t, out, 1)
	require.EqualValues(t, 7, out[0].SampleID)
	require.Equal(t, [3]float32{0.5, 0.5, 0.5}, out[0].L)
	require.Empty(t, q.Finished)
}

func TestHandleFinishedQueueSendBackZeroesInvalidLuminance(t *testing.T) {
	q := rayqueue.New()
	q.PushFinished(&ray.State{
		Beta: [3]float32{1, 1, 1},
		Ld:   [3]float32{float32(math.NaN()), -1, 1},
	}, false)

	out := HandleFinishedQueue(q, SendBack)
	require.Len(t, out, 1)
	require.Equal(t, [3]float32{}, out[0].L)
}

func TestHandleFinishedQueueUploadIsNoOp(t *testing.T) {
	q := rayqueue.New()
	pushFinished(q, 3)

	out := HandleFinishedQueue(q, Upload)
	require.Nil(t, out)
	require.Len(t, q.Finished, 3)
}

func TestInvalidLuminanceDetectsInfinity(t *testing.T) {
	require.True(t, invalidLuminance([3]float32{float32(math.Inf(1)), 0, 0}))
	require.False(t, invalidLuminance([3]float32{1, 2, 3}))
}
