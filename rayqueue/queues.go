// Package rayqueue implements the four ray queues and the admission rules
// that move rays between them (spec.md §3, §4.4, §4.5).
package rayqueue

import (
	"github.com/gordian-engine/rayworker/ray"
)

// MaxRaysPerActivation is MAX_RAYS from spec.md §4.5/§6.
const MaxRaysPerActivation = 20_000

// Queues holds the worker's four ray queues plus the derived counters and
// demand telemetry spec.md §3/§4.4 require.
type Queues struct {
	Ray      []*ray.State
	Out      map[ray.TreeletID][]*ray.State
	Pending  map[ray.TreeletID][]*ray.State
	Finished []*ray.State

	FinishedPathIDs []ray.PathID

	OutSize     int
	PendingSize int

	NeededTreelets    map[ray.TreeletID]struct{}
	RequestedTreelets map[ray.TreeletID]struct{}
}

// New returns an empty Queues ready for use.
func New() *Queues {
	return &Queues{
		Out:               make(map[ray.TreeletID][]*ray.State),
		Pending:           make(map[ray.TreeletID][]*ray.State),
		NeededTreelets:    make(map[ray.TreeletID]struct{}),
		RequestedTreelets: make(map[ray.TreeletID]struct{}),
	}
}

// Classify implements the post-trace/newly-generated admission rule from
// spec.md §4.4: own treelet goes to the ray queue, a treelet with a known
// remote owner goes to the out queue, and an unknown treelet goes to the
// pending queue and is recorded as needed.
func (q *Queues) Classify(r *ray.State, owned map[ray.TreeletID]struct{}, treeletToWorker map[ray.TreeletID][]uint64) {
	t := r.CurrentTreelet()

	if _, ok := owned[t]; ok {
		q.Ray = append(q.Ray, r)
		return
	}

	if owners, ok := treeletToWorker[t]; ok && len(owners) > 0 {
		q.Out[t] = append(q.Out[t], r)
		q.OutSize++
		return
	}

	q.Pending[t] = append(q.Pending[t], r)
	q.PendingSize++
	q.NeededTreelets[t] = struct{}{}
}

// PromoteTreelet moves every ray waiting on an unknown owner for treelet t
// into the out queue, once a peer has announced ownership of t (spec.md
// §4.3).
func (q *Queues) PromoteTreelet(t ray.TreeletID) {
	pending, ok := q.Pending[t]
	if !ok || len(pending) == 0 {
		delete(q.NeededTreelets, t)
		delete(q.RequestedTreelets, t)
		return
	}

	q.Out[t] = append(q.Out[t], pending...)
	q.OutSize += len(pending)
	q.PendingSize -= len(pending)

	delete(q.Pending, t)
	delete(q.NeededTreelets, t)
	delete(q.RequestedTreelets, t)
}

// PopOut removes and returns the front ray of outQueue[t], if any.
func (q *Queues) PopOut(t ray.TreeletID) (*ray.State, bool) {
	rays := q.Out[t]
	if len(rays) == 0 {
		return nil, false
	}
	r := rays[0]
	q.Out[t] = rays[1:]
	q.OutSize--
	if len(q.Out[t]) == 0 {
		delete(q.Out, t)
	}
	return r, true
}

// PushFinished enqueues a completed ray and, if done is true, records its
// path as finished (spec.md §4.4/§4.5).
func (q *Queues) PushFinished(r *ray.State, pathDone bool) {
	q.Finished = append(q.Finished, r)
	if pathDone {
		q.FinishedPathIDs = append(q.FinishedPathIDs, r.PathID)
	}
}

// DrainFinished removes and returns all finished rays and path ids.
func (q *Queues) DrainFinished() ([]*ray.State, []ray.PathID) {
	rays, ids := q.Finished, q.FinishedPathIDs
	q.Finished = nil
	q.FinishedPathIDs = nil
	return rays, ids
}
