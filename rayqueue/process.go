package rayqueue

import (
	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rerrors"
)

// HandleRayQueue drains up to MaxRaysPerActivation rays from the ray
// queue, exactly per spec.md §4.5.
//
// Classification happens only after every ray pulled in this activation
// has been processed: processed rays are buffered locally and drained to
// the queues at the end, preserving per-activation ordering (spec.md
// §4.5's tie-break rule).
func (q *Queues) HandleRayQueue(
	tracer ray.Tracer,
	bvh ray.BVH,
	lights ray.Lights,
	sampler ray.Sampler,
	owned map[ray.TreeletID]struct{},
	treeletToWorker map[ray.TreeletID][]uint64,
) error {
	n := len(q.Ray)
	if n > MaxRaysPerActivation {
		n = MaxRaysPerActivation
	}
	if n == 0 {
		return nil
	}

	batch := q.Ray[:n]
	q.Ray = q.Ray[n:]

	var toClassify []*ray.State

	for _, r := range batch {
		switch {
		case len(r.ToVisit) > 0:
			traced, err := tracer.Trace(r, bvh)
			if err != nil {
				return err
			}

			switch {
			case traced.Shadow && (traced.Hit || len(traced.ToVisit) == 0):
				if traced.Hit {
					traced.Ld = [3]float32{}
				}
				q.PushFinished(traced, false)

			case len(traced.ToVisit) > 0 || traced.Hit:
				toClassify = append(toClassify, traced)

			default:
				traced.Ld = [3]float32{}
				q.PushFinished(traced, true)
			}

		case r.Hit:
			spawned, pathDone, err := tracer.Shade(r, bvh, lights, sampler)
			if err != nil {
				return err
			}
			toClassify = append(toClassify, spawned...)
			if pathDone {
				q.FinishedPathIDs = append(q.FinishedPathIDs, r.PathID)
			}

		default:
			return rerrors.InvariantViolationError{
				Detail: "ray reached handleRayQueue with empty ToVisit and no hit",
			}
		}
	}

	for _, r := range toClassify {
		q.Classify(r, owned, treeletToWorker)
	}

	return nil
}
