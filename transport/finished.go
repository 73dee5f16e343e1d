package transport

import (
	"math"

	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rayqueue"
)

// FinishedPolicy selects how handleFinishedQueue disposes of completed
// rays, per spec.md §4.6.5.
type FinishedPolicy uint8

const (
	Discard FinishedPolicy = iota
	SendBack
	Upload
)

// FinishedDiscardWatermark is FINISHED_DISCARD_WATERMARK from spec.md §6.
const FinishedDiscardWatermark = 5_000

// FinishedRaysEntry is one record of the FinishedRays TCP message,
// per SPEC_FULL.md §D.
type FinishedRaysEntry struct {
	SampleID ray.PathID
	PFilm    [2]float32
	Weight   float32
	L        [3]float32
}

// HandleFinishedQueue implements spec.md §4.6.5's three policies.
//
// Discard clears the queue once it exceeds FinishedDiscardWatermark.
// SendBack drains the whole queue into FinishedRays entries, zeroing L
// whenever it is NaN/negative/infinite. Upload is a no-op placeholder
// (spec.md names the storage-backend upload path as an external
// collaborator this module does not implement).
func HandleFinishedQueue(q *rayqueue.Queues, policy FinishedPolicy) []FinishedRaysEntry {
	switch policy {
	case Discard:
		if len(q.Finished) > FinishedDiscardWatermark {
			q.Finished = nil
			q.FinishedPathIDs = nil
		}
		return nil

	case SendBack:
		rays, _ := q.DrainFinished()
		out := make([]FinishedRaysEntry, len(rays))
		for i, r := range rays {
			l := r.L()
			if invalidLuminance(l) {
				l = [3]float32{}
			}
			out[i] = FinishedRaysEntry{
				SampleID: r.PathID,
				PFilm:    r.Sample.PFilm,
				Weight:   r.Sample.Weight,
				L:        l,
			}
		}
		return out

	default: // Upload
		return nil
	}
}

func invalidLuminance(l [3]float32) bool {
	for _, v := range l {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) || v < 0 {
			return true
		}
	}
	return false
}
