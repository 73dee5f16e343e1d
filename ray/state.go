// Package ray holds the ray/path data model (spec.md §3) and the Tracer
// boundary interface (spec.md §9) that the out-of-scope BVH/shading engine
// implements.
package ray

// TreeletID identifies a self-contained BVH sub-tree (spec.md §3).
type TreeletID uint32

// PathID identifies a camera path across all of its bounces.
type PathID uint64

// Sample is the film location and path throughput weight a ray carries
// toward its eventual radiance contribution.
type Sample struct {
	PFilm  [2]float32
	Weight float32
}

// State is a single ray's traversal and shading state as it moves between
// queues, peers, and tracer calls.
type State struct {
	PathID  PathID
	Sample  Sample
	ToVisit []uint32 // BVH node stack; empty => traversal complete
	Hop     uint32   // inter-worker transfers
	Tick    uint32   // wire (re)transmissions since last receive
	Bounces int      // remaining bounce budget
	Shadow  bool
	Hit     bool
	Treelet TreeletID

	Beta [3]float32 // path throughput
	Ld   [3]float32 // direct lighting contribution

	// Opaque carries tracer-private scratch data (e.g. intersection
	// record) that this module does not interpret.
	Opaque []byte
}

// CurrentTreelet reports the treelet the ray's traversal currently sits in.
func (r *State) CurrentTreelet() TreeletID { return r.Treelet }

// L returns the ray's final radiance contribution, beta * Ld, computed at
// the moment a ray is pushed to the finished queue.
func (r *State) L() [3]float32 {
	return [3]float32{
		r.Beta[0] * r.Ld[0],
		r.Beta[1] * r.Ld[1],
		r.Beta[2] * r.Ld[2],
	}
}

// Clone returns a shallow, independent copy suitable for a packet's
// tracked-rays list (SPEC_FULL.md §G / spec.md §9): a non-owning logging
// snapshot, never a back-pointer into a live queue.
func (r *State) Clone() *State {
	c := *r
	c.ToVisit = append([]uint32(nil), r.ToVisit...)
	c.Opaque = append([]byte(nil), r.Opaque...)
	return &c
}
