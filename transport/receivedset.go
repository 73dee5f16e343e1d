package transport

import (
	"github.com/bits-and-blooms/bitset"
)

// ReceivedSet deduplicates reliable messages per source address (spec.md
// §3/§4.6.4). It is backed by bits-and-blooms/bitset, keeping one growable
// bitmap per source keyed directly by sequence number.
type ReceivedSet struct {
	bySource map[string]*bitset.BitSet
}

// NewReceivedSet returns an empty ReceivedSet.
func NewReceivedSet() *ReceivedSet {
	return &ReceivedSet{bySource: make(map[string]*bitset.BitSet)}
}

// Contains reports whether seq has already been delivered from source.
func (r *ReceivedSet) Contains(source string, seq uint64) bool {
	bs, ok := r.bySource[source]
	if !ok {
		return false
	}
	return bs.Test(uint(seq))
}

// Insert records seq as delivered from source. The set never shrinks
// (spec.md §8's invariant): bits are only ever set, never cleared.
func (r *ReceivedSet) Insert(source string, seq uint64) {
	bs, ok := r.bySource[source]
	if !ok {
		bs = bitset.New(uint(seq) + 1)
		r.bySource[source] = bs
	}
	bs.Set(uint(seq))
}

// ReceivedAcks tracks, per destination, the sequence numbers that
// destination has acked (spec.md §4.6.3's receivedAcks liveness/dedup
// gate).
type ReceivedAcks struct {
	byDest map[string]*bitset.BitSet
}

// NewReceivedAcks returns an empty ReceivedAcks tracker.
func NewReceivedAcks() *ReceivedAcks {
	return &ReceivedAcks{byDest: make(map[string]*bitset.BitSet)}
}

// Add records that dest has acked seq.
func (r *ReceivedAcks) Add(dest string, seq uint64) {
	bs, ok := r.byDest[dest]
	if !ok {
		bs = bitset.New(uint(seq) + 1)
		r.byDest[dest] = bs
	}
	bs.Set(uint(seq))
}

// Contains reports whether dest has previously acked seq.
func (r *ReceivedAcks) Contains(dest string, seq uint64) bool {
	bs, ok := r.byDest[dest]
	if !ok {
		return false
	}
	return bs.Test(uint(seq))
}

// NonEmpty reports whether dest has acked at least one sequence number,
// the liveness gate spec.md §4.6.3 requires before retransmitting to it.
func (r *ReceivedAcks) NonEmpty(dest string) bool {
	bs, ok := r.byDest[dest]
	return ok && bs.Any()
}
