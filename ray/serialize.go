package ray

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	flagShadow uint8 = 1 << 0
	flagHit    uint8 = 1 << 1
)

func putFloat32(b []byte, f float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(f))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// Serialize renders a ray State as the fixed binary record carried inside
// a SendRays/FinishedRays payload (spec.md §6).
func Serialize(r *State) []byte {
	size := 8 + // PathID
		4 + 4 + 4 + // PFilm x2, Weight
		4 + 4*len(r.ToVisit) + // ToVisit length-prefixed
		4 + 4 + 4 + // Hop, Tick, Bounces
		1 + // flags
		4 + // Treelet
		4*3 + 4*3 + // Beta, Ld
		4 + len(r.Opaque) // Opaque length-prefixed

	b := make([]byte, size)
	off := 0

	binary.BigEndian.PutUint64(b[off:], uint64(r.PathID))
	off += 8

	putFloat32(b[off:], r.Sample.PFilm[0])
	off += 4
	putFloat32(b[off:], r.Sample.PFilm[1])
	off += 4
	putFloat32(b[off:], r.Sample.Weight)
	off += 4

	binary.BigEndian.PutUint32(b[off:], uint32(len(r.ToVisit)))
	off += 4
	for _, n := range r.ToVisit {
		binary.BigEndian.PutUint32(b[off:], n)
		off += 4
	}

	binary.BigEndian.PutUint32(b[off:], r.Hop)
	off += 4
	binary.BigEndian.PutUint32(b[off:], r.Tick)
	off += 4
	binary.BigEndian.PutUint32(b[off:], uint32(r.Bounces))
	off += 4

	var flags uint8
	if r.Shadow {
		flags |= flagShadow
	}
	if r.Hit {
		flags |= flagHit
	}
	b[off] = flags
	off++

	binary.BigEndian.PutUint32(b[off:], uint32(r.Treelet))
	off += 4

	for _, v := range r.Beta {
		putFloat32(b[off:], v)
		off += 4
	}
	for _, v := range r.Ld {
		putFloat32(b[off:], v)
		off += 4
	}

	binary.BigEndian.PutUint32(b[off:], uint32(len(r.Opaque)))
	off += 4
	copy(b[off:], r.Opaque)
	off += len(r.Opaque)

	return b
}

// Deserialize parses a record produced by Serialize, returning the number
// of bytes consumed so a caller can walk a length-prefixed sequence of
// records (spec.md §6's SendRays payload).
func Deserialize(b []byte) (*State, int, error) {
	const minHeader = 8 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 1 + 4 + 4*3 + 4*3 + 4
	if len(b) < minHeader {
		return nil, 0, fmt.Errorf("ray: short record: have %d bytes, need at least %d", len(b), minHeader)
	}

	r := &State{}
	off := 0

	r.PathID = PathID(binary.BigEndian.Uint64(b[off:]))
	off += 8

	r.Sample.PFilm[0] = getFloat32(b[off:])
	off += 4
	r.Sample.PFilm[1] = getFloat32(b[off:])
	off += 4
	r.Sample.Weight = getFloat32(b[off:])
	off += 4

	n := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if len(b) < minHeader+4*n {
		return nil, 0, fmt.Errorf("ray: truncated record: %d ToVisit entries need at least %d bytes, have %d", n, minHeader+4*n, len(b))
	}
	if n > 0 {
		r.ToVisit = make([]uint32, n)
		for i := 0; i < n; i++ {
			r.ToVisit[i] = binary.BigEndian.Uint32(b[off:])
			off += 4
		}
	}

	r.Hop = binary.BigEndian.Uint32(b[off:])
	off += 4
	r.Tick = binary.BigEndian.Uint32(b[off:])
	off += 4
	r.Bounces = int(int32(binary.BigEndian.Uint32(b[off:])))
	off += 4

	flags := b[off]
	off++
	r.Shadow = flags&flagShadow != 0
	r.Hit = flags&flagHit != 0

	r.Treelet = TreeletID(binary.BigEndian.Uint32(b[off:]))
	off += 4

	for i := range r.Beta {
		r.Beta[i] = getFloat32(b[off:])
		off += 4
	}
	for i := range r.Ld {
		r.Ld[i] = getFloat32(b[off:])
		off += 4
	}

	opLen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+opLen {
		return nil, 0, fmt.Errorf("ray: truncated opaque payload: want %d bytes", opLen)
	}
	if opLen > 0 {
		r.Opaque = make([]byte, opLen)
		copy(r.Opaque, b[off:off+opLen])
		off += opLen
	}

	return r, off, nil
}
