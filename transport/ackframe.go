package transport

import (
	"encoding/binary"

	"github.com/gordian-engine/rayworker/pacing"
)

// ackEntrySize is the wire size of one (seqNo, tracked, attempt) triple,
// per spec.md §6: uint64 + uint8 + uint16.
const ackEntrySize = 8 + 1 + 2

// maxAckEntriesPerFrame bounds one ack frame's payload to UDP_MTU_BYTES,
// per spec.md §4.6.3.
const maxAckEntriesPerFrame = pacing.MTUBytes / ackEntrySize

func encodeAckEntries(entries []AckEntry) ([]byte, int) {
	n := len(entries)
	if n > maxAckEntriesPerFrame {
		n = maxAckEntriesPerFrame
	}

	b := make([]byte, n*ackEntrySize)
	for i, e := range entries[:n] {
		off := i * ackEntrySize
		binary.BigEndian.PutUint64(b[off:], e.SeqNo)
		if e.Tracked {
			b[off+8] = 1
		}
		binary.BigEndian.PutUint16(b[off+9:], e.Attempt)
	}
	return b, n
}

func decodeAckEntries(b []byte) []AckEntry {
	n := len(b) / ackEntrySize
	out := make([]AckEntry, n)
	for i := 0; i < n; i++ {
		off := i * ackEntrySize
		out[i] = AckEntry{
			SeqNo:   binary.BigEndian.Uint64(b[off:]),
			Tracked: b[off+8] != 0,
			Attempt: binary.BigEndian.Uint16(b[off+9:]),
		}
	}
	return out
}
