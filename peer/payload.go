package peer

import (
	"encoding/binary"
	"fmt"

	"github.com/gordian-engine/rayworker/ray"
)

// ConnectionRequest is the handshake payload carried by
// wire.OpConnectionRequest (spec.md §4.3/§6).
type ConnectionRequest struct {
	MyID      uint64
	MySeed    uint32
	YourSeed  uint32
	AddressNo uint8
}

// EncodeConnectionRequest renders r as its wire payload.
func EncodeConnectionRequest(r ConnectionRequest) []byte {
	b := make([]byte, 8+4+4+1)
	binary.BigEndian.PutUint64(b[0:8], r.MyID)
	binary.BigEndian.PutUint32(b[8:12], r.MySeed)
	binary.BigEndian.PutUint32(b[12:16], r.YourSeed)
	b[16] = r.AddressNo
	return b
}

// DecodeConnectionRequest parses a ConnectionRequest payload.
func DecodeConnectionRequest(b []byte) (ConnectionRequest, error) {
	if len(b) < 17 {
		return ConnectionRequest{}, fmt.Errorf("peer: short ConnectionRequest payload: %d bytes", len(b))
	}
	return ConnectionRequest{
		MyID:      binary.BigEndian.Uint64(b[0:8]),
		MySeed:    binary.BigEndian.Uint32(b[8:12]),
		YourSeed:  binary.BigEndian.Uint32(b[12:16]),
		AddressNo: b[16],
	}, nil
}

// EncodePing renders the keep-alive Ping payload: the sender's own worker
// id, so the receiver can attribute the ping without relying on the UDP
// source address alone.
func EncodePing(workerID uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, workerID)
	return b
}

// DecodePing parses a Ping payload.
func DecodePing(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("peer: short Ping payload: %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// ConnectionResponse is the handshake reply payload carried by
// wire.OpConnectionResponse (spec.md §4.3/§6).
type ConnectionResponse struct {
	WorkerID  uint64
	MySeed    uint32
	YourSeed  uint32
	AddressNo uint8
	Treelets  []ray.TreeletID
}

// EncodeConnectionResponse renders r as its wire payload.
func EncodeConnectionResponse(r ConnectionResponse) []byte {
	b := make([]byte, 8+4+4+1+4+4*len(r.Treelets))
	off := 0
	binary.BigEndian.PutUint64(b[off:], r.WorkerID)
	off += 8
	binary.BigEndian.PutUint32(b[off:], r.MySeed)
	off += 4
	binary.BigEndian.PutUint32(b[off:], r.YourSeed)
	off += 4
	b[off] = r.AddressNo
	off++
	binary.BigEndian.PutUint32(b[off:], uint32(len(r.Treelets)))
	off += 4
	for _, t := range r.Treelets {
		binary.BigEndian.PutUint32(b[off:], uint32(t))
		off += 4
	}
	return b
}

// DecodeConnectionResponse parses a ConnectionResponse payload.
func DecodeConnectionResponse(b []byte) (ConnectionResponse, error) {
	const minLen = 8 + 4 + 4 + 1 + 4
	if len(b) < minLen {
		return ConnectionResponse{}, fmt.Errorf("peer: short ConnectionResponse payload: %d bytes", len(b))
	}
	r := ConnectionResponse{}
	off := 0
	r.WorkerID = binary.BigEndian.Uint64(b[off:])
	off += 8
	r.MySeed = binary.BigEndian.Uint32(b[off:])
	off += 4
	r.YourSeed = binary.BigEndian.Uint32(b[off:])
	off += 4
	r.AddressNo = b[off]
	off++
	n := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+4*n {
		return ConnectionResponse{}, fmt.Errorf("peer: truncated treelet list: want %d entries", n)
	}
	r.Treelets = make([]ray.TreeletID, n)
	for i := 0; i < n; i++ {
		r.Treelets[i] = ray.TreeletID(binary.BigEndian.Uint32(b[off:]))
		off += 4
	}
	return r, nil
}
