// Package control implements the coordinator RPC handlers of spec.md §4.7:
// one function per opcode, each consuming the collaborators it needs rather
// than a monolithic worker god-object.
package control

import (
	"encoding/binary"
	"fmt"
	"math"
)

// HeyPayload is sent by the worker to introduce itself to the coordinator,
// carrying the Lambda log stream name when running under AWS Lambda.
type HeyPayload struct {
	LogStreamName string
}

// EncodeHey renders p as its wire payload.
func EncodeHey(p HeyPayload) []byte {
	b := make([]byte, 4+len(p.LogStreamName))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(p.LogStreamName)))
	copy(b[4:], p.LogStreamName)
	return b
}

// DecodeHey parses a HeyPayload.
func DecodeHey(b []byte) (HeyPayload, error) {
	if len(b) < 4 {
		return HeyPayload{}, fmt.Errorf("control: short Hey payload: %d bytes", len(b))
	}
	n := int(binary.BigEndian.Uint32(b[0:4]))
	if len(b) < 4+n {
		return HeyPayload{}, fmt.Errorf("control: truncated Hey log stream name: want %d bytes", n)
	}
	return HeyPayload{LogStreamName: string(b[4 : 4+n])}, nil
}

// HeyReply is the coordinator's answer to Hey: the worker's assigned id and
// job.
type HeyReply struct {
	WorkerID uint64
	JobID    uint64
}

// EncodeHeyReply renders r as its wire payload.
func EncodeHeyReply(r HeyReply) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], r.WorkerID)
	binary.BigEndian.PutUint64(b[8:16], r.JobID)
	return b
}

// DecodeHeyReply parses a HeyReply.
func DecodeHeyReply(b []byte) (HeyReply, error) {
	if len(b) < 16 {
		return HeyReply{}, fmt.Errorf("control: short HeyReply payload: %d bytes", len(b))
	}
	return HeyReply{
		WorkerID: binary.BigEndian.Uint64(b[0:8]),
		JobID:    binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// GetObjectsPayload lists the object keys the coordinator wants this worker
// to fetch, per spec.md §4.7. Triangle meshes are packed inside treelets and
// are skipped by the handler, not by this encoding.
type GetObjectsPayload struct {
	ObjectKeys []string
}

// EncodeGetObjects renders p as its wire payload.
func EncodeGetObjects(p GetObjectsPayload) []byte {
	size := 4
	for _, k := range p.ObjectKeys {
		size += 4 + len(k)
	}
	b := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint32(b[off:], uint32(len(p.ObjectKeys)))
	off += 4
	for _, k := range p.ObjectKeys {
		binary.BigEndian.PutUint32(b[off:], uint32(len(k)))
		off += 4
		copy(b[off:], k)
		off += len(k)
	}
	return b
}

// DecodeGetObjects parses a GetObjectsPayload.
func DecodeGetObjects(b []byte) (GetObjectsPayload, error) {
	if len(b) < 4 {
		return GetObjectsPayload{}, fmt.Errorf("control: short GetObjects payload: %d bytes", len(b))
	}
	n := int(binary.BigEndian.Uint32(b[0:4]))
	off := 4
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		if len(b) < off+4 {
			return GetObjectsPayload{}, fmt.Errorf("control: truncated GetObjects key %d", i)
		}
		klen := int(binary.BigEndian.Uint32(b[off:]))
		off += 4
		if len(b) < off+klen {
			return GetObjectsPayload{}, fmt.Errorf("control: truncated GetObjects key %d body", i)
		}
		keys[i] = string(b[off : off+klen])
		off += klen
	}
	return GetObjectsPayload{ObjectKeys: keys}, nil
}

// Bounds is a rectangular tile of film pixels, per spec.md §4.7's
// GenerateRays.
type Bounds struct {
	XMin, YMin, XMax, YMax int32
}

// GenerateRaysPayload requests that the worker generate camera rays for
// every pixel in Bounds, sampled Samples times each.
type GenerateRaysPayload struct {
	Bounds  Bounds
	Samples uint32
}

// EncodeGenerateRays renders p as its wire payload.
func EncodeGenerateRays(p GenerateRaysPayload) []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint32(b[0:4], uint32(p.Bounds.XMin))
	binary.BigEndian.PutUint32(b[4:8], uint32(p.Bounds.YMin))
	binary.BigEndian.PutUint32(b[8:12], uint32(p.Bounds.XMax))
	binary.BigEndian.PutUint32(b[12:16], uint32(p.Bounds.YMax))
	binary.BigEndian.PutUint32(b[16:20], p.Samples)
	return b
}

// DecodeGenerateRays parses a GenerateRaysPayload.
func DecodeGenerateRays(b []byte) (GenerateRaysPayload, error) {
	if len(b) < 20 {
		return GenerateRaysPayload{}, fmt.Errorf("control: short GenerateRays payload: %d bytes", len(b))
	}
	return GenerateRaysPayload{
		Bounds: Bounds{
			XMin: int32(binary.BigEndian.Uint32(b[0:4])),
			YMin: int32(binary.BigEndian.Uint32(b[4:8])),
			XMax: int32(binary.BigEndian.Uint32(b[8:12])),
			YMax: int32(binary.BigEndian.Uint32(b[12:16])),
		},
		Samples: binary.BigEndian.Uint32(b[16:20]),
	}, nil
}

// ConnectToPayload introduces a new peer worker at up to two interface
// addresses.
type ConnectToPayload struct {
	WorkerID  uint64
	Addresses [2]string
}

// EncodeConnectTo renders p as its wire payload.
func EncodeConnectTo(p ConnectToPayload) []byte {
	size := 8 + 4 + len(p.Addresses[0]) + 4 + len(p.Addresses[1])
	b := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint64(b[off:], p.WorkerID)
	off += 8
	for _, a := range p.Addresses {
		binary.BigEndian.PutUint32(b[off:], uint32(len(a)))
		off += 4
		copy(b[off:], a)
		off += len(a)
	}
	return b
}

// DecodeConnectTo parses a ConnectToPayload.
func DecodeConnectTo(b []byte) (ConnectToPayload, int, error) {
	if len(b) < 8 {
		return ConnectToPayload{}, 0, fmt.Errorf("control: short ConnectTo payload: %d bytes", len(b))
	}
	p := ConnectToPayload{WorkerID: binary.BigEndian.Uint64(b[0:8])}
	off := 8
	for i := 0; i < 2; i++ {
		if len(b) < off+4 {
			return ConnectToPayload{}, 0, fmt.Errorf("control: truncated ConnectTo address %d", i)
		}
		alen := int(binary.BigEndian.Uint32(b[off:]))
		off += 4
		if len(b) < off+alen {
			return ConnectToPayload{}, 0, fmt.Errorf("control: truncated ConnectTo address %d body", i)
		}
		p.Addresses[i] = string(b[off : off+alen])
		off += alen
	}
	return p, off, nil
}

// EncodeMultipleConnect concatenates several ConnectToPayload records, each
// self-delimiting via DecodeConnectTo's returned length.
func EncodeMultipleConnect(ps []ConnectToPayload) []byte {
	var b []byte
	for _, p := range ps {
		b = append(b, EncodeConnectTo(p)...)
	}
	return b
}

// DecodeMultipleConnect parses a concatenated MultipleConnect payload.
func DecodeMultipleConnect(b []byte) ([]ConnectToPayload, error) {
	var out []ConnectToPayload
	for len(b) > 0 {
		p, n, err := DecodeConnectTo(b)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		b = b[n:]
	}
	return out, nil
}

// StartBenchmarkPayload requests the worker enter benchmark mode, per
// spec.md §4.9: four 32-bit big-endian fields. Destination is a worker id
// and travels as its low 32 bits.
type StartBenchmarkPayload struct {
	Destination uint64
	DurationSec uint32
	RateMbps    uint32
	AddressNo   uint32
}

// EncodeStartBenchmark renders p as its wire payload.
func EncodeStartBenchmark(p StartBenchmarkPayload) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint32(b[0:4], uint32(p.Destination))
	binary.BigEndian.PutUint32(b[4:8], p.DurationSec)
	binary.BigEndian.PutUint32(b[8:12], p.RateMbps)
	binary.BigEndian.PutUint32(b[12:16], p.AddressNo)
	return b
}

// DecodeStartBenchmark parses a StartBenchmarkPayload.
func DecodeStartBenchmark(b []byte) (StartBenchmarkPayload, error) {
	if len(b) < 16 {
		return StartBenchmarkPayload{}, fmt.Errorf("control: short StartBenchmark payload: %d bytes", len(b))
	}
	return StartBenchmarkPayload{
		Destination: uint64(binary.BigEndian.Uint32(b[0:4])),
		DurationSec: binary.BigEndian.Uint32(b[4:8]),
		RateMbps:    binary.BigEndian.Uint32(b[8:12]),
		AddressNo:   binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// FinishedRaysEntryPayload mirrors transport.FinishedRaysEntry on the wire,
// kept separate so control does not need to import transport for encoding
// alone.
type FinishedRaysEntryPayload struct {
	SampleID uint64
	PFilm    [2]float32
	Weight   float32
	L        [3]float32
}

const finishedRaysEntrySize = 8 + 4*2 + 4 + 4*3

// EncodeFinishedRays renders a batch of finished-ray entries as the
// FinishedRays TCP payload, per spec.md §4.6.5/§4.7.
func EncodeFinishedRays(entries []FinishedRaysEntryPayload) []byte {
	b := make([]byte, finishedRaysEntrySize*len(entries))
	off := 0
	for _, e := range entries {
		binary.BigEndian.PutUint64(b[off:], e.SampleID)
		off += 8
		binary.BigEndian.PutUint32(b[off:], math.Float32bits(e.PFilm[0]))
		off += 4
		binary.BigEndian.PutUint32(b[off:], math.Float32bits(e.PFilm[1]))
		off += 4
		binary.BigEndian.PutUint32(b[off:], math.Float32bits(e.Weight))
		off += 4
		for _, v := range e.L {
			binary.BigEndian.PutUint32(b[off:], math.Float32bits(v))
			off += 4
		}
	}
	return b
}

// DecodeFinishedRays parses a FinishedRays payload.
func DecodeFinishedRays(b []byte) ([]FinishedRaysEntryPayload, error) {
	if len(b)%finishedRaysEntrySize != 0 {
		return nil, fmt.Errorf("control: FinishedRays payload length %d not a multiple of %d", len(b), finishedRaysEntrySize)
	}
	n := len(b) / finishedRaysEntrySize
	out := make([]FinishedRaysEntryPayload, n)
	off := 0
	for i := 0; i < n; i++ {
		e := FinishedRaysEntryPayload{SampleID: binary.BigEndian.Uint64(b[off:])}
		off += 8
		e.PFilm[0] = math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
		off += 4
		e.PFilm[1] = math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
		off += 4
		e.Weight = math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
		off += 4
		for j := range e.L {
			e.L[j] = math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
			off += 4
		}
		out[i] = e
	}
	return out, nil
}

// WorkerStatsPayload is the periodic telemetry frame sent to the
// coordinator, per spec.md §4.8's WorkerStats action.
type WorkerStatsPayload struct {
	RayQueueSize     int64
	OutQueueSize     int64
	PendingQueueSize int64
	FinishedQueueSize int64
	BytesSent        [2]uint64
	BytesReceived    [2]uint64
}

// EncodeWorkerStats renders p as its wire payload.
func EncodeWorkerStats(p WorkerStatsPayload) []byte {
	b := make([]byte, 8*4+8*2+8*2)
	binary.BigEndian.PutUint64(b[0:8], uint64(p.RayQueueSize))
	binary.BigEndian.PutUint64(b[8:16], uint64(p.OutQueueSize))
	binary.BigEndian.PutUint64(b[16:24], uint64(p.PendingQueueSize))
	binary.BigEndian.PutUint64(b[24:32], uint64(p.FinishedQueueSize))
	binary.BigEndian.PutUint64(b[32:40], p.BytesSent[0])
	binary.BigEndian.PutUint64(b[40:48], p.BytesSent[1])
	binary.BigEndian.PutUint64(b[48:56], p.BytesReceived[0])
	binary.BigEndian.PutUint64(b[56:64], p.BytesReceived[1])
	return b
}
