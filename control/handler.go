package control

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gordian-engine/rayworker/peer"
	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rayqueue"
)

// BenchmarkStarter is the capability StartBenchmark hands off to, kept as an
// interface so control never imports the bench package directly (spec.md
// §4.9 is a separate concern wired together by Worker).
type BenchmarkStarter interface {
	Start(dest uint64, duration time.Duration, rateMbps uint32, addressNo uint8)
}

// Handler implements spec.md §4.7: one method per coordinator/peer opcode,
// each taking exactly the collaborators it touches rather than a worker
// god-object, mirroring the AddrResolver decoupling used by the transport
// package (SPEC_FULL.md §G).
type Handler struct {
	ownerID         uint64
	coordinatorAddr [2]*net.UDPAddr

	peers           *peer.Table
	queues          *rayqueue.Queues
	owned           map[ray.TreeletID]struct{}
	treeletToWorker map[ray.TreeletID][]uint64

	storage ray.StorageBackend
	scene   ray.SceneLoader
	bench   BenchmarkStarter

	terminated bool
}

// NewHandler wires a Handler against the worker's live collaborators.
// coordinatorAddr is peer id 0's dual-interface address, known from
// configuration before any Hey reply arrives.
func NewHandler(
	ownerID uint64,
	coordinatorAddr [2]*net.UDPAddr,
	peers *peer.Table,
	queues *rayqueue.Queues,
	owned map[ray.TreeletID]struct{},
	treeletToWorker map[ray.TreeletID][]uint64,
	storage ray.StorageBackend,
	scene ray.SceneLoader,
	bench BenchmarkStarter,
) *Handler {
	return &Handler{
		ownerID:         ownerID,
		coordinatorAddr: coordinatorAddr,
		peers:           peers,
		queues:          queues,
		owned:           owned,
		treeletToWorker: treeletToWorker,
		storage:         storage,
		scene:           scene,
		bench:           bench,
	}
}

// Terminated reports whether Bye has been received.
func (h *Handler) Terminated() bool { return h.terminated }

// HandleHey processes the coordinator's reply to this worker's own Hey:
// accept the assigned worker/job ids and open the handshake with the
// coordinator, addressed as peer 0 (spec.md §4.7).
func (h *Handler) HandleHey(payload []byte) (workerID, jobID uint64, requests []peer.Outbound, err error) {
	reply, err := DecodeHeyReply(payload)
	if err != nil {
		return 0, 0, nil, err
	}
	return reply.WorkerID, reply.JobID, h.peers.ConnectTo(0, h.coordinatorAddr), nil
}

// treeletKeyPrefix marks an object key as a packed treelet mesh rather than
// a fetchable scene object, per spec.md §4.7's "skip triangle meshes,
// they're packed in treelets".
const treeletKeyPrefix = "treelet/"

func parseTreeletKey(key string) (ray.TreeletID, bool) {
	rest, ok := strings.CutPrefix(key, treeletKeyPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return ray.TreeletID(n), true
}

// HandleGetObjects fetches every non-treelet object key from the storage
// backend and initializes the scene from them, returning the treelet ids
// named among the keys (spec.md §4.7).
func (h *Handler) HandleGetObjects(payload []byte) ([]ray.TreeletID, error) {
	req, err := DecodeGetObjects(payload)
	if err != nil {
		return nil, err
	}

	objects := make(map[string][]byte)
	var treeletIDs []ray.TreeletID

	for _, key := range req.ObjectKeys {
		if id, ok := parseTreeletKey(key); ok {
			treeletIDs = append(treeletIDs, id)
			continue
		}
		data, err := h.storage.Fetch(key)
		if err != nil {
			return nil, fmt.Errorf("control: fetch object %q: %w", key, err)
		}
		objects[key] = data
	}

	if err := h.scene.Init(objects); err != nil {
		return nil, fmt.Errorf("control: scene init: %w", err)
	}

	return treeletIDs, nil
}

// HandleGenerateRays implements generateRays from spec.md §4.7/§4.4: iterate
// every pixel in bounds, fire Samples camera rays per pixel, and classify
// each into the appropriate queue.
func (h *Handler) HandleGenerateRays(payload []byte) (int, error) {
	req, err := DecodeGenerateRays(payload)
	if err != nil {
		return 0, err
	}

	n := 0
	for y := req.Bounds.YMin; y < req.Bounds.YMax; y++ {
		for x := req.Bounds.XMin; x < req.Bounds.XMax; x++ {
			for s := uint32(0); s < req.Samples; s++ {
				r := newCameraRay(x, y, s, req.Samples)
				h.queues.Classify(r, h.owned, h.treeletToWorker)
				n++
			}
		}
	}
	return n, nil
}

// newCameraRay seeds a fresh primary ray for pixel (x, y), sample index s.
// The camera/sampler that would normally compute direction and BVH entry
// point is out of scope (spec.md §1); this starts traversal at the root
// node of treelet 0, matching the convention that the root treelet is
// always locally owned at job start.
func newCameraRay(x, y int32, s, samplesPerPixel uint32) *ray.State {
	return &ray.State{
		PathID:  ray.PathID(uint64(y)<<40 | uint64(x)<<20 | uint64(s)),
		Sample:  ray.Sample{PFilm: [2]float32{float32(x), float32(y)}, Weight: 1},
		ToVisit: []uint32{0},
		Bounces: defaultBounceBudget,
		Treelet: 0,
	}
}

const defaultBounceBudget = 8

func resolveUDPAddrs(addrs [2]string) ([2]*net.UDPAddr, error) {
	var out [2]*net.UDPAddr
	for i, a := range addrs {
		if a == "" {
			continue
		}
		resolved, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return out, fmt.Errorf("control: resolve address %q: %w", a, err)
		}
		out[i] = resolved
	}
	return out, nil
}

// HandleConnectTo registers a single new peer, per spec.md §4.7.
func (h *Handler) HandleConnectTo(payload []byte) ([]peer.Outbound, error) {
	p, _, err := DecodeConnectTo(payload)
	if err != nil {
		return nil, err
	}
	addrs, err := resolveUDPAddrs(p.Addresses)
	if err != nil {
		return nil, err
	}
	return h.peers.ConnectTo(p.WorkerID, addrs), nil
}

// HandleMultipleConnect registers several new peers in one message, per
// spec.md §4.7.
func (h *Handler) HandleMultipleConnect(payload []byte) ([]peer.Outbound, error) {
	ps, err := DecodeMultipleConnect(payload)
	if err != nil {
		return nil, err
	}
	var out []peer.Outbound
	for _, p := range ps {
		addrs, err := resolveUDPAddrs(p.Addresses)
		if err != nil {
			return nil, err
		}
		out = append(out, h.peers.ConnectTo(p.WorkerID, addrs)...)
	}
	return out, nil
}

// HandleConnectionRequest replies to a peer's handshake request, or returns
// a DeferredError if the peer is not yet known (spec.md §4.3/§4.7).
func (h *Handler) HandleConnectionRequest(src *net.UDPAddr, iface int, payload []byte) (peer.Outbound, error) {
	req, err := peer.DecodeConnectionRequest(payload)
	if err != nil {
		return peer.Outbound{}, err
	}
	return h.peers.HandleConnectionRequest(src, iface, req, h.owned)
}

// HandleConnectionResponse advances the peer FSM and promotes any
// newly-announced treelets out of the pending queue (spec.md §4.3/§4.7).
func (h *Handler) HandleConnectionResponse(payload []byte, now time.Time) error {
	resp, err := peer.DecodeConnectionResponse(payload)
	if err != nil {
		return err
	}
	promoted, err := h.peers.HandleConnectionResponse(resp, now)
	if err != nil {
		return err
	}
	for _, t := range promoted.Treelets {
		h.treeletToWorker[t] = appendUnique(h.treeletToWorker[t], promoted.PeerID)
		h.queues.PromoteTreelet(t)
	}
	return nil
}

func appendUnique(ids []uint64, id uint64) []uint64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// HandleSendRays deserializes each ray record in payload, bumps hop and
// resets tick, and pushes the ray directly onto the ray queue -- it already
// arrived at its intended owner, so no reclassification is needed (spec.md
// §4.6.4/§4.7).
func (h *Handler) HandleSendRays(payload []byte) (int, error) {
	n := 0
	for len(payload) > 0 {
		if len(payload) < 4 {
			return n, fmt.Errorf("control: truncated SendRays length prefix")
		}
		recLen := int(binary.BigEndian.Uint32(payload[0:4]))
		payload = payload[4:]
		if len(payload) < recLen {
			return n, fmt.Errorf("control: truncated SendRays record")
		}

		r, _, err := ray.Deserialize(payload[:recLen])
		if err != nil {
			return n, fmt.Errorf("control: deserialize ray record %d: %w", n, err)
		}
		payload = payload[recLen:]

		r.Hop++
		r.Tick = 0
		h.queues.Ray = append(h.queues.Ray, r)
		n++
	}
	return n, nil
}

// HandleStartBenchmark reconfigures the worker into benchmark mode, per
// spec.md §4.9.
func (h *Handler) HandleStartBenchmark(payload []byte) error {
	req, err := DecodeStartBenchmark(payload)
	if err != nil {
		return err
	}
	if h.bench == nil {
		return fmt.Errorf("control: benchmark mode not configured")
	}
	h.bench.Start(req.Destination, time.Duration(req.DurationSec)*time.Second, req.RateMbps, uint8(req.AddressNo))
	return nil
}

// HandleBye sets the termination flag the reactor checks after each
// iteration (spec.md §4.7/§5).
func (h *Handler) HandleBye() {
	h.terminated = true
}

// HandleGetWorker builds the current WorkerStats snapshot, per spec.md
// §4.8's WorkerStats action. bytesSent/bytesReceived are supplied by the
// caller since they live on the pacing channels, not on Handler.
func (h *Handler) HandleGetWorker(bytesSent, bytesReceived [2]uint64) WorkerStatsPayload {
	return WorkerStatsPayload{
		RayQueueSize:      int64(len(h.queues.Ray)),
		OutQueueSize:      int64(h.queues.OutSize),
		PendingQueueSize:  int64(h.queues.PendingSize),
		FinishedQueueSize: int64(len(h.queues.Finished)),
		BytesSent:         bytesSent,
		BytesReceived:     bytesReceived,
	}
}
