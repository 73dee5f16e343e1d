package control

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/rayworker/peer"
	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rayqueue"
)

type stubStorage struct {
	objects map[string][]byte
}

func (s *stubStorage) Fetch(key string) ([]byte, error) {
	return s.objects[key], nil
}

type stubScene struct {
	inited map[string][]byte
}

func (s *stubScene) Init(objects map[string][]byte) error {
	s.inited = objects
	return nil
}

type stubBench struct {
	started bool
	dest    uint64
	dur     time.Duration
	rate    uint32
	iface   uint8
}

func (b *stubBench) Start(dest uint64, duration time.Duration, rateMbps uint32, addressNo uint8) {
	b.started = true
	b.dest = dest
	b.dur = duration
	b.rate = rateMbps
	b.iface = addressNo
}

func newTestHandler() (*Handler, *rayqueue.Queues, *peer.Table, *stubStorage, *stubScene, *stubBench) {
	q := rayqueue.New()
	peers := peer.New(1, 0xABCD)
	storage := &stubStorage{objects: map[string][]byte{"mesh.obj": []byte("data")}}
	scene := &stubScene{}
	bench := &stubBench{}
	owned := map[ray.TreeletID]struct{}{0: {}}
	t2w := map[ray.TreeletID][]uint64{}
	coordAddr := [2]*net.UDPAddr{
		{IP: net.IPv4(127, 0, 0, 1), Port: 7000},
		{IP: net.IPv4(127, 0, 0, 1), Port: 7001},
	}
	h := NewHandler(1, coordAddr, peers, q, owned, t2w, storage, scene, bench)
	return h, q, peers, storage, scene, bench
}

func TestHandleHeyConnectsToCoordinatorAsPeerZero(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()

	workerID, jobID, requests, err := h.HandleHey(EncodeHeyReply(HeyReply{WorkerID: 42, JobID: 7}))
	require.NoError(t, err)
	require.EqualValues(t, 42, workerID)
	require.EqualValues(t, 7, jobID)
	require.Len(t, requests, 2) // both interfaces
}

func TestHandleGetObjectsSkipsTreeletKeysAndInitsScene(t *testing.T) {
	h, _, _, _, scene, _ := newTestHandler()

	payload := EncodeGetObjects(GetObjectsPayload{ObjectKeys: []string{"mesh.obj", "treelet/3"}})
	treelets, err := h.HandleGetObjects(payload)
	require.NoError(t, err)
	require.Equal(t, []ray.TreeletID{3}, treelets)
	require.Equal(t, []byte("data"), scene.inited["mesh.obj"])
	require.NotContains(t, scene.inited, "treelet/3")
}

func TestHandleGenerateRaysClassifiesEveryPixelSample(t *testing.T) {
	h, q, _, _, _, _ := newTestHandler()

	payload := EncodeGenerateRays(GenerateRaysPayload{
		Bounds:  Bounds{XMin: 0, YMin: 0, XMax: 2, YMax: 1},
		Samples: 3,
	})
	n, err := h.HandleGenerateRays(payload)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Len(t, q.Ray, 6) // treelet 0 is owned
}

func TestHandleConnectToRegistersPeerAndReturnsRequests(t *testing.T) {
	h, _, peers, _, _, _ := newTestHandler()

	payload := EncodeConnectTo(ConnectToPayload{WorkerID: 9, Addresses: [2]string{"127.0.0.1:9000", "127.0.0.1:9001"}})
	out, err := h.HandleConnectTo(payload)
	require.NoError(t, err)
	require.Len(t, out, 2)

	_, ok := peers.Get(9)
	require.True(t, ok)
}

func TestHandleMultipleConnectRegistersEachPeer(t *testing.T) {
	h, _, peers, _, _, _ := newTestHandler()

	payload := EncodeMultipleConnect([]ConnectToPayload{
		{WorkerID: 9, Addresses: [2]string{"127.0.0.1:9000", "127.0.0.1:9001"}},
		{WorkerID: 10, Addresses: [2]string{"127.0.0.1:9100", "127.0.0.1:9101"}},
	})
	out, err := h.HandleMultipleConnect(payload)
	require.NoError(t, err)
	require.Len(t, out, 4)

	_, ok9 := peers.Get(9)
	_, ok10 := peers.Get(10)
	require.True(t, ok9)
	require.True(t, ok10)
}

func TestHandleConnectionRequestDefersForUnknownPeer(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()

	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	req := peer.ConnectionRequest{MyID: 5, MySeed: 1}
	_, err := h.HandleConnectionRequest(src, 0, peer.EncodeConnectionRequest(req))
	require.Error(t, err)
}

func TestHandleConnectionResponsePromotesTreeletsIntoOutQueue(t *testing.T) {
	h, q, peers, _, _, _ := newTestHandler()

	addrs := [2]*net.UDPAddr{
		{IP: net.IPv4(127, 0, 0, 1), Port: 9000},
		{IP: net.IPv4(127, 0, 0, 1), Port: 9001},
	}
	peers.ConnectTo(9, addrs)

	q.Classify(&ray.State{Treelet: 5}, map[ray.TreeletID]struct{}{0: {}}, map[ray.TreeletID][]uint64{})
	require.Equal(t, 1, q.PendingSize)

	resp := peer.ConnectionResponse{WorkerID: 9, MySeed: 55, YourSeed: 0xABCD, AddressNo: 0, Treelets: []ray.TreeletID{5}}
	err := h.HandleConnectionResponse(peer.EncodeConnectionResponse(resp), time.Now())
	require.NoError(t, err)

	require.Equal(t, 0, q.PendingSize)
	require.Equal(t, 1, q.OutSize)
}

func TestHandleSendRaysDeserializesBumpsHopResetsTick(t *testing.T) {
	h, q, _, _, _, _ := newTestHandler()

	r := &ray.State{PathID: 1, Hop: 3, Tick: 9}
	rec := ray.Serialize(r)
	lenPrefix := make([]byte, 4)
	lenPrefix[3] = byte(len(rec))
	payload := append(lenPrefix, rec...)

	n, err := h.HandleSendRays(payload)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, q.Ray, 1)
	require.EqualValues(t, 4, q.Ray[0].Hop)
	require.EqualValues(t, 0, q.Ray[0].Tick)
}

func TestHandleStartBenchmarkInvokesBenchmarkStarter(t *testing.T) {
	h, _, _, _, _, bench := newTestHandler()

	payload := EncodeStartBenchmark(StartBenchmarkPayload{Destination: 3, DurationSec: 10, RateMbps: 80, AddressNo: 1})
	err := h.HandleStartBenchmark(payload)
	require.NoError(t, err)
	require.True(t, bench.started)
	require.EqualValues(t, 3, bench.dest)
	require.Equal(t, 10*time.Second, bench.dur)
	require.EqualValues(t, 80, bench.rate)
	require.EqualValues(t, 1, bench.iface)
}

func TestHandleByeSetsTerminated(t *testing.T) {
	h, _, _, _, _, _ := newTestHandler()
	require.False(t, h.Terminated())
	h.HandleBye()
	require.True(t, h.Terminated())
}

func TestHandleGetWorkerReportsQueueSizes(t *testing.T) {
	h, q, _, _, _, _ := newTestHandler()
	q.Ray = append(q.Ray, &ray.State{}, &ray.State{})

	stats := h.HandleGetWorker([2]uint64{100, 200}, [2]uint64{10, 20})
	require.EqualValues(t, 2, stats.RayQueueSize)
	require.Equal(t, [2]uint64{100, 200}, stats.BytesSent)
	require.Equal(t, [2]uint64{10, 20}, stats.BytesReceived)
}
