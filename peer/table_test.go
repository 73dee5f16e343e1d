package peer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/rayworker/ray"
	"github.com/gordian-engine/rayworker/rerrors"
	"github.com/gordian-engine/rayworker/wire"
)

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestConnectToEmitsTwoConnectionRequests(t *testing.T) {
	tbl := New(1, 42)
	out := tbl.ConnectTo(2, [2]*net.UDPAddr{udpAddr(100), udpAddr(101)})

	require.Len(t, out, 2)
	for i, o := range out {
		require.Equal(t, i, o.Iface)
		req, err := DecodeConnectionRequest(o.Payload)
		require.NoError(t, err)
		require.EqualValues(t, 1, req.MyID)
		require.EqualValues(t, 42, req.MySeed)
	}

	p, ok := tbl.Get(2)
	require.True(t, ok)
	require.Equal(t, Connecting, p.State)
}

func TestHandleConnectionRequestFromUnknownPeerIsDeferred(t *testing.T) {
	tbl := New(1, 42)
	req := ConnectionRequest{MyID: 99, MySeed: 7, AddressNo: 0}

	_, err := tbl.HandleConnectionRequest(udpAddr(200), 0, req, nil)
	require.Error(t, err)
	require.IsType(t, rerrors.DeferredError{}, err)
}

func TestHandleConnectionRequestFromKnownPeerReplies(t *testing.T) {
	tbl := New(1, 42)
	tbl.ConnectTo(2, [2]*net.UDPAddr{udpAddr(100), udpAddr(101)})

	owned := map[ray.TreeletID]struct{}{5: {}}
	req := ConnectionRequest{MyID: 2, MySeed: 55, AddressNo: 1}
	out, err := tbl.HandleConnectionRequest(udpAddr(101), 1, req, owned)
	require.NoError(t, err)
	require.Equal(t, 1, out.Iface)

	resp, err := DecodeConnectionResponse(out.Payload)
	require.NoError(t, err)
	require.EqualValues(t, 1, resp.WorkerID)
	require.EqualValues(t, 55, resp.YourSeed)
	require.Equal(t, []ray.TreeletID{5}, resp.Treelets)

	p, _ := tbl.Get(2)
	require.EqualValues(t, 55, p.Seed)
}

func TestHandleConnectionResponseAdvancesToConnectedOnlyWhenBothInterfacesUp(t *testing.T) {
	tbl := New(1, 42)
	tbl.ConnectTo(2, [2]*net.UDPAddr{udpAddr(100), udpAddr(101)})

	now := time.Now()

	_, err := tbl.HandleConnectionResponse(ConnectionResponse{
		WorkerID: 2, MySeed: 9, YourSeed: 42, AddressNo: 0,
	}, now)
	require.NoError(t, err)

	p, _ := tbl.Get(2)
	require.True(t, p.Connected[0])
	require.False(t, p.Connected[1])
	require.Equal(t, Connecting, p.State)

	_, err = tbl.HandleConnectionResponse(ConnectionResponse{
		WorkerID: 2, MySeed: 9, YourSeed: 42, AddressNo: 1,
	}, now)
	require.NoError(t, err)

	require.True(t, p.Connected[1])
	require.Equal(t, Connected, p.State)
	require.Equal(t, now.Add(KeepAliveInterval), p.NextKeepAlive)
}

func TestHandleConnectionResponseRejectsSeedMismatch(t *testing.T) {
	tbl := New(1, 42)
	tbl.ConnectTo(2, [2]*net.UDPAddr{udpAddr(100), nil})

	_, err := tbl.HandleConnectionResponse(ConnectionResponse{
		WorkerID: 2, YourSeed: 999, AddressNo: 0,
	}, time.Now())
	require.NoError(t, err)

	p, _ := tbl.Get(2)
	require.False(t, p.Connected[0])
}

func TestHandleConnectionResponseReturnsOnlyNewlyAnnouncedTreelets(t *testing.T) {
	tbl := New(1, 42)
	tbl.ConnectTo(2, [2]*net.UDPAddr{udpAddr(100), nil})

	now := time.Now()
	promoted, err := tbl.HandleConnectionResponse(ConnectionResponse{
		WorkerID: 2, YourSeed: 42, AddressNo: 0, Treelets: []ray.TreeletID{1, 2},
	}, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []ray.TreeletID{1, 2}, promoted.Treelets)

	promoted, err = tbl.HandleConnectionResponse(ConnectionResponse{
		WorkerID: 2, YourSeed: 42, AddressNo: 0, Treelets: []ray.TreeletID{2, 3},
	}, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []ray.TreeletID{3}, promoted.Treelets)
}

func TestTickResendsRequestsForConnectingPeersAndPingsConnected(t *testing.T) {
	tbl := New(1, 42)
	tbl.ConnectTo(2, [2]*net.UDPAddr{udpAddr(100), nil})
	tbl.ConnectTo(3, [2]*net.UDPAddr{udpAddr(200), udpAddr(201)})

	now := time.Now()
	tbl.HandleConnectionResponse(ConnectionResponse{WorkerID: 3, YourSeed: 42, AddressNo: 0}, now)
	tbl.HandleConnectionResponse(ConnectionResponse{WorkerID: 3, YourSeed: 42, AddressNo: 1}, now)

	p3, _ := tbl.Get(3)
	require.Equal(t, Connected, p3.State)

	out := tbl.Tick(now.Add(2 * time.Second))

	var pings, requests int
	for _, o := range out {
		switch o.Opcode {
		case wire.OpPing:
			pings++
		case wire.OpConnectionRequest:
			requests++
		}
	}
	require.Equal(t, 1, pings)
	require.Equal(t, 1, requests) // peer 2 has only one known address
}

func TestTickDoesNotPingTheCoordinator(t *testing.T) {
	tbl := New(1, 42)
	tbl.ConnectTo(0, [2]*net.UDPAddr{udpAddr(9), udpAddr(10)})
	tbl.HandleConnectionResponse(ConnectionResponse{WorkerID: 0, YourSeed: 42, AddressNo: 0}, time.Now())
	tbl.HandleConnectionResponse(ConnectionResponse{WorkerID: 0, YourSeed: 42, AddressNo: 1}, time.Now())

	p0, _ := tbl.Get(0)
	require.Equal(t, Connected, p0.State)

	out := tbl.Tick(time.Now().Add(2 * time.Second))
	for _, o := range out {
		require.NotEqual(t, wire.OpPing, o.Opcode)
	}
}

func TestTickPingCarriesOwnerID(t *testing.T) {
	tbl := New(7, 42)
	tbl.ConnectTo(2, [2]*net.UDPAddr{udpAddr(100), udpAddr(101)})
	now := time.Now()
	tbl.HandleConnectionResponse(ConnectionResponse{WorkerID: 2, YourSeed: 42, AddressNo: 0}, now)
	tbl.HandleConnectionResponse(ConnectionResponse{WorkerID: 2, YourSeed: 42, AddressNo: 1}, now)

	out := tbl.Tick(now.Add(2 * time.Second))
	require.Len(t, out, 1)
	require.Equal(t, wire.OpPing, out[0].Opcode)

	id, err := DecodePing(out[0].Payload)
	require.NoError(t, err)
	require.Equal(t, uint64(7), id)
}

func TestTableEmpty(t *testing.T) {
	tbl := New(1, 42)
	require.True(t, tbl.Empty())
	tbl.ConnectTo(2, [2]*net.UDPAddr{udpAddr(100), nil})
	require.False(t, tbl.Empty())
}
