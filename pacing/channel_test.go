package pacing

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T, mbps uint64) *Channel {
	t.Helper()
	ch, err := New(0, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, mbps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestSendRecvRoundTrip(t *testing.T) {
	sender := newTestChannel(t, 80)
	receiver := newTestChannel(t, 80)

	payload := []byte("ray packet payload")
	n, err := sender.Send(receiver.LocalAddr(), payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.EqualValues(t, len(payload), sender.BytesSent())

	src, got, err := receiver.Recv()
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.EqualValues(t, len(payload), receiver.BytesReceived())
	require.Equal(t, sender.LocalAddr().Port, src.Port)
}

func TestWithinPaceGoesFalseUnderLoad(t *testing.T) {
	ch := newTestChannel(t, 1) // 1 Mbps, tiny burst
	require.True(t, ch.WithinPace())

	big := make([]byte, MTUBytes)
	// Drain the bucket well past zero.
	for i := 0; i < 5; i++ {
		ch.RecordSend(len(big))
	}

	require.False(t, ch.WithinPace())
	require.Greater(t, ch.MicrosAheadOfPace(), int64(0))
}

func TestMicrosAheadOfPaceInfinityEncoding(t *testing.T) {
	ch := newTestChannel(t, 80)
	require.EqualValues(t, -1, ch.MicrosAheadOfPace())
}

func TestSetRate(t *testing.T) {
	ch := newTestChannel(t, 80)
	ch.SetRate(1)
	require.True(t, ch.WithinPace())
}
