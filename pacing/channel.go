// Package pacing implements the paced UDP channel of SPEC_FULL.md §B: one
// instance per network interface, backed by a token-bucket rate limiter.
// The channel is advisory -- callers must check WithinPace before Send;
// Send itself never blocks or refuses.
package pacing

import (
	"net"
	"time"

	"golang.org/x/time/rate"
)

// MTUBytes is UDP_MTU_BYTES from spec.md §6.
const MTUBytes = 1350

// Channel is a single paced UDP socket bound to one worker network
// interface (iface 0 is the ray path, iface 1 is control/benchmark only,
// per spec.md §4.1).
type Channel struct {
	iface int
	conn  *net.UDPConn
	limit *rate.Limiter

	bytesSent     uint64
	bytesReceived uint64

	buf [MTUBytes]byte
}

// New opens a UDP socket on addr for the given interface index, paced at
// mbps megabits/second.
func New(iface int, addr *net.UDPAddr, mbps uint64) (*Channel, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Channel{
		iface: iface,
		conn:  conn,
		limit: newLimiter(mbps),
	}, nil
}

func newLimiter(mbps uint64) *rate.Limiter {
	bytesPerSec := float64(mbps) * 1e6 / 8
	return rate.NewLimiter(rate.Limit(bytesPerSec), MTUBytes)
}

// Interface returns the interface index this channel was constructed for.
func (c *Channel) Interface() int { return c.iface }

// LocalAddr returns the bound local address.
func (c *Channel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes b to dest and records the send against the pace budget.
// It never blocks on pacing -- callers are expected to consult WithinPace
// first, per spec.md §4.1.
func (c *Channel) Send(dest *net.UDPAddr, b []byte) (int, error) {
	n, err := c.conn.WriteToUDP(b, dest)
	if n > 0 {
		c.bytesSent += uint64(n)
		c.RecordSend(n)
	}
	return n, err
}

// Recv reads one datagram, returning its source and a copy of its bytes.
func (c *Channel) Recv() (*net.UDPAddr, []byte, error) {
	n, src, err := c.conn.ReadFromUDP(c.buf[:])
	if err != nil {
		return nil, nil, err
	}
	c.bytesReceived += uint64(n)
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return src, out, nil
}

// RecordSend withdraws n bytes' worth of wire time from the token bucket
// without blocking, per spec.md §4.1's record_send.
func (c *Channel) RecordSend(n int) {
	now := time.Now()
	burst := c.limit.Burst()
	for n > 0 {
		k := n
		if k > burst {
			k = burst
		}
		// ReserveN always commits (k never exceeds the burst), letting the
		// bucket go negative; AllowN would leave it untouched instead.
		c.limit.ReserveN(now, k)
		n -= k
	}
}

// WithinPace reports whether the token bucket currently has non-negative
// balance, i.e. it is safe to send without running ahead of the configured
// rate.
func (c *Channel) WithinPace() bool {
	return c.limit.TokensAt(time.Now()) >= 0
}

// MicrosAheadOfPace returns how far in the future the bucket will refill
// enough to admit one more MTU-sized send, or -1 if the channel is already
// within pace (spec.md §4.1/§4.8's "infinity" encoding).
func (c *Channel) MicrosAheadOfPace() int64 {
	now := time.Now()
	if c.limit.TokensAt(now) >= 0 {
		return -1
	}
	r := c.limit.ReserveN(now, MTUBytes)
	d := r.DelayFrom(now)
	r.Cancel()
	if d <= 0 {
		return -1
	}
	return d.Microseconds()
}

// SetRate reconfigures the token bucket to a new megabit/second ceiling,
// used by benchmark mode to cap the receive-interface rate.
func (c *Channel) SetRate(mbps uint64) {
	c.limit = newLimiter(mbps)
}

// BytesSent and BytesReceived expose the running byte counters from
// spec.md §4.1.
func (c *Channel) BytesSent() uint64     { return c.bytesSent }
func (c *Channel) BytesReceived() uint64 { return c.bytesReceived }

// Close closes the underlying socket.
func (c *Channel) Close() error { return c.conn.Close() }
