package transport

import (
	"container/list"
	"time"
)

// outstandingEntry pairs a retransmission deadline with the packet it
// guards (spec.md §3's OutstandingRayPackets).
type outstandingEntry struct {
	deadline time.Time
	packet   *RayPacket
}

// OutstandingQueue is the FIFO of unacked reliable ray packets, ordered by
// deadline (spec.md §3).
type OutstandingQueue struct {
	l *list.List
}

// NewOutstandingQueue returns an empty OutstandingQueue.
func NewOutstandingQueue() *OutstandingQueue {
	return &OutstandingQueue{l: list.New()}
}

// PushBack adds a packet with the given retransmission deadline to the
// back of the queue.
func (o *OutstandingQueue) PushBack(deadline time.Time, p *RayPacket) {
	o.l.PushBack(outstandingEntry{deadline: deadline, packet: p})
}

// Front returns the oldest outstanding packet and its deadline, without
// removing it.
func (o *OutstandingQueue) Front() (time.Time, *RayPacket, bool) {
	e := o.l.Front()
	if e == nil {
		return time.Time{}, nil, false
	}
	v := e.Value.(outstandingEntry)
	return v.deadline, v.packet, true
}

// PopFront removes and discards the front entry.
func (o *OutstandingQueue) PopFront() {
	if e := o.l.Front(); e != nil {
		o.l.Remove(e)
	}
}

// Len reports how many packets are outstanding.
func (o *OutstandingQueue) Len() int { return o.l.Len() }

// Empty reports whether the queue has no outstanding packets.
func (o *OutstandingQueue) Empty() bool { return o.l.Len() == 0 }
