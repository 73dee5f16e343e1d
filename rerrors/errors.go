// Package rerrors holds error types shared across rayworker's
// subpackages, kept separate from the root package to avoid import
// cycles (worker.go imports rayqueue, peer, transport, and control, all of
// which need to raise these).
package rerrors

import "fmt"

// UnknownPeerError is returned when a control message references a worker
// id that has not been announced by the coordinator.
type UnknownPeerError struct {
	WorkerID uint64
}

func (e UnknownPeerError) Error() string {
	return fmt.Sprintf("unknown peer worker id %d", e.WorkerID)
}

// InvariantViolationError marks an internal contract violation that should
// never be reachable in a correctly driven reactor, per spec.md §4.5/§7.
// Per spec.md's error taxonomy, this class is fatal.
type InvariantViolationError struct {
	Detail string
}

func (e InvariantViolationError) Error() string {
	return "invariant violation: " + e.Detail
}

// DeferredError signals that a handler could not process a message yet
// (spec.md §4.3/§7), e.g. a ConnectionRequest from an unknown peer. The
// engine re-queues the message for the next pass, bounded to one retry
// per message per pass.
type DeferredError struct {
	Reason string
}

func (e DeferredError) Error() string {
	return "deferred: " + e.Reason
}
