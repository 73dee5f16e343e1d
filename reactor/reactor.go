// Package reactor implements the single-threaded cooperative event loop of
// spec.md §4.8 as a registerable table of named actions, each eligible when
// its readiness source fires AND its predicate holds. This is the Go
// translation of a poll(2)-based reactor: Go has no portable raw poll
// surface, but gordian's own internal/dk.Kernel.mainLoop already expresses
// "select over several readiness channels, run whichever fired" for its
// join/peering/ticker sources, so the same shape generalizes cleanly to an
// open set of actions instead of a fixed handful of channel operands.
package reactor

import (
	"context"
	"log/slog"
	"time"
)

// Action is one eligible-or-not unit of work the reactor may run on a given
// iteration, per spec.md §4.8's (fd, direction, callback, predicate,
// error-callback) tuple. Ready stands in for "fd is ready in the given
// direction" -- a real socket readiness channel or a ticker's channel. A
// nil Ready marks a state-driven action (RayQueue, UdpSend0/1,
// FinishedQueue): it carries no readiness channel of its own and is instead
// re-checked against its Predicate on every RunOnce, since its eligibility
// tracks queue contents rather than any single fd.
type Action struct {
	Name      string
	Ready     <-chan struct{}
	Predicate func() bool
	Handle    func(ctx context.Context) error
	OnError   func(error)
}

func (a Action) eligible() bool {
	if a.Predicate == nil {
		return true
	}
	return a.Predicate()
}

// Reactor runs a fixed set of registered Actions to completion, one
// iteration at a time, with no locking: every Handle call runs on the same
// goroutine between two calls to RunOnce (spec.md §5's "no concurrency"
// scheduling model).
type Reactor struct {
	actions []Action
	log     *slog.Logger
}

// New returns an empty Reactor. A nil logger falls back to slog.Default.
func New(log *slog.Logger) *Reactor {
	if log == nil {
		log = slog.Default()
	}
	return &Reactor{log: log}
}

// Register adds an action to the reactor's table. Actions are evaluated in
// registration order within a single RunOnce.
func (r *Reactor) Register(a Action) {
	r.actions = append(r.actions, a)
}

// Actions exposes the registered actions for inspection, used by bench.Runner
// to swap in a different action set (spec.md §4.9).
func (r *Reactor) Actions() []Action { return r.actions }

// SetActions replaces the full action table, used when entering or leaving
// benchmark mode.
func (r *Reactor) SetActions(actions []Action) { r.actions = actions }

// RunOnce runs every currently-eligible state-driven action (Ready == nil),
// then, only if none of those ran, blocks up to timeout for one fd/timer
// action's own Ready channel to fire and runs that single action if it is
// still eligible. Gating the fd/timer half of the table on the specific
// channel that fired, rather than on every predicate-eligible action, is
// what lets ticker-driven actions (Peers, WorkerStats, Diagnostics, ...)
// run only on their own tick, and what lets the reactor actually block
// between ticks instead of spinning (spec.md §4.8, §5).
func (r *Reactor) RunOnce(ctx context.Context, timeout time.Duration) error {
	ran := false
	for i := range r.actions {
		a := r.actions[i]
		if a.Ready != nil {
			continue
		}
		if !a.eligible() {
			continue
		}
		ran = true
		if err := a.Handle(ctx); err != nil {
			if a.OnError != nil {
				a.OnError(err)
				continue
			}
			return err
		}
	}
	if ran {
		return nil
	}

	idx, err := r.awaitReady(ctx, timeout)
	if err != nil {
		return err
	}
	if idx < 0 {
		return nil
	}

	a := r.actions[idx]
	if !a.eligible() {
		return nil
	}
	if err := a.Handle(ctx); err != nil {
		if a.OnError != nil {
			a.OnError(err)
			return nil
		}
		return err
	}
	return nil
}

// awaitReady blocks until ctx is done, timeout elapses, or one fd/timer
// action's Ready channel has a value, and reports the index into r.actions
// of the action that channel belongs to (-1 on timeout).
func (r *Reactor) awaitReady(ctx context.Context, timeout time.Duration) (int, error) {
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout >= 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	idxs := make([]int, 0, len(r.actions))
	cases := make([]selectCase, 0, len(r.actions))
	for i, a := range r.actions {
		if a.Ready == nil {
			continue
		}
		idxs = append(idxs, i)
		cases = append(cases, selectCase{ch: a.Ready})
	}

	chosen, err := selectAny(ctx, cases, timeoutCh)
	if err != nil {
		return -1, err
	}
	if chosen < 0 {
		return -1, nil
	}
	return idxs[chosen], nil
}

// Run drives RunOnce in a loop until ctx is cancelled or terminated returns
// true, computing each iteration's timeout from paceTimeout (spec.md §4.8's
// "timeout = min over both UDP channels of pace-wait", -1 encoding
// infinity/block).
func (r *Reactor) Run(ctx context.Context, paceTimeout func() time.Duration, terminated func() bool) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if terminated != nil && terminated() {
			return nil
		}

		timeout := time.Duration(-1)
		if paceTimeout != nil {
			timeout = paceTimeout()
		}

		if err := r.RunOnce(ctx, timeout); err != nil {
			return err
		}
	}
}
