package reactor

import "github.com/gordian-engine/rayworker/clock"

// FromTicker adapts a clock.Ticker into a readiness channel, for the
// timer-driven actions of spec.md §4.8 (OutQueue's 10ms timer, and the
// peer/ack/stats/diagnostics timers). The forwarding goroutine is the one
// place this reactor departs from a literal single-thread model -- it only
// ever writes a readiness pulse, never touches worker state, so callbacks
// still run serially on the reactor goroutine exactly as spec.md §5
// requires.
func FromTicker(t clock.Ticker) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		for range t.C() {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}
