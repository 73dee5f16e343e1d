package reactor

import (
	"context"
	"reflect"
	"time"
)

// selectCase names the readiness channel for one dynamic select arm.
// Reflect-based select is the only way to wait on a runtime-sized channel
// set in Go; the action table's size is only known after Register calls,
// so a hand-written switch over a fixed arity is not an option here.
type selectCase struct {
	ch <-chan struct{}
}

// selectAny blocks until one of cases has a value, ctx is cancelled, or
// timeoutCh fires. It returns the index into cases of the channel that
// fired, or -1 if the timeout elapsed, and it drains the winning channel so
// a readiness channel modeled as chan struct{} can be reused as a
// level-triggered signal. Unlike a boolean "something fired" result, the
// index lets the caller run only the action that owns the channel that
// actually became ready, instead of every action in the table.
func selectAny(ctx context.Context, cases []selectCase, timeoutCh <-chan time.Time) (int, error) {
	branches := make([]reflect.SelectCase, 0, len(cases)+2)

	branches = append(branches, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	timeoutIdx := -1
	if timeoutCh != nil {
		timeoutIdx = len(branches)
		branches = append(branches, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(timeoutCh),
		})
	}

	base := len(branches)
	for _, c := range cases {
		branches = append(branches, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(c.ch),
		})
	}

	chosen, _, _ := reflect.Select(branches)
	switch {
	case chosen == 0:
		return -1, ctx.Err()
	case chosen == timeoutIdx:
		return -1, nil
	default:
		return chosen - base, nil
	}
}
