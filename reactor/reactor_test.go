package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func readyChan() chan struct{} {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return ch
}

func TestRunOnceRunsOnlyEligibleStateDrivenActions(t *testing.T) {
	r := New(nil)

	var ranA, ranB bool
	r.Register(Action{
		Name: "a",
		Predicate: func() bool { return true },
		Handle: func(ctx context.Context) error {
			ranA = true
			return nil
		},
	})
	r.Register(Action{
		Name:      "b",
		Predicate: func() bool { return false },
		Handle: func(ctx context.Context) error {
			ranB = true
			return nil
		},
	})

	err := r.RunOnce(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ranA)
	require.False(t, ranB)
}

func TestRunOnceOnlyRunsTheActionWhoseChannelFired(t *testing.T) {
	r := New(nil)

	var ranFired, ranNeverReady bool
	r.Register(Action{
		Name:  "fired",
		Ready: readyChan(),
		Handle: func(ctx context.Context) error {
			ranFired = true
			return nil
		},
	})
	r.Register(Action{
		Name:  "never-ready",
		Ready: make(chan struct{}),
		Handle: func(ctx context.Context) error {
			ranNeverReady = true
			return nil
		},
	})

	err := r.RunOnce(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ranFired)
	require.False(t, ranNeverReady)
}

func TestRunOnceTimesOutWithoutRunningAnyAction(t *testing.T) {
	r := New(nil)

	var ran bool
	r.Register(Action{
		Name:  "never-ready",
		Ready: make(chan struct{}),
		Handle: func(ctx context.Context) error {
			ran = true
			return nil
		},
	})

	err := r.RunOnce(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ran)
}

func TestRunOnceStopsOnFirstHandleErrorWithoutOnError(t *testing.T) {
	r := New(nil)

	r.Register(Action{
		Name:  "failing",
		Ready: readyChan(),
		Handle: func(ctx context.Context) error {
			return errBoom
		},
	})

	err := r.RunOnce(context.Background(), time.Second)
	require.ErrorIs(t, err, errBoom)
}

func TestRunOnceRecoversViaOnError(t *testing.T) {
	r := New(nil)

	var caught error
	r.Register(Action{
		Name:  "failing",
		Ready: readyChan(),
		Handle: func(ctx context.Context) error {
			return errBoom
		},
		OnError: func(err error) { caught = err },
	})

	err := r.RunOnce(context.Background(), time.Second)
	require.NoError(t, err)
	require.ErrorIs(t, caught, errBoom)
}

func TestRunExitsWhenTerminated(t *testing.T) {
	r := New(nil)

	calls := 0
	r.Register(Action{
		Name: "noop",
		Handle: func(ctx context.Context) error {
			calls++
			return nil
		},
	})

	err := r.Run(context.Background(), func() time.Duration { return 0 }, func() bool { return calls >= 3 })
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRunExitsOnContextCancellation(t *testing.T) {
	r := New(nil)
	r.Register(Action{Name: "blocked", Ready: make(chan struct{})})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, func() time.Duration { return -1 }, nil)
	require.ErrorIs(t, err, context.Canceled)
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
