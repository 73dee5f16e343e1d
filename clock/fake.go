package clock

import "time"

// Fake is a manually advanced Clock for deterministic tests.
type Fake struct {
	now     time.Time
	tickers []*fakeTicker
}

// NewFake returns a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time { return f.now }

func (f *Fake) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{period: d, ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the fake clock forward by d, firing any ticker whose period
// has elapsed since its last fire.
func (f *Fake) Advance(d time.Duration) {
	f.now = f.now.Add(d)
	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		t.elapsed += d
		for t.elapsed >= t.period {
			t.elapsed -= t.period
			select {
			case t.ch <- f.now:
			default:
			}
		}
	}
}

type fakeTicker struct {
	period  time.Duration
	elapsed time.Duration
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }
