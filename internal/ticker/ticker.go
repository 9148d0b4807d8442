package ticker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handle is a running ticker that can be stopped.
type Handle interface {
	Stop()
}

// StartFunc starts a ticker that calls onTick every interval.
type StartFunc func(interval time.Duration, onTick func()) Handle

// Default starts a real time.Ticker-backed Ticker.
var Default StartFunc = func(interval time.Duration, onTick func()) Handle {
	return Start(interval, onTick)
}

// Ticker calls a function on its own goroutine at a fixed interval.
type Ticker struct {
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	ticks    atomic.Uint64
}

// Start begins calling onTick every interval. An interval <= 0 yields an
// inert Ticker that never fires.
func Start(interval time.Duration, onTick func()) *Ticker {
	t := &Ticker{
		interval: interval,
		stop:     make(chan struct{}),
	}
	if interval <= 0 {
		t.Stop()
		return t
	}
	go t.run(time.NewTicker(interval), onTick)
	return t
}

func (t *Ticker) run(tk *time.Ticker, onTick func()) {
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tk.C:
			// Both channels may be ready at once; a stop always wins.
			if t.stopped.Load() {
				return
			}
			t.ticks.Add(1)
			onTick()
		}
	}
}

// Stop cancels future ticks. It is idempotent and safe to call from inside
// onTick. A tick already being delivered when Stop is called runs to
// completion.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		close(t.stop)
	})
}

// Active reports whether the ticker has not been stopped.
func (t *Ticker) Active() bool {
	return !t.stopped.Load()
}

// Interval returns the configured tick interval.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Ticks returns how many times onTick has been called.
func (t *Ticker) Ticks() uint64 {
	return t.ticks.Load()
}
