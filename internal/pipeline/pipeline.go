package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/pagewatch/internal/merge"
	"github.com/obsidianstack/pagewatch/internal/source"
	"github.com/obsidianstack/pagewatch/internal/task"
	"github.com/obsidianstack/pagewatch/internal/ticker"
)

// ErrorPolicy decides what happens to the last good result when a fetch fails.
type ErrorPolicy int

const (
	// RetainOnError keeps publishing the previous result alongside the error.
	RetainOnError ErrorPolicy = iota
	// ClearOnError drops the previous result when a fetch fails.
	ClearOnError
)

func (p ErrorPolicy) String() string {
	if p == ClearOnError {
		return "clear"
	}
	return "retain"
}

// ParseErrorPolicy maps "retain" (or "") and "clear" to an ErrorPolicy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "", "retain":
		return RetainOnError, nil
	case "clear":
		return ClearOnError, nil
	default:
		return RetainOnError, fmt.Errorf("pipeline: unknown error policy %q: want retain|clear", s)
	}
}

// Options configures a Pipeline.
type Options struct {
	// Interval between timed refreshes of the current value. Zero disables them.
	Interval time.Duration

	// OnError selects the failure policy. Defaults to RetainOnError.
	OnError ErrorPolicy

	// StartTicker overrides how the refresh ticker is started. Nil uses
	// ticker.Default.
	StartTicker ticker.StartFunc
}

// Output is one published state of the pipeline.
//
// Key is the value whose fetch produced this output. With RetainOnError a
// failed output carries the previous result, which may belong to an older key.
type Output[K, V any] struct {
	Key        K
	Result     V
	HasResult  bool
	Err        error
	Generation uint64
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Generation    uint64
	Triggers      uint64
	TickTriggers  uint64
	Fetches       uint64
	Cancellations uint64
	Stale         uint64
	Successes     uint64
	Failures      uint64
}

type event[K, V any] struct {
	trigger *merge.Trigger[K]
	result  *task.Result[K, V]
}

type counters struct {
	triggers      atomic.Uint64
	tickTriggers  atomic.Uint64
	fetches       atomic.Uint64
	cancellations atomic.Uint64
	stale         atomic.Uint64
	successes     atomic.Uint64
	failures      atomic.Uint64
}

// Pipeline derives a fetched value from the latest value of a source.
type Pipeline[K, V any] struct {
	fetch     task.Func[K, V]
	opts      Options
	ctx       context.Context
	cancelCtx context.CancelFunc

	events *queue[event[K, V]]
	stream *merge.Stream[K]
	output *source.Source[Output[K, V]]
	quit   chan struct{}
	done   chan struct{}

	disposed atomic.Bool

	// mu guards the fields below. The loop goroutine is their only writer;
	// Dispose reads active under mu after flipping disposed.
	mu         sync.Mutex
	generation uint64
	active     *task.Task[K, V]
	result     V
	hasResult  bool

	stats counters
}

// New starts a pipeline over src. Because src replays, a source that already
// holds a value triggers the first fetch immediately. Cancelling ctx disposes
// the pipeline; fetches run with a context derived from ctx.
func New[K, V any](ctx context.Context, src *source.Source[K], fetch task.Func[K, V], opts Options) *Pipeline[K, V] {
	pctx, cancel := context.WithCancel(ctx)
	p := &Pipeline[K, V]{
		fetch:     fetch,
		opts:      opts,
		ctx:       pctx,
		cancelCtx: cancel,
		events:    newQueue[event[K, V]](),
		output:    source.New[Output[K, V]](),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go p.loop()
	p.stream = merge.Merge(src, opts.Interval, opts.StartTicker, p.enqueueTrigger)

	go func() {
		select {
		case <-pctx.Done():
			p.Dispose()
		case <-p.quit:
		}
	}()

	slog.Debug("pipeline: started", "interval", opts.Interval, "on_error", opts.OnError.String())
	return p
}

// SubscribeOutput registers fn for output updates. The latest output, if any,
// is delivered before SubscribeOutput returns, or right after the current
// delivery when called from inside an output observer.
func (p *Pipeline[K, V]) SubscribeOutput(fn func(Output[K, V])) *source.Subscription {
	return p.output.Subscribe(func(o Output[K, V]) {
		if p.disposed.Load() {
			return
		}
		fn(o)
	})
}

// Latest returns the most recently published output.
func (p *Pipeline[K, V]) Latest() (Output[K, V], bool) {
	return p.output.Current()
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline[K, V]) Stats() Stats {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()
	return Stats{
		Generation:    gen,
		Triggers:      p.stats.triggers.Load(),
		TickTriggers:  p.stats.tickTriggers.Load(),
		Fetches:       p.stats.fetches.Load(),
		Cancellations: p.stats.cancellations.Load(),
		Stale:         p.stats.stale.Load(),
		Successes:     p.stats.successes.Load(),
		Failures:      p.stats.failures.Load(),
	}
}

// Disposed reports whether Dispose has been called.
func (p *Pipeline[K, V]) Disposed() bool {
	return p.disposed.Load()
}

// Done is closed when the event loop has exited after Dispose.
func (p *Pipeline[K, V]) Done() <-chan struct{} {
	return p.done
}

// Dispose stops all pipeline activity. The first call unsubscribes from the
// source, stops the ticker and cancels any outstanding fetch, in that order;
// later calls return immediately. Dispose never waits for the transport.
func (p *Pipeline[K, V]) Dispose() {
	p.mu.Lock()
	if !p.disposed.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}
	active := p.active
	gen := p.generation
	p.mu.Unlock()

	err := runSteps(
		step{"detach source", p.stream.Detach},
		step{"stop ticker", p.stream.StopTicker},
		step{"cancel fetch", func() {
			if active != nil && active.Cancel() {
				p.stats.cancellations.Add(1)
			}
		}},
	)
	p.cancelCtx()
	p.output.Close()
	close(p.quit)

	if err != nil {
		slog.Error("pipeline: dispose cleanup failed", "generation", gen, "err", err)
	}
	slog.Debug("pipeline: disposed", "generation", gen)
}

func (p *Pipeline[K, V]) enqueueTrigger(tr merge.Trigger[K]) {
	p.events.push(event[K, V]{trigger: &tr})
}

func (p *Pipeline[K, V]) enqueueResult(res task.Result[K, V]) {
	p.events.push(event[K, V]{result: &res})
}

func (p *Pipeline[K, V]) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			return
		case <-p.events.signal:
			for _, ev := range p.events.drain() {
				if p.disposed.Load() {
					return
				}
				if ev.trigger != nil {
					p.onTrigger(*ev.trigger)
				} else {
					p.onResult(*ev.result)
				}
			}
		}
	}
}

// onTrigger supersedes the active fetch with a new generation for tr.Value.
func (p *Pipeline[K, V]) onTrigger(tr merge.Trigger[K]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed.Load() {
		return
	}

	p.stats.triggers.Add(1)
	if tr.Cause == merge.CauseTick {
		p.stats.tickTriggers.Add(1)
	}

	p.generation++
	gen := p.generation

	if p.active != nil && p.active.Cancel() {
		p.stats.cancellations.Add(1)
		slog.Debug("pipeline: superseded fetch cancelled",
			"key", p.active.Key(), "generation", p.active.Generation())
	}

	p.active = task.Start(p.ctx, tr.Value, gen, p.fetch, p.enqueueResult)
	p.stats.fetches.Add(1)
	slog.Debug("pipeline: fetch started", "key", tr.Value, "cause", tr.Cause.String(), "generation", gen)
}

// onResult applies res if it belongs to the current generation and publishes
// the new output.
func (p *Pipeline[K, V]) onResult(res task.Result[K, V]) {
	p.mu.Lock()
	if p.disposed.Load() {
		p.mu.Unlock()
		return
	}
	if res.Generation != p.generation {
		p.stats.stale.Add(1)
		p.mu.Unlock()
		slog.Debug("pipeline: stale result discarded",
			"key", res.Key, "generation", res.Generation)
		return
	}

	if res.Err == nil {
		p.result = res.Value
		p.hasResult = true
		p.stats.successes.Add(1)
	} else {
		p.stats.failures.Add(1)
		if p.opts.OnError == ClearOnError {
			var zero V
			p.result = zero
			p.hasResult = false
		}
		slog.Warn("pipeline: fetch failed", "key", res.Key, "generation", res.Generation,
			"policy", p.opts.OnError.String(), "err", res.Err)
	}

	out := Output[K, V]{
		Key:        res.Key,
		Result:     p.result,
		HasResult:  p.hasResult,
		Err:        res.Err,
		Generation: res.Generation,
	}
	p.mu.Unlock()

	p.output.Set(out)
}

type step struct {
	name string
	fn   func()
}

// runSteps runs every step in order, converting panics into errors so a
// failing step never prevents the ones after it.
func runSteps(steps ...step) error {
	var errs []error
	for _, s := range steps {
		if err := runStep(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runStep(s step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", s.name, r)
		}
	}()
	s.fn()
	return nil
}
