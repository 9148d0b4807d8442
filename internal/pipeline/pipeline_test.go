package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/pagewatch/internal/merge"
	"github.com/obsidianstack/pagewatch/internal/source"
	"github.com/obsidianstack/pagewatch/internal/task"
	"github.com/obsidianstack/pagewatch/internal/ticker"
)

// --- helpers ----------------------------------------------------------------

type reply struct {
	v   []string
	err error
}

// call is one fetch observed by the fake transport.
type call struct {
	key   int
	ctx   context.Context
	reply chan reply
}

func (c *call) respond(v ...string) { c.reply <- reply{v: v} }
func (c *call) fail(err error)      { c.reply <- reply{err: err} }
func (c *call) aborted() bool       { return c.ctx.Err() != nil }

// transport records every fetch and lets the test decide when and how each
// one completes. With ignoreAbort set it keeps waiting for a reply even after
// its context is cancelled, like a transport completing behind an abort.
type transport struct {
	ignoreAbort bool

	mu    sync.Mutex
	calls []*call
}

func (tr *transport) fetch(ctx context.Context, key int) ([]string, error) {
	c := &call{key: key, ctx: ctx, reply: make(chan reply, 1)}
	tr.mu.Lock()
	tr.calls = append(tr.calls, c)
	tr.mu.Unlock()

	if tr.ignoreAbort {
		r := <-c.reply
		return r.v, r.err
	}
	select {
	case r := <-c.reply:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (tr *transport) count() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.calls)
}

// call waits for the i-th fetch (0-based) and returns it.
func (tr *transport) call(t *testing.T, i int) *call {
	t.Helper()
	waitFor(t, func() bool { return tr.count() > i })
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.calls[i]
}

// manualTicker is a ticker.Handle fired by the test.
type manualTicker struct {
	mu        sync.Mutex
	onTick    func()
	stopped   bool
	panicStop bool
}

func (m *manualTicker) fire() {
	m.mu.Lock()
	fn, stopped := m.onTick, m.stopped
	m.mu.Unlock()
	if fn != nil && !stopped {
		fn()
	}
}

func (m *manualTicker) Stop() {
	m.mu.Lock()
	m.stopped = true
	panicStop := m.panicStop
	m.mu.Unlock()
	if panicStop {
		panic("ticker stop failed")
	}
}

func (m *manualTicker) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *manualTicker) start(_ time.Duration, onTick func()) ticker.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTick = onTick
	return m
}

type out = Output[int, []string]

// outputs buffers every output a pipeline publishes.
type outputs struct {
	ch chan out
}

func collect(p *Pipeline[int, []string]) *outputs {
	o := &outputs{ch: make(chan out, 64)}
	p.SubscribeOutput(func(v out) { o.ch <- v })
	return o
}

func (o *outputs) next(t *testing.T) out {
	t.Helper()
	select {
	case v := <-o.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output")
		return out{}
	}
}

func (o *outputs) none(t *testing.T) {
	t.Helper()
	select {
	case v := <-o.ch:
		t.Fatalf("unexpected output: %+v", v)
	case <-time.After(30 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func start(t *testing.T, src *source.Source[int], tr *transport, mt *manualTicker, opts Options) *Pipeline[int, []string] {
	t.Helper()
	if opts.Interval == 0 {
		opts.Interval = 10 * time.Second
	}
	opts.StartTicker = mt.start
	p := New(context.Background(), src, tr.fetch, opts)
	t.Cleanup(p.Dispose)
	return p
}

// --- tests ------------------------------------------------------------------

func TestPipeline_FirstValueFetchesAndPublishes(t *testing.T) {
	tr := &transport{}
	p := start(t, source.NewWith(0), tr, &manualTicker{}, Options{})
	o := collect(p)

	c := tr.call(t, 0)
	if c.key != 0 {
		t.Fatalf("fetch key: got %d, want 0", c.key)
	}
	c.respond("a", "b")

	got := o.next(t)
	if got.Key != 0 || !got.HasResult || got.Err != nil || got.Generation != 1 {
		t.Errorf("output: got %+v", got)
	}
	if !reflect.DeepEqual(got.Result, []string{"a", "b"}) {
		t.Errorf("result: got %v, want [a b]", got.Result)
	}
}

func TestPipeline_NewerTriggerCancelsOlderFetch(t *testing.T) {
	tr := &transport{}
	src := source.NewWith(0)
	p := start(t, src, tr, &manualTicker{}, Options{})
	o := collect(p)

	c0 := tr.call(t, 0)
	src.Set(1)
	c1 := tr.call(t, 1)

	waitFor(t, c0.aborted)
	if c1.aborted() {
		t.Fatal("current fetch was aborted")
	}

	c1.respond("x")
	c0.respond("stale")

	got := o.next(t)
	if got.Key != 1 || !reflect.DeepEqual(got.Result, []string{"x"}) {
		t.Errorf("output: got %+v, want key 1 [x]", got)
	}
	o.none(t)

	if s := p.Stats(); s.Cancellations != 1 {
		t.Errorf("Cancellations: got %d, want 1", s.Cancellations)
	}
}

func TestPipeline_StaleCompletionNeverOverwrites(t *testing.T) {
	for _, order := range []string{"older-first", "newer-first"} {
		t.Run(order, func(t *testing.T) {
			tr := &transport{ignoreAbort: true}
			src := source.NewWith(0)
			p := start(t, src, tr, &manualTicker{}, Options{})
			o := collect(p)

			c0 := tr.call(t, 0)
			src.Set(1)
			c1 := tr.call(t, 1)

			if order == "older-first" {
				c0.respond("page-0")
				c1.respond("page-1")
			} else {
				c1.respond("page-1")
				c0.respond("page-0")
			}

			got := o.next(t)
			if got.Key != 1 || !reflect.DeepEqual(got.Result, []string{"page-1"}) {
				t.Errorf("output: got %+v, want key 1 [page-1]", got)
			}
			o.none(t)

			latest, ok := p.Latest()
			if !ok || latest.Key != 1 {
				t.Errorf("Latest: got %+v, %v", latest, ok)
			}
		})
	}
}

// The generation check is exercised directly here: a completion that beat its
// own cancellation still reaches onResult and must be dropped.
func TestPipeline_OnResultDiscardsOutdatedGeneration(t *testing.T) {
	tr := &transport{}
	p := &Pipeline[int, []string]{
		fetch:     tr.fetch,
		ctx:       context.Background(),
		cancelCtx: func() {},
		events:    newQueue[event[int, []string]](),
		output:    source.New[out](),
	}
	o := collect(p)

	p.onTrigger(merge.Trigger[int]{Value: 0})
	p.onTrigger(merge.Trigger[int]{Value: 1})

	p.onResult(task.Result[int, []string]{Key: 1, Generation: 2, Value: []string{"new"}})
	p.onResult(task.Result[int, []string]{Key: 0, Generation: 1, Value: []string{"old"}})

	got := o.next(t)
	if got.Key != 1 || got.Generation != 2 {
		t.Errorf("output: got %+v, want key 1 generation 2", got)
	}
	o.none(t)

	s := p.Stats()
	if s.Stale != 1 || s.Successes != 1 || s.Generation != 2 {
		t.Errorf("stats: got %+v", s)
	}

	// Unblock the fetch goroutines started by onTrigger.
	p.active.Cancel()
}

func TestPipeline_CancellationRaisedOncePerSupersededFetch(t *testing.T) {
	tr := &transport{}
	src := source.NewWith(0)
	mt := &manualTicker{}
	p := start(t, src, tr, mt, Options{})

	tr.call(t, 0)
	src.Set(1)
	tr.call(t, 1)
	mt.fire()
	c2 := tr.call(t, 2)
	if c2.key != 1 {
		t.Errorf("tick fetch key: got %d, want 1", c2.key)
	}

	waitFor(t, func() bool { return p.Stats().Cancellations == 2 })
	time.Sleep(10 * time.Millisecond)
	if got := p.Stats().Cancellations; got != 2 {
		t.Errorf("Cancellations: got %d, want 2", got)
	}
}

// Value 0 completes, a tick starts a second cycle for 0, then the value moves
// to 1 before that cycle completes. The tick-driven response must be dropped.
func TestPipeline_TickCycleSupersededByValueChange(t *testing.T) {
	tr := &transport{ignoreAbort: true}
	src := source.NewWith(0)
	mt := &manualTicker{}
	p := start(t, src, tr, mt, Options{})
	o := collect(p)

	tr.call(t, 0).respond("a", "b")
	first := o.next(t)
	if first.Key != 0 || !reflect.DeepEqual(first.Result, []string{"a", "b"}) {
		t.Fatalf("first output: got %+v", first)
	}

	mt.fire()
	tick := tr.call(t, 1)
	if tick.key != 0 {
		t.Fatalf("tick fetch key: got %d, want 0", tick.key)
	}

	src.Set(1)
	next := tr.call(t, 2)
	waitFor(t, tick.aborted)

	tick.respond("stale-a", "stale-b")
	next.respond("c", "d")

	got := o.next(t)
	if got.Key != 1 || !reflect.DeepEqual(got.Result, []string{"c", "d"}) {
		t.Errorf("output: got %+v, want key 1 [c d]", got)
	}
	o.none(t)
}

func TestPipeline_ThreeIntervalsThreeRefetches(t *testing.T) {
	tr := &transport{}
	mt := &manualTicker{}
	p := start(t, source.NewWith(0), tr, mt, Options{Interval: 10 * time.Second})
	o := collect(p)

	tr.call(t, 0).respond("a")
	o.next(t)

	for i := 1; i <= 3; i++ {
		mt.fire()
		c := tr.call(t, i)
		if c.key != 0 {
			t.Errorf("tick %d: key %d, want 0", i, c.key)
		}
		c.respond("a")
		o.next(t)
	}

	s := p.Stats()
	if s.TickTriggers != 3 {
		t.Errorf("TickTriggers: got %d, want 3", s.TickTriggers)
	}
	if s.Fetches != 4 || tr.count() != 4 {
		t.Errorf("fetches: stats %d, transport %d, want 4", s.Fetches, tr.count())
	}
	if s.Cancellations != 0 {
		t.Errorf("Cancellations: got %d, want 0", s.Cancellations)
	}
}

func TestPipeline_TickWithoutValueIsSuppressed(t *testing.T) {
	tr := &transport{}
	mt := &manualTicker{}
	src := source.New[int]()
	p := start(t, src, tr, mt, Options{})

	mt.fire()
	mt.fire()
	time.Sleep(20 * time.Millisecond)
	if n := tr.count(); n != 0 {
		t.Fatalf("fetches before any value: got %d, want 0", n)
	}

	src.Set(3)
	if c := tr.call(t, 0); c.key != 3 {
		t.Errorf("key: got %d, want 3", c.key)
	}
	if s := p.Stats(); s.TickTriggers != 0 {
		t.Errorf("TickTriggers: got %d, want 0", s.TickTriggers)
	}
}

func TestPipeline_DisposeWhileFetching(t *testing.T) {
	tr := &transport{ignoreAbort: true}
	src := source.NewWith(0)
	mt := &manualTicker{}
	p := start(t, src, tr, mt, Options{})
	o := collect(p)

	c0 := tr.call(t, 0)
	p.Dispose()

	if !c0.aborted() {
		t.Error("in-flight fetch was not aborted")
	}
	if !mt.isStopped() {
		t.Error("ticker not stopped")
	}
	if n := src.Subscribers(); n != 0 {
		t.Errorf("source subscribers after Dispose: got %d, want 0", n)
	}

	// The transport completes behind the abort; nothing may be published.
	c0.respond("late")
	src.Set(1)
	mt.fire()
	o.none(t)

	if n := tr.count(); n != 1 {
		t.Errorf("fetches after Dispose: got %d, want 1", n)
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not exit")
	}
}

func TestPipeline_DisposeIsIdempotent(t *testing.T) {
	tr := &transport{}
	p := start(t, source.NewWith(0), tr, &manualTicker{}, Options{})
	tr.call(t, 0)

	p.Dispose()
	first := p.Stats()
	p.Dispose()
	p.Dispose()

	if second := p.Stats(); second != first {
		t.Errorf("stats changed across repeated Dispose: %+v -> %+v", first, second)
	}
	if first.Cancellations != 1 {
		t.Errorf("Cancellations: got %d, want 1", first.Cancellations)
	}
	if !p.Disposed() {
		t.Error("Disposed: got false")
	}
}

func TestPipeline_DisposeRunsEveryStepWhenOneFails(t *testing.T) {
	tr := &transport{}
	src := source.NewWith(0)
	mt := &manualTicker{panicStop: true}
	p := start(t, src, tr, mt, Options{})
	c0 := tr.call(t, 0)

	p.Dispose() // ticker Stop panics; must not escape

	if !c0.aborted() {
		t.Error("fetch not cancelled after ticker stop panicked")
	}
	if n := src.Subscribers(); n != 0 {
		t.Errorf("source subscribers: got %d, want 0", n)
	}
}

func TestPipeline_DisposeFromOutputObserver(t *testing.T) {
	tr := &transport{}
	p := start(t, source.NewWith(0), tr, &manualTicker{}, Options{})

	calls := 0
	p.SubscribeOutput(func(out) {
		calls++
		p.Dispose()
	})
	tr.call(t, 0).respond("a")

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Dispose from inside an observer deadlocked")
	}
	if calls != 1 {
		t.Errorf("observer calls: got %d, want 1", calls)
	}
}

func TestPipeline_ContextCancelDisposes(t *testing.T) {
	tr := &transport{}
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, source.NewWith(0), tr.fetch, Options{StartTicker: (&manualTicker{}).start, Interval: time.Second})

	c0 := tr.call(t, 0)
	cancel()

	waitFor(t, p.Disposed)
	waitFor(t, c0.aborted)
}

func TestPipeline_FailurePolicy(t *testing.T) {
	boom := errors.New("status 502")
	tests := []struct {
		name       string
		policy     ErrorPolicy
		wantResult []string
		wantHas    bool
	}{
		{"retain", RetainOnError, []string{"a"}, true},
		{"clear", ClearOnError, nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := &transport{}
			src := source.NewWith(0)
			p := start(t, src, tr, &manualTicker{}, Options{OnError: tc.policy})
			o := collect(p)

			tr.call(t, 0).respond("a")
			o.next(t)

			src.Set(1)
			tr.call(t, 1).fail(boom)
			got := o.next(t)

			if !errors.Is(got.Err, boom) {
				t.Errorf("Err: got %v, want %v", got.Err, boom)
			}
			var fe *task.FetchError
			if !errors.As(got.Err, &fe) || fe.Generation != 2 {
				t.Errorf("Err: want *task.FetchError for generation 2, got %v", got.Err)
			}
			if got.Key != 1 {
				t.Errorf("Key: got %d, want 1", got.Key)
			}
			if got.HasResult != tc.wantHas || !reflect.DeepEqual(got.Result, tc.wantResult) {
				t.Errorf("result: got %v (has=%v), want %v (has=%v)",
					got.Result, got.HasResult, tc.wantResult, tc.wantHas)
			}

			// A later success recovers.
			src.Set(2)
			tr.call(t, 2).respond("c")
			if rec := o.next(t); rec.Err != nil || rec.Key != 2 {
				t.Errorf("recovery output: got %+v", rec)
			}
			if s := p.Stats(); s.Failures != 1 || s.Successes != 2 {
				t.Errorf("stats: got %+v", s)
			}
		})
	}
}

func TestPipeline_SubscribeOutputReplaysLatest(t *testing.T) {
	tr := &transport{}
	p := start(t, source.NewWith(4), tr, &manualTicker{}, Options{})
	o := collect(p)
	tr.call(t, 0).respond("r")
	o.next(t)

	late := make(chan out, 4)
	p.SubscribeOutput(func(v out) { late <- v })
	select {
	case got := <-late:
		if got.Key != 4 || !reflect.DeepEqual(got.Result, []string{"r"}) {
			t.Errorf("replay: got %+v, want the output for key 4", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("late subscriber got no replay")
	}
}

func TestPipeline_SubscribeOutputFromInsideObserver(t *testing.T) {
	tr := &transport{}
	src := source.NewWith(1)
	p := start(t, src, tr, &manualTicker{}, Options{})

	inner := make(chan out, 4)
	var once sync.Once
	p.SubscribeOutput(func(out) {
		once.Do(func() {
			p.SubscribeOutput(func(v out) { inner <- v })
		})
	})
	tr.call(t, 0).respond("a")

	select {
	case got := <-inner:
		if got.Key != 1 || got.Generation != 1 {
			t.Errorf("nested replay: got %+v, want key 1 generation 1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nested SubscribeOutput never delivered its replay")
	}

	// The loop must still be alive: a later change reaches the nested observer.
	src.Set(2)
	tr.call(t, 1).respond("b")
	select {
	case got := <-inner:
		if got.Key != 2 {
			t.Errorf("after change: got key %d, want 2", got.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event loop stalled after nested SubscribeOutput")
	}

	p.Dispose()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Dispose did not stop the loop")
	}
}

func TestPipeline_SourceSetFromInsideSourceObserver(t *testing.T) {
	tr := &transport{}
	src := source.NewWith(5)
	// Redirects 5 to 4 from inside an observer of the watched source.
	src.Subscribe(func(v int) {
		if v == 5 {
			src.Set(4)
		}
	})
	p := start(t, src, tr, &manualTicker{}, Options{})
	o := collect(p)

	c := tr.call(t, 0)
	if c.key != 4 {
		t.Fatalf("first fetch key: got %d, want 4", c.key)
	}
	c.respond("four")
	if got := o.next(t); got.Key != 4 {
		t.Errorf("output key: got %d, want 4", got.Key)
	}

	// While running: 5 reaches the pipeline first, then the redirect supersedes it.
	src.Set(5)
	superseded := tr.call(t, 1)
	redirected := tr.call(t, 2)
	if superseded.key != 5 || redirected.key != 4 {
		t.Fatalf("fetch keys: got %d then %d, want 5 then 4", superseded.key, redirected.key)
	}
	waitFor(t, superseded.aborted)
	redirected.respond("four again")
	if got := o.next(t); got.Key != 4 || got.Generation != 3 {
		t.Errorf("output: got %+v, want key 4 generation 3", got)
	}
}

func TestParseErrorPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ErrorPolicy
		wantErr bool
	}{
		{"", RetainOnError, false},
		{"retain", RetainOnError, false},
		{"clear", ClearOnError, false},
		{"drop", RetainOnError, true},
	}
	for _, tc := range tests {
		got, err := ParseErrorPolicy(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseErrorPolicy(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseErrorPolicy(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestQueue_PushNeverBlocks(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 1000; i++ {
		q.push(i)
	}
	items := q.drain()
	if len(items) != 1000 || items[0] != 0 || items[999] != 999 {
		t.Errorf("drain: got %d items", len(items))
	}
	if len(q.drain()) != 0 {
		t.Error("second drain not empty")
	}
}
