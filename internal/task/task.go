package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is the lifecycle state of a Task.
type State int32

const (
	// Pending is the zero State. Start returns tasks already Fetching, so a
	// started Task is never observed in it.
	Pending State = iota
	Fetching
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Func fetches the value for key. It must honour ctx cancellation by aborting
// any in-flight I/O.
type Func[K, V any] func(ctx context.Context, key K) (V, error)

// Result is what a task hands to its completion callback. Exactly one of
// Value (when Err is nil) or Err is meaningful.
type Result[K, V any] struct {
	Key        K
	Generation uint64
	Value      V
	Err        error
}

// ErrPanic is wrapped by a FetchError when the fetch function panicked.
var ErrPanic = errors.New("fetch panicked")

// FetchError is the failure delivered when a fetch function returns an error
// or panics.
type FetchError struct {
	Generation uint64
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch (generation %d): %v", e.Generation, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Task is one in-flight fetch.
type Task[K, V any] struct {
	key    K
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
}

// Start launches fn(ctx, key) on its own goroutine and returns immediately
// with the task in the Fetching state. onDone is called exactly once on that
// goroutine with the outcome, unless Cancel wins first, in which case it is
// never called.
func Start[K, V any](ctx context.Context, key K, gen uint64, fn Func[K, V], onDone func(Result[K, V])) *Task[K, V] {
	fctx, cancel := context.WithCancel(ctx)
	t := &Task[K, V]{
		key:    key,
		gen:    gen,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  Fetching,
	}
	go t.run(fctx, fn, onDone)
	return t
}

func (t *Task[K, V]) run(ctx context.Context, fn Func[K, V], onDone func(Result[K, V])) {
	defer close(t.done)
	defer t.cancel()

	v, err := invoke(ctx, t.key, fn)

	t.mu.Lock()
	if t.state != Fetching {
		// Cancelled while the transport was working; the result is dropped.
		t.mu.Unlock()
		return
	}
	res := Result[K, V]{Key: t.key, Generation: t.gen}
	if err != nil {
		t.state = Failed
		res.Err = &FetchError{Generation: t.gen, Err: err}
	} else {
		t.state = Completed
		res.Value = v
	}
	t.mu.Unlock()

	if onDone != nil {
		onDone(res)
	}
}

// invoke calls fn and converts a panic into an error.
func invoke[K, V any](ctx context.Context, key K, fn Func[K, V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task: fetch function panicked", "panic", r)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx, key)
}

// Cancel moves a Fetching task to Cancelled, suppresses its completion
// callback and signals the transport to abort. It returns true only for the
// call that performed the transition; later calls, and calls after the task
// completed or failed, are no-ops that return false.
func (t *Task[K, V]) Cancel() bool {
	t.mu.Lock()
	if t.state != Fetching {
		t.mu.Unlock()
		return false
	}
	t.state = Cancelled
	t.mu.Unlock()

	t.cancel()
	return true
}

// State returns the current lifecycle state.
func (t *Task[K, V]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Key returns the key the task is fetching.
func (t *Task[K, V]) Key() K { return t.key }

// Generation returns the generation the task was started with.
func (t *Task[K, V]) Generation() uint64 { return t.gen }

// Done is closed once the fetch function has returned, whether or not the
// outcome was delivered.
func (t *Task[K, V]) Done() <-chan struct{} { return t.done }
