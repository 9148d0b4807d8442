package source

import (
	"sync"
	"sync/atomic"
)

// Source is a thread-safe replaying value holder. The zero value is not
// usable; create one with New or NewWith.
//
// Deliveries happen in rounds, one value to a snapshot of the observers. Only
// one goroutine runs rounds at a time. A Set or Subscribe made while a round is
// running, including from inside an observer, is queued and run by that same
// goroutine once the current round finishes, so observers always see values in
// Set order and a replay never overtakes a later change.
type Source[T any] struct {
	mu         sync.Mutex
	current    T
	has        bool
	closed     bool
	subs       []*subscriber[T]
	pending    []round[T]
	delivering bool
}

// round is one queued delivery of v to targets.
type round[T any] struct {
	v       T
	targets []*subscriber[T]
}

type subscriber[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Unsubscribe removes the observer. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.remove)
}

// New returns an empty Source with no current value.
func New[T any]() *Source[T] {
	return &Source[T]{}
}

// NewWith returns a Source whose current value is v.
func NewWith[T any](v T) *Source[T] {
	return &Source[T]{current: v, has: true}
}

// Subscribe registers fn. If a current value is present, fn receives it
// before any later change. The replay runs before Subscribe returns unless a
// round is already in progress, in which case it is queued behind that round.
func (s *Source[T]) Subscribe(fn func(T)) *Subscription {
	sub := &subscriber[T]{fn: fn}
	sub.active.Store(true)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &Subscription{remove: func() {}}
	}
	s.subs = append(s.subs, sub)
	handle := &Subscription{remove: func() { s.remove(sub) }}
	if !s.has {
		s.mu.Unlock()
		return handle
	}
	s.enqueueLocked(round[T]{v: s.current, targets: []*subscriber[T]{sub}})
	return handle
}

// Set stores v and notifies every registered observer in subscription order.
// When no round is in progress the observers run before Set returns.
func (s *Source[T]) Set(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.current = v
	s.has = true
	targets := make([]*subscriber[T], len(s.subs))
	copy(targets, s.subs)
	s.enqueueLocked(round[T]{v: v, targets: targets})
}

// enqueueLocked queues r and, if no goroutine is delivering, drains the queue
// on the caller's goroutine. It is called with s.mu held and releases it.
func (s *Source[T]) enqueueLocked(r round[T]) {
	s.pending = append(s.pending, r)
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	s.mu.Unlock()
	s.drain()
}

func (s *Source[T]) drain() {
	finished := false
	defer func() {
		// An observer panicked; hand the rest of the queue to the next caller.
		if !finished {
			s.mu.Lock()
			s.delivering = false
			s.mu.Unlock()
		}
	}()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.delivering = false
			s.mu.Unlock()
			finished = true
			return
		}
		r := s.pending[0]
		s.pending[0] = round[T]{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		for _, sub := range r.targets {
			// Skip observers removed earlier in this same round.
			if sub.active.Load() {
				sub.fn(r.v)
			}
		}
	}
}

// SetIfChanged stores v and notifies observers only when v differs from the
// current value or no value is present yet. It reports whether it notified.
func SetIfChanged[T comparable](s *Source[T], v T) bool {
	s.mu.Lock()
	same := s.has && s.current == v
	s.mu.Unlock()
	if same {
		return false
	}
	s.Set(v)
	return true
}

// Current returns the latest value and whether one has been set.
func (s *Source[T]) Current() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.has
}

// Subscribers returns the number of registered observers.
func (s *Source[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close drops every observer. Later Set and Subscribe calls are no-ops.
// Close is idempotent.
func (s *Source[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		sub.active.Store(false)
	}
	s.subs = nil
	s.pending = nil
	s.closed = true
}

func (s *Source[T]) remove(sub *subscriber[T]) {
	sub.active.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.subs {
		if c == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}
