package merge

import (
	"sync"
	"time"

	"github.com/obsidianstack/pagewatch/internal/source"
	"github.com/obsidianstack/pagewatch/internal/ticker"
)

// Cause says what produced a trigger.
type Cause int

const (
	// CauseChange is a value delivered by the source.
	CauseChange Cause = iota
	// CauseTick is a ticker firing, resolved to the latest source value.
	CauseTick
)

func (c Cause) String() string {
	switch c {
	case CauseChange:
		return "change"
	case CauseTick:
		return "tick"
	default:
		return "unknown"
	}
}

// Trigger asks the consumer to (re)evaluate for Value.
type Trigger[T any] struct {
	Value T
	Cause Cause
}

// Merger resolves source values and ticks into triggers. Its OnValue and OnTick
// methods are the observer and tick callbacks; Merge wires them up.
type Merger[T any] struct {
	mu     sync.Mutex
	latest T
	has    bool
	emit   func(Trigger[T])
}

// NewMerger returns a Merger that hands every trigger to emit. emit is called
// with the merger's lock held and must not block.
func NewMerger[T any](emit func(Trigger[T])) *Merger[T] {
	return &Merger[T]{emit: emit}
}

// OnValue records v as the latest value and emits a change trigger.
func (m *Merger[T]) OnValue(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = v
	m.has = true
	m.emit(Trigger[T]{Value: v, Cause: CauseChange})
}

// OnTick emits a tick trigger for the latest value, or nothing if no value has
// been seen yet.
func (m *Merger[T]) OnTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return
	}
	m.emit(Trigger[T]{Value: m.latest, Cause: CauseTick})
}

// Stream is a live merge of a source subscription and a ticker.
type Stream[T any] struct {
	sub  *source.Subscription
	tick ticker.Handle
}

// Merge subscribes to src and starts a ticker with the given interval. Because
// src replays, a source with a current value emits its first trigger before
// Merge returns. A nil start uses ticker.Default; interval <= 0 disables ticks.
func Merge[T any](src *source.Source[T], interval time.Duration, start ticker.StartFunc, emit func(Trigger[T])) *Stream[T] {
	if start == nil {
		start = ticker.Default
	}
	m := NewMerger(emit)
	st := &Stream[T]{}
	st.sub = src.Subscribe(m.OnValue)
	if interval > 0 {
		st.tick = start(interval, m.OnTick)
	}
	return st
}

// Detach unsubscribes from the source. Idempotent.
func (s *Stream[T]) Detach() {
	s.sub.Unsubscribe()
}

// StopTicker stops the ticker, if one was started. Idempotent.
func (s *Stream[T]) StopTicker() {
	if s.tick != nil {
		s.tick.Stop()
	}
}

// Stop detaches from the source, then stops the ticker.
func (s *Stream[T]) Stop() {
	s.Detach()
	s.StopTicker()
}
