package pipeline

import "sync"

// queue is an unbounded FIFO with a coalescing wake-up signal. push never
// blocks, so it is safe to call from source observers and tick callbacks that
// may run on the loop goroutine itself.
type queue[E any] struct {
	mu     sync.Mutex
	items  []E
	signal chan struct{}
}

func newQueue[E any]() *queue[E] {
	return &queue[E]{signal: make(chan struct{}, 1)}
}

func (q *queue[E]) push(e E) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain removes and returns everything queued so far.
func (q *queue[E]) drain() []E {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
