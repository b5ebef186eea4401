package udfc

import (
	"errors"
	"sync"
)

var errQueueClosed = errors.New("queue closed")

// queue is a mutex-guarded FIFO with a coalescing wake signal. Producers
// never block beyond the mutex; the single consumer drains everything at
// once by swapping the backing slice.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	wake   chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{wake: make(chan struct{}, 1)}
}

// push appends item and signals the consumer. It returns false once the
// queue has been closed.
func (q *queue[T]) push(item T) bool {
	return q.pushIf(item, nil) == nil
}

// pushIf is push with an admission check evaluated under the queue mutex.
// It returns errQueueClosed after close, or the error from admit.
func (q *queue[T]) pushIf(item T, admit func() error) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errQueueClosed
	}
	if admit != nil {
		if err := admit(); err != nil {
			q.mu.Unlock()
			return err
		}
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return nil
}

// drain detaches and returns everything queued so far
func (q *queue[T]) drain() []T {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// close rejects further pushes and returns whatever was still queued
func (q *queue[T]) close() []T {
	q.mu.Lock()
	q.closed = true
	items := q.items
	q.items = nil
	q.mu.Unlock()

	q.signal()
	return items
}

// len returns the number of queued items
func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// isClosed reports whether close has been called
func (q *queue[T]) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// wakeup returns the channel signalled after every push
func (q *queue[T]) wakeup() <-chan struct{} {
	return q.wake
}

func (q *queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
		// Already has pending notification
	}
}
