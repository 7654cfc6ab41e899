package listeners

import (
	"sync"
	"sync/atomic"
)

// BlockQueue is a bounded queue of block numbers. When full, the oldest
// pending number is discarded to make room for the newest one so the
// consumer always catches up to the chain tip.
type BlockQueue struct {
	mu      sync.Mutex
	ch      chan uint64
	dropped atomic.Uint64
	onDrop  func(number uint64)
}

// NewBlockQueue creates a queue holding at most size pending numbers.
func NewBlockQueue(size int) *BlockQueue {
	if size < 1 {
		size = 1
	}
	return &BlockQueue{ch: make(chan uint64, size)}
}

// OnDrop registers a callback invoked for every discarded number.
func (q *BlockQueue) OnDrop(fn func(number uint64)) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

// Push enqueues number, evicting the oldest entry if the queue is full.
// It never blocks.
func (q *BlockQueue) Push(number uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		select {
		case q.ch <- number:
			return
		default:
		}

		select {
		case old := <-q.ch:
			q.dropped.Add(1)
			if q.onDrop != nil {
				q.onDrop(old)
			}
		default:
		}
	}
}

// C is the receive side for the single consumer.
func (q *BlockQueue) C() <-chan uint64 {
	return q.ch
}

// Len reports the number of pending entries.
func (q *BlockQueue) Len() int {
	return len(q.ch)
}

// Dropped reports how many entries were evicted since creation.
func (q *BlockQueue) Dropped() uint64 {
	return q.dropped.Load()
}
