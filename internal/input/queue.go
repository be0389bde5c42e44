// Package input turns button edges into debounced level events. A backend
// calls Debouncer.Signal from its edge callback; after the quiet window the
// debouncer samples the current level of every pending pin and pushes one
// Edge per pin onto a bounded Queue read by the dispatch goroutine.
package input

import (
	"context"
	"sync/atomic"
)

// DefaultQueueDepth matches the firmware's 16-entry message queue.
const DefaultQueueDepth = 16

// Edge is a debounced level sample for one or more buttons. Bit i of Pins
// is button i in the configured button table.
type Edge struct {
	Down bool
	Pins uint32
}

// Queue is a bounded multi-producer single-consumer FIFO. Producers never
// block: a push onto a full queue is dropped.
type Queue struct {
	ch      chan Edge
	dropped atomic.Uint64
}

// NewQueue returns a Queue holding at most depth edges.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Queue{ch: make(chan Edge, depth)}
}

// TryPush enqueues e without blocking. It returns false if the queue was
// full and e was dropped.
func (q *Queue) TryPush(e Edge) bool {
	select {
	case q.ch <- e:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop blocks until an edge is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Edge, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return Edge{}, ctx.Err()
	}
}

// C exposes the receive side for consumers that select over several
// sources. There must be only one consumer.
func (q *Queue) C() <-chan Edge { return q.ch }

// Len returns the number of queued edges.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns how many edges were discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
