// Package queue implements the mailbox that carries completed results from
// background workers back to the host goroutine.
package queue

import (
	"sync"

	"github.com/hupe1980/ollamabridge/core"
)

// Queue is a multi-producer, single-consumer FIFO of completed results. Push
// never blocks on the consumer and never drops.
type Queue struct {
	mu      sync.Mutex
	entries []core.QueuedResult
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends r. Safe from any goroutine.
func (q *Queue) Push(r core.QueuedResult) {
	q.mu.Lock()
	q.entries = append(q.entries, r)
	q.mu.Unlock()
}

// DrainAll swaps out every queued entry, leaving the queue empty. Entries
// pushed while the caller processes the returned slice show up in the next
// call.
func (q *Queue) DrainAll() []core.QueuedResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	out := q.entries
	q.entries = nil
	return out
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
