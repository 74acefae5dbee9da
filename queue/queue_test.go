package queue

import (
	"sync"
	"testing"

	"github.com/hupe1980/ollamabridge/core"
	"github.com/stretchr/testify/assert"
)

func TestQueue_FIFO(t *testing.T) {
	q := New()
	assert.Nil(t, q.DrainAll())

	for i := uint32(1); i <= 3; i++ {
		q.Push(core.QueuedResult{Handle: core.Handle{Index: i, Generation: 1}})
	}
	assert.Equal(t, 3, q.Len())

	got := q.DrainAll()
	if assert.Len(t, got, 3) {
		assert.Equal(t, uint32(1), got[0].Handle.Index)
		assert.Equal(t, uint32(3), got[2].Handle.Index)
	}
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.DrainAll())
}

func TestQueue_ConcurrentProducersNeverDrop(t *testing.T) {
	const producers, perProducer = 8, 250

	q := New()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(core.QueuedResult{Handle: core.Handle{Index: uint32(p*perProducer + i), Generation: 1}})
			}
		}(p)
	}

	seen := make(map[uint32]bool)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drain := func() {
		for _, r := range q.DrainAll() {
			assert.False(t, seen[r.Handle.Index], "duplicate delivery")
			seen[r.Handle.Index] = true
		}
	}
loop:
	for {
		select {
		case <-done:
			break loop
		default:
			drain()
		}
	}
	drain()

	assert.Len(t, seen, producers*perProducer)
}
