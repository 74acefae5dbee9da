// Package handle converts host-side continuations into opaque, single-use,
// generational handles that can safely cross the goroutine boundary.
package handle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/ollamabridge/core"
)

// ErrStaleHandle is returned when a handle was never issued, has already been
// resolved, or has been discarded.
var ErrStaleHandle = errors.New("stale or unknown handle")

type slot struct {
	generation uint32
	cont       core.Continuation
	live       bool
}

// Registry is a generational arena of continuations. Slots freed by Take or
// Discard are recycled with a bumped generation so an old handle can never
// match the new occupant.
//
// Registry is intended to be used from the host goroutine only; it is guarded
// by a mutex anyway so misuse degrades into contention rather than a race.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
	live  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register stores c and returns a fresh handle for it.
func (r *Registry) Register(c core.Continuation) core.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	s := &r.slots[idx]
	s.generation++
	if s.generation == 0 {
		// zero generation is reserved for the zero Handle
		s.generation = 1
	}
	s.cont = c
	s.live = true
	r.live++

	return core.Handle{Index: idx, Generation: s.generation}
}

// Take removes and returns the continuation for h.
func (r *Registry) Take(h core.Handle) (core.Continuation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.takeLocked(h)
}

func (r *Registry) takeLocked(h core.Handle) (core.Continuation, bool) {
	if h.IsZero() || int(h.Index) >= len(r.slots) {
		return nil, false
	}
	s := &r.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return nil, false
	}
	c := s.cont
	s.cont = nil
	s.live = false
	r.free = append(r.free, h.Index)
	r.live--
	return c, true
}

// Resolve takes the continuation for h and resumes it with o. The registry
// lock is not held while the continuation runs. A panicking continuation is
// recovered and reported as an error.
func (r *Registry) Resolve(h core.Handle, o core.Outcome) (err error) {
	c, ok := r.Take(h)
	if !ok {
		return fmt.Errorf("resolve %s: %w", h, ErrStaleHandle)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("continuation for %s panicked: %v", h, p)
		}
	}()

	return c.Resume(o)
}

// Discard drops the continuation for h without invoking it.
func (r *Registry) Discard(h core.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.takeLocked(h)
	return ok
}

// DiscardAll drops every pending continuation and returns how many there were.
func (r *Registry) DiscardAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.slots {
		if r.slots[i].live {
			r.takeLocked(core.Handle{Index: uint32(i), Generation: r.slots[i].generation})
			n++
		}
	}
	return n
}

// Pending returns the handles of all continuations still awaiting a result.
func (r *Registry) Pending() []core.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]core.Handle, 0, r.live)
	for i, s := range r.slots {
		if s.live {
			out = append(out, core.Handle{Index: uint32(i), Generation: s.generation})
		}
	}
	return out
}

// Len returns the number of pending continuations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}
