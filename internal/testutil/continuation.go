package testutil

import (
	"sync"

	"github.com/hupe1980/ollamabridge/core"
)

// Recorder is a continuation that stores every outcome it receives.
// Example:
//
//	rec := testutil.NewRecorder()
//	_, _ = bridge.ListModels(rec)
//	bridge.Drain()
//	rec.Len() // 1
type Recorder struct {
	mu       sync.Mutex
	outcomes []core.Outcome
	err      error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Failing makes Resume return err after recording (chainable).
func (r *Recorder) Failing(err error) *Recorder { r.err = err; return r }

// Resume implements core.Continuation.
func (r *Recorder) Resume(o core.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return r.err
}

// Len returns the number of recorded outcomes.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

// Last returns the most recent outcome, or the zero Outcome.
func (r *Recorder) Last() core.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return core.Outcome{}
	}
	return r.outcomes[len(r.outcomes)-1]
}
