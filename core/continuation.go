package core

// Continuation is the host-side callable an operation reports back to.
//
// Resume is only ever invoked on the host goroutine, from a drain pass, and at
// most once per registration. A returned error is reported through the host's
// non-fatal error channel; it never aborts the drain.
type Continuation interface {
	Resume(o Outcome) error
}

// ContinuationFunc adapts a plain function to the Continuation interface.
type ContinuationFunc func(o Outcome) error

// Resume implements Continuation.
func (f ContinuationFunc) Resume(o Outcome) error { return f(o) }
