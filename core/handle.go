package core

import "fmt"

// Handle is an opaque, single-use reference to a registered continuation.
//
// Handles are generational: Index addresses a slot in the registry and
// Generation distinguishes successive occupants of that slot, so a handle that
// has already been resolved or discarded can never match a newer registration.
// The zero Handle is never issued.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether h is the zero (never issued) handle.
func (h Handle) IsZero() bool { return h.Generation == 0 }

// String renders the handle as index@generation.
func (h Handle) String() string { return fmt.Sprintf("%d@%d", h.Index, h.Generation) }
