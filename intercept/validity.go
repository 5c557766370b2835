package intercept

import "sync/atomic"

// ContextValidity records whether the side-channel can still be reached.
// Once invalidated it stays invalid.
type ContextValidity struct {
	invalid atomic.Bool
}

// Valid reports whether requests may still be issued.
func (c *ContextValidity) Valid() bool {
	return c == nil || !c.invalid.Load()
}

// Invalidate flips the flag for good. It returns true on the first call.
func (c *ContextValidity) Invalidate() bool {
	if c == nil {
		return false
	}
	return c.invalid.CompareAndSwap(false, true)
}
