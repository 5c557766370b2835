package intercept

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is a copy operation's position in its lifecycle.
type State int32

const (
	Idle State = iota
	CapturingSelection
	BuildingFragment
	AwaitingResolution
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CapturingSelection:
		return "capturing-selection"
	case BuildingFragment:
		return "building-fragment"
	case AwaitingResolution:
		return "awaiting-resolution"
	case Finalizing:
		return "finalizing"
	}
	return "unknown"
}

// Kind says what ended up on the clipboard.
type Kind int

const (
	// DefaultCopy means the gesture was not intercepted and the browser
	// copied the selection itself.
	DefaultCopy Kind = iota
	// Fallback means the reconstructed fragment written during the event
	// is final.
	Fallback
	// Inlined means the clipboard was overwritten with embedded images.
	Inlined
)

func (k Kind) String() string {
	switch k {
	case DefaultCopy:
		return "default"
	case Fallback:
		return "fallback"
	case Inlined:
		return "inlined"
	}
	return "unknown"
}

// CopyOutcome describes a finished copy operation. Err carries the reason
// when the operation stopped short of Inlined.
type CopyOutcome struct {
	Kind      Kind
	Err       error
	URLs      int
	Rewritten int
	HTML      string
	Text      string
}

// CopyOperation is one intercepted copy. The event handler returns it as
// soon as the synchronous part is done.
type CopyOperation struct {
	ID      string
	Started time.Time

	state   atomic.Int32
	done    chan struct{}
	once    sync.Once
	outcome CopyOutcome
}

func newCopyOperation(now time.Time) *CopyOperation {
	return &CopyOperation{ID: newID(), Started: now, done: make(chan struct{})}
}

// State returns the current state.
func (op *CopyOperation) State() State { return State(op.state.Load()) }

func (op *CopyOperation) setState(s State) { op.state.Store(int32(s)) }

func (op *CopyOperation) finish(out CopyOutcome) {
	op.once.Do(func() {
		op.outcome = out
		op.setState(Idle)
		close(op.done)
	})
}

// Done is closed when the operation is over.
func (op *CopyOperation) Done() <-chan struct{} { return op.done }

// Wait blocks until the operation is over or ctx is done.
func (op *CopyOperation) Wait(ctx context.Context) (CopyOutcome, error) {
	select {
	case <-op.done:
		return op.outcome, nil
	case <-ctx.Done():
		return CopyOutcome{}, ctx.Err()
	}
}

// BackstopKind says what the keyboard pass did.
type BackstopKind int

const (
	// BackstopSkipped means the primary pass handled the gesture or
	// another pass was in flight.
	BackstopSkipped BackstopKind = iota
	// BackstopUnchanged means nothing on the clipboard could be patched.
	BackstopUnchanged
	// BackstopPatched means the clipboard HTML was rewritten.
	BackstopPatched
)

func (k BackstopKind) String() string {
	switch k {
	case BackstopSkipped:
		return "skipped"
	case BackstopUnchanged:
		return "unchanged"
	case BackstopPatched:
		return "patched"
	}
	return "unknown"
}

// BackstopOutcome describes a finished backstop run.
type BackstopOutcome struct {
	Kind      BackstopKind
	Err       error
	URLs      int
	Rewritten int
}

// BackstopRun is one scheduled keyboard pass.
type BackstopRun struct {
	ID      string
	Pressed time.Time

	done    chan struct{}
	once    sync.Once
	outcome BackstopOutcome
}

func newBackstopRun(now time.Time) *BackstopRun {
	return &BackstopRun{ID: newID(), Pressed: now, done: make(chan struct{})}
}

func (b *BackstopRun) finish(out BackstopOutcome) {
	b.once.Do(func() {
		b.outcome = out
		close(b.done)
	})
}

// Wait blocks until the run is over or ctx is done.
func (b *BackstopRun) Wait(ctx context.Context) (BackstopOutcome, error) {
	select {
	case <-b.done:
		return b.outcome, nil
	case <-ctx.Done():
		return BackstopOutcome{}, ctx.Err()
	}
}
