package ki

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	// ErrScopeClosed is the panic value raised by any spawn attempt on a
	// scope that has already been closed. Spawning on a closed scope is a
	// programmer error, detected synchronously before any goroutine is
	// created.
	ErrScopeClosed = errors.New("ki: spawn on closed scope")

	// ErrScopeClosing is the termination signal a closing scope delivers to
	// its live children. A child observes it as the cancellation cause of
	// its context. Delivery is idempotent: a child signalled more than once
	// sees a single termination request.
	ErrScopeClosing = errors.New("ki: scope is closing")

	// ErrAwaitTimeout is returned by Thread.AwaitFor when the child has not
	// finished within the given duration.
	ErrAwaitTimeout = errors.New("ki: await timed out")

	// errScopeDone releases contexts after a clean shutdown.
	errScopeDone = errors.New("ki: scope done")
)

// threadFailed carries a child's failure to its parent. It is unwrapped at
// the scope boundary so callers always see the child's original error, never
// the carrier.
type threadFailed struct {
	err error
}

func (e *threadFailed) Error() string { return fmt.Sprintf("ki: child failed: %v", e.err) }

func (e *threadFailed) Unwrap() error { return e.err }

// PanicError wraps a panic recovered from a child action together with the
// goroutine stack captured at the point of the panic.
//
// With the default WithPanicAsError(true), child panics surface as
// *PanicError failures; otherwise they are re-raised in the child goroutine.
type PanicError struct {
	// Value is the original value passed to panic().
	Value any

	// Stack is the goroutine stack trace at the point of panic.
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack) }

func newPanicError(v any) *PanicError {
	// runtime.Stack truncates gracefully if the buffer is too small.
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{Value: v, Stack: string(buf[:n])}
}
