package ki

import (
	"context"
	"errors"
	"time"
)

// Unmask runs its argument with asynchronous termination enabled: inside f,
// ctx is the child's killable context. Outside Unmask regions, an action
// spawned by a WithUnmask variant runs masked: its context is never
// cancelled by the scope.
type Unmask func(f func(ctx context.Context) error) error

// propagation selects the failure-propagation rule of a spawn variant.
type propagation uint8

const (
	// propagateAll delivers every child failure to the parent (Fork family).
	propagateAll propagation = iota
	// propagateAsync delivers only failures attributable to an asynchronous
	// termination of the child (Async family); synchronous failures stay in
	// the handle.
	propagateAsync
)

// lowLevelFork is the race-free starting → running → finished transition
// every spawn variant is built on. It reserves a slot (holding close back via
// the starting counter), creates the child goroutine, and records the child's
// kill handle, tolerating a child that finishes before the spawner records
// it.
//
// On termination the child propagates its failure (per prop) before removing
// itself from the children map, so a closing scope observes every stray
// failure before its drain completes. The completion hook, if any, runs last:
// delete first, hook second.
func lowLevelFork[T any](s *Scope, action func(ctx context.Context) (T, error), prop propagation, completion func(val T, err error)) {
	// Reservation. While starting > 0 the scope cannot freeze, so the
	// recording below is guaranteed to happen before any close snapshot.
	s.mu.Lock()
	if s.starting < 0 {
		s.mu.Unlock()
		panic(ErrScopeClosed)
	}
	s.starting++
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	s.totalSpawned.Add(1)

	childCtx, kill := context.WithCancelCause(s.base)

	go func() {
		defer kill(errScopeDone)

		if s.obs != nil {
			s.obs.ChildStarted(childCtx)
		}
		start := time.Now()
		val, err := protect(s, childCtx, action)

		s.propagate(childCtx, err, prop)
		if s.obs != nil {
			var pe *PanicError
			s.obs.ChildFinished(childCtx, time.Since(start), err, errors.As(err, &pe))
		}

		// Merge rule, child side: if the spawner has already recorded this
		// child, remove the entry; otherwise leave the quick-death
		// placeholder for the spawner to clean up. Propagation and observer
		// hooks run first so a closing scope observes them before its drain
		// completes; the completion hook runs after the removal.
		s.mu.Lock()
		if _, ok := s.children[id]; ok {
			delete(s.children, id)
		} else {
			s.children[id] = childEntry{state: childFinished}
		}
		s.bumpLocked()
		s.mu.Unlock()

		if completion != nil {
			completion(val, err)
		}
	}()

	// Record started. The dual merge rule: normally the child is still
	// running and its kill handle is stored; if it already finished, its
	// placeholder is dropped. Both updates share one critical section with
	// the starting decrement so close never observes a half-recorded spawn.
	s.mu.Lock()
	s.starting--
	if e, ok := s.children[id]; ok && e.state == childFinished {
		delete(s.children, id)
	} else {
		s.children[id] = childEntry{state: childRunning, kill: kill}
	}
	s.bumpLocked()
	s.mu.Unlock()
}

// protect runs a child action with panic recovery.
func protect[T any](s *Scope, ctx context.Context, action func(ctx context.Context) (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if !s.opts.PanicAsError {
				panic(r)
			}
			err = newPanicError(r)
		}
	}()
	return action(ctx)
}

// propagate decides whether a child failure must be delivered to the parent
// and, if so, cancels the scope context with the thread-failed carrier as
// cause. Only the first delivered cause is retained.
//
// The scope's own closing signal is never propagated back: terminating its
// children is the parent's doing.
func (s *Scope) propagate(childCtx context.Context, err error, prop propagation) {
	if err == nil {
		return
	}
	cause := context.Cause(childCtx)
	async := childCtx.Err() != nil &&
		(errors.Is(err, context.Canceled) || (cause != nil && errors.Is(err, cause)))
	if async && errors.Is(cause, ErrScopeClosing) {
		return
	}
	if prop == propagateAsync && !async {
		return
	}
	s.kill(&threadFailed{err: err})
	s.emitCancelled(err)
}

// masked adapts a WithUnmask action: the action body runs with a context
// detached from cancellation, and the Unmask it receives re-enables the
// killable context for a delimited region.
func masked[T any](action func(ctx context.Context, unmask Unmask) (T, error)) func(context.Context) (T, error) {
	return func(killable context.Context) (T, error) {
		unmask := func(f func(ctx context.Context) error) error { return f(killable) }
		return action(context.WithoutCancel(killable), unmask)
	}
}

// Go spawns a child with no handle. A failure of the child is propagated to
// the scope, and Run re-raises it once the scope has closed. Go panics with
// ErrScopeClosed if the scope is already closed.
func (s *Scope) Go(action func(ctx context.Context) error) {
	lowLevelFork(s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, action(ctx)
	}, propagateAll, nil)
}

// GoWithUnmask is Go for actions that start masked and selectively re-enable
// termination via the provided Unmask.
func (s *Scope) GoWithUnmask(action func(ctx context.Context, unmask Unmask) error) {
	s.Go(func(killable context.Context) error {
		unmask := func(f func(ctx context.Context) error) error { return f(killable) }
		return action(context.WithoutCancel(killable), unmask)
	})
}

// Fork spawns a child whose outcome is retrievable through the returned
// Thread. Any failure is stored in the handle and also propagated to the
// scope.
func Fork[T any](s *Scope, action func(ctx context.Context) (T, error)) *Thread[T] {
	t := newThread[T]()
	lowLevelFork(s, action, propagateAll, t.fill)
	return t
}

// ForkWithUnmask is Fork for actions that start masked and selectively
// re-enable termination via the provided Unmask.
func ForkWithUnmask[T any](s *Scope, action func(ctx context.Context, unmask Unmask) (T, error)) *Thread[T] {
	return Fork(s, masked(action))
}

// Async spawns a child whose outcome is reported only through the returned
// Thread. A synchronous failure is stored and not propagated; a failure
// caused by an asynchronous termination of the child still cancels the
// scope, since the child could not complete its intended work. Awaiting the
// handle returns the same failure either way.
func Async[T any](s *Scope, action func(ctx context.Context) (T, error)) *Thread[T] {
	t := newThread[T]()
	lowLevelFork(s, action, propagateAsync, t.fill)
	return t
}

// AsyncWithUnmask is Async for actions that start masked and selectively
// re-enable termination via the provided Unmask.
func AsyncWithUnmask[T any](s *Scope, action func(ctx context.Context, unmask Unmask) (T, error)) *Thread[T] {
	return Async(s, masked(action))
}
