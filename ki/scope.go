package ki

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Scope owns a set of concurrently executing children. Create one with Run
// (preferred, lexical) or New/Join (manual lifecycle, for interop layers).
//
// All scope state is shared between the scope's owning goroutine, its
// children, and handle readers; every mutation happens inside one critical
// section, so any observation of children and starting together is a
// consistent snapshot.
type Scope struct {
	ctx  context.Context         // the parent's signal target; body ctx in Run
	kill context.CancelCauseFunc // first-cause-wins delivery to the parent
	base context.Context         // values-only parent for child contexts

	mu       sync.Mutex
	changed  chan struct{} // closed and replaced on every children/starting transition
	children map[uint64]childEntry
	nextID   uint64
	starting int // -1 once the scope is closed

	opts Options
	obs  Observer

	cancelled atomic.Bool

	joinOnce sync.Once
	joinErr  error

	totalSpawned atomic.Int64
}

type childState uint8

const (
	childRunning childState = iota
	// childFinished marks a quick death: the child completed before the
	// spawner could record its kill handle. The entry is never signalled.
	childFinished
)

type childEntry struct {
	state childState
	kill  context.CancelCauseFunc // set when state == childRunning
}

// New creates a Scope for manual lifecycle control. The caller must call
// Join to close the scope; until then children may be spawned freely.
//
// Prefer Run, which guarantees the close protocol runs as the scope's last
// act. Use New when the scope has to cross an API boundary, as in
// interop/errgroup.
func New(parent context.Context, optFns ...Option) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	ctx, kill := context.WithCancelCause(parent)
	s := &Scope{
		ctx:      ctx,
		kill:     kill,
		base:     context.WithoutCancel(parent),
		changed:  make(chan struct{}),
		children: make(map[uint64]childEntry),
		opts:     defaultOptions(),
	}
	for _, fn := range optFns {
		fn(&s.opts)
	}
	s.obs = s.opts.Observer
	if s.obs != nil {
		s.obs.ScopeOpened(ctx)
	}
	return s
}

// Run opens a fresh scope, invokes body with it, closes the scope, and
// returns body's error. Closing freezes spawning, terminates every remaining
// child, and blocks until all children have finished. Children never
// outlive Run, whether body returns, fails, or panics.
//
// The ctx passed to body is cancelled when a child failure is propagated to
// the scope or when Cancel is called; its cancellation cause at the Run
// boundary is unwrapped so callers see the child's original error. If body
// fails, that failure wins over anything observed while closing.
func Run(parent context.Context, body func(ctx context.Context, s *Scope) error, optFns ...Option) error {
	s := New(parent, optFns...)

	var bodyErr error
	bodyPanic := func() (rec any) {
		defer func() { rec = recover() }()
		bodyErr = body(s.ctx, s)
		return nil
	}()

	joinErr := s.Join()

	// A panicking body still closes the scope first, so re-raising here
	// cannot leak children.
	if bodyPanic != nil {
		panic(bodyPanic)
	}
	if bodyErr != nil {
		return s.unwrapThreadFailure(bodyErr)
	}
	return joinErr
}

// RunResult is Run for bodies that produce a value.
func RunResult[T any](parent context.Context, body func(ctx context.Context, s *Scope) (T, error), optFns ...Option) (T, error) {
	var out T
	err := Run(parent, func(ctx context.Context, s *Scope) error {
		v, err := body(ctx, s)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, optFns...)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Join closes the scope: spawning is frozen, every live child receives the
// scope-closing signal in creation order, and Join blocks until all children
// have finished. It returns the first stray failure observed while the scope
// was closing (with the internal carrier unwrapped), or nil.
//
// Join is idempotent; subsequent calls return the same result. A child that
// ignores the scope-closing signal blocks Join forever.
func (s *Scope) Join() error {
	s.joinOnce.Do(func() { s.joinErr = s.close() })
	return s.joinErr
}

func (s *Scope) close() error {
	start := time.Now()

	// Freeze spawning. A reservation in flight (starting > 0) must record
	// its child before the scope may close; once starting drops to zero the
	// sentinel is absorbing and every later spawn fails.
	s.mu.Lock()
	for s.starting > 0 {
		ch := s.changed
		s.mu.Unlock()
		<-ch
		s.mu.Lock()
	}
	s.starting = -1
	ids := make([]uint64, 0, len(s.children))
	for id := range s.children {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	kills := make([]context.CancelCauseFunc, 0, len(ids))
	for _, id := range ids {
		if e := s.children[id]; e.state == childRunning {
			kills = append(kills, e.kill)
		}
	}
	s.mu.Unlock()

	// Signal children in creation order. A child that completed before the
	// snapshot receives no signal.
	for _, kill := range kills {
		kill(ErrScopeClosing)
	}

	// Drain. Children remove themselves as their last transition before the
	// completion hook runs.
	s.mu.Lock()
	for len(s.children) > 0 {
		ch := s.changed
		s.mu.Unlock()
		<-ch
		s.mu.Lock()
	}
	s.mu.Unlock()

	if s.obs != nil {
		s.obs.ScopeJoined(s.ctx, time.Since(start))
	}

	// The scope context's cancellation cause is the one stray signal
	// retained while closing; later ones were dropped by the
	// first-cause-wins cell.
	err := context.Cause(s.ctx)
	s.kill(errScopeDone)
	if err == nil || errors.Is(err, errScopeDone) {
		return nil
	}
	var tf *threadFailed
	if errors.As(err, &tf) {
		return tf.err
	}
	return err
}

// Wait blocks until every child of the scope has finished and no spawn is in
// flight, observed together in one snapshot. It does not close the scope;
// new children may be spawned afterwards. Wait returns early with the
// cancellation cause if ctx is cancelled first.
func (s *Scope) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.children) == 0 && s.starting <= 0 {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// WaitFor waits up to d for the scope to quiesce. It reports whether every
// child had finished before the deadline.
func (s *Scope) WaitFor(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Wait(ctx) == nil
}

// WaitChan returns a channel that is closed once the scope quiesces. It is
// the select-friendly form of Wait. The watcher completes at the latest when
// the scope is joined, since Join drains all children.
func (s *Scope) WaitChan() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		_ = s.Wait(context.Background())
	}()
	return ch
}

// Cancel delivers an asynchronous signal to the scope: the scope context is
// cancelled with the given cause. Children are not signalled directly; they
// are terminated when the scope closes. Only the first cause is retained.
func (s *Scope) Cancel(err error) {
	s.kill(err)
	s.emitCancelled(context.Cause(s.ctx))
}

// Context returns the scope's context: the body ctx of Run, cancelled on the
// first propagated child failure or explicit Cancel.
func (s *Scope) Context() context.Context { return s.ctx }

// ActiveChildren returns the number of children currently alive from the
// scope's point of view, counting spawns that have reserved a slot but not
// yet recorded their worker.
func (s *Scope) ActiveChildren() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.children)
	if s.starting > 0 {
		n += s.starting
	}
	return n
}

// TotalSpawned returns the total number of children ever spawned in this
// scope, including those that have finished.
func (s *Scope) TotalSpawned() int64 { return s.totalSpawned.Load() }

// bumpLocked wakes every goroutine blocked on a state transition.
// Callers hold mu.
func (s *Scope) bumpLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scope) emitCancelled(cause error) {
	if s.obs != nil && s.cancelled.CompareAndSwap(false, true) {
		s.obs.ScopeCancelled(s.ctx, cause)
	}
}

// unwrapThreadFailure strips the internal carrier from a body failure so Run
// surfaces the child's original error. A body that returns its context's
// bare cancellation error is resolved through the recorded cause.
func (s *Scope) unwrapThreadFailure(err error) error {
	var tf *threadFailed
	if errors.As(err, &tf) {
		return tf.err
	}
	if errors.Is(err, context.Canceled) {
		if errors.As(context.Cause(s.ctx), &tf) {
			return tf.err
		}
	}
	return err
}
