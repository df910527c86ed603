package ki

import (
	"context"
	"time"
)

// Option configures a Scope.
type Option func(*Options)

type Options struct {
	PanicAsError bool
	Observer     Observer
}

func defaultOptions() Options { return Options{PanicAsError: true} }

// WithPanicAsError controls whether panics in child actions are converted to
// *PanicError failures (the default) or re-raised in the child goroutine.
func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

// WithObserver attaches lifecycle hooks to the scope.
func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

// Observer receives scope and child lifecycle events. Implementations must
// be safe for concurrent use; hooks run on the scope's and children's
// goroutines and must not block.
type Observer interface {
	ScopeOpened(ctx context.Context)
	ScopeCancelled(ctx context.Context, cause error)
	ScopeJoined(ctx context.Context, wait time.Duration)
	ChildStarted(ctx context.Context)
	ChildFinished(ctx context.Context, dur time.Duration, err error, panicked bool)
}
