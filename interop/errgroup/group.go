// Package errgroup provides an adapter that mimics golang.org/x/sync/errgroup
// semantics over a ki scope. It enables incremental migration without pulling
// errgroup into the core library.
package errgroup

import (
	"context"

	"github.com/NetPo4ki/go-ki/ki"
)

// Group is an errgroup-like wrapper over a ki scope. The first failure
// cancels the group context; Wait closes the scope and joins every function.
type Group struct {
	s   *ki.Scope
	ctx context.Context
}

// WithContext creates a Group bound to ctx. The returned context is canceled
// the first time a function passed to Go returns a non-nil error or Wait
// returns.
func WithContext(ctx context.Context) (*Group, context.Context) {
	s := ki.New(ctx)
	g := &Group{s: s, ctx: s.Context()}
	return g, g.ctx
}

// Go starts a function. It should return a non-nil error to signal failure.
// Unlike errgroup, calling Go after Wait has returned panics: the underlying
// scope is closed.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	g.s.Go(func(context.Context) error {
		return f()
	})
}

// Wait blocks until all functions have returned. It returns the first
// non-nil error, with the scope's internal failure carrier already
// unwrapped. Wait is idempotent.
func (g *Group) Wait() error {
	return g.s.Join()
}
