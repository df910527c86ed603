package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Observer implements ki.Observer by recording span events on the span
// carried by the scope's context. Child contexts inherit the parent's
// values, so events from children land on the same span. If the context
// carries no span the events are dropped by the no-op span.
//
// Configure the tracer provider globally in main() before opening scopes,
// as with any OpenTelemetry instrumentation.
type Observer struct {
	// IncludeErrors records child errors and scope cancellation causes on
	// the span; a cancellation cause also sets the span status to Error.
	// May leak sensitive information into traces - disabled by default.
	IncludeErrors bool
}

// New returns an Observer.
func New() *Observer { return &Observer{} }

// ScopeOpened records the scope-opened event.
func (o *Observer) ScopeOpened(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent("ki.scope.opened")
}

// ScopeCancelled records the cancellation and its cause.
func (o *Observer) ScopeCancelled(ctx context.Context, cause error) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("ki.scope.cancelled")
	if o.IncludeErrors && cause != nil {
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())
	}
}

// ScopeJoined records the join and the time spent closing.
func (o *Observer) ScopeJoined(ctx context.Context, wait time.Duration) {
	trace.SpanFromContext(ctx).AddEvent("ki.scope.joined",
		trace.WithAttributes(attribute.Int64("ki.join_wait_us", wait.Microseconds())))
}

// ChildStarted records the child-started event.
func (o *Observer) ChildStarted(ctx context.Context) {
	trace.SpanFromContext(ctx).AddEvent("ki.child.started")
}

// ChildFinished records the child-finished event with duration and outcome.
func (o *Observer) ChildFinished(ctx context.Context, dur time.Duration, err error, panicked bool) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("ki.child.finished", trace.WithAttributes(
		attribute.Int64("ki.child_duration_us", dur.Microseconds()),
		attribute.Bool("ki.child_errored", err != nil),
		attribute.Bool("ki.child_panicked", panicked),
	))
	if o.IncludeErrors && err != nil {
		span.RecordError(err)
	}
}

// Nop is a no-op implementation of the ki.Observer interface.
type Nop struct{}

// NewNop returns a no-op observer.
func NewNop() *Nop { return &Nop{} }

func (*Nop) ScopeOpened(context.Context)                               {}
func (*Nop) ScopeCancelled(context.Context, error)                     {}
func (*Nop) ScopeJoined(context.Context, time.Duration)                {}
func (*Nop) ChildStarted(context.Context)                              {}
func (*Nop) ChildFinished(context.Context, time.Duration, error, bool) {}
