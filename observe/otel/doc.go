// Package otel provides an OpenTelemetry observer plugin for ki scopes.
// It emits span events (open, cancel, join, child start/finish) with low
// overhead on the span carried by the scope's context.
package otel
