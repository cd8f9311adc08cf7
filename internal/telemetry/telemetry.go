// Package telemetry defines the logging, metrics, and tracing seams used
// throughout the kernel. Interfaces are intentionally small so callers can
// supply lightweight stubs in tests, and production callers can wire in
// clue/OpenTelemetry (see clue.go) without the kernel depending on a
// concrete provider.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the kernel.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for kernel instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so kernel code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Collaborators bundles the three telemetry seams so they can be threaded
// through a single constructor argument instead of three, per the Design
// Note on ambient/global collaborator objects: explicit, not package-level.
type Collaborators struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}

// Noop returns a Collaborators value whose members discard everything.
// Suitable as a safe zero-configuration default in tests and constructors.
func Noop() Collaborators {
	return Collaborators{
		Logger:  NewNoopLogger(),
		Metrics: NewNoopMetrics(),
		Tracer:  NewNoopTracer(),
	}
}
