// Package telemetry defines the external telemetry interface from spec §6
// (createCounter, createGauge, openTelemetryContext) and ships the required
// null implementation as the default. Real exporters (OpenTelemetry traces,
// Prometheus metrics) are external collaborators per spec §1 and are not
// implemented here.
package telemetry

import "context"

// Level is a trace span's nesting level (spec §6).
type Level int

const (
	TopLevel Level = iota
	Nested
	ForceTopLevel
)

// Counter is an external collaborator: a monotonically increasing metric.
type Counter interface {
	Add(ctx context.Context, delta int64, attrs map[string]string)
}

// Gauge is an external collaborator sampled via a callback.
type Gauge interface {
	// Observe registers the value-producing callback; implementations decide
	// how/when to sample it.
	Observe(ctx context.Context, callback func() float64)
}

// Context wraps one suspension point in a trace span.
type Context interface {
	// Start runs fn inside the span, recording its error (if any) on the
	// span before returning it unchanged.
	Start(ctx context.Context, fn func(ctx context.Context) error) error
}

// Factory creates telemetry objects. No other package in this module calls
// it; Default below is the only instance.
type Factory interface {
	CreateCounter(name string) Counter
	CreateGauge(name string, callback func() float64) Gauge
	OpenTelemetryContext(name string, level Level) Context
}

// NoopTelemetryFactory is the required null implementation (spec §6: "A null
// implementation MUST exist and be the default").
type NoopTelemetryFactory struct{}

func (NoopTelemetryFactory) CreateCounter(string) Counter { return noopCounter{} }
func (NoopTelemetryFactory) CreateGauge(string, func() float64) Gauge { return noopGauge{} }
func (NoopTelemetryFactory) OpenTelemetryContext(string, Level) Context { return noopContext{} }

type noopCounter struct{}

func (noopCounter) Add(context.Context, int64, map[string]string) {}

type noopGauge struct{}

func (noopGauge) Observe(context.Context, func() float64) {}

type noopContext struct{}

func (noopContext) Start(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Default is the package-level default factory, overridable by whatever
// wires telemetry (out of scope per spec §1).
var Default Factory = NoopTelemetryFactory{}
