package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/herald/pkg/notify"
)

// Default tracer name for herald.
const defaultTracerName = "herald"

// TracerConfig configures the OpenTelemetry observer.
type TracerConfig struct {
	// TracerName is the name of the tracer (default: "herald").
	TracerName string

	// Provider is the tracer provider. Default: the global provider.
	Provider trace.TracerProvider

	// IncludeKey records the notified key as a span attribute.
	// Keys may carry user data; enabled by default.
	IncludeKey bool

	// Filter determines which passes to trace.
	// If nil, all passes are traced.
	Filter func(d notify.Dispatch) bool
}

// TracerOption configures the OpenTelemetry observer.
type TracerOption func(*TracerConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracerOption {
	return func(c *TracerConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(c *TracerConfig) {
		c.Provider = tp
	}
}

// WithIncludeKey enables/disables the key attribute.
func WithIncludeKey(include bool) TracerOption {
	return func(c *TracerConfig) {
		c.IncludeKey = include
	}
}

// WithDispatchFilter sets a filter function for passes.
func WithDispatchFilter(filter func(d notify.Dispatch) bool) TracerOption {
	return func(c *TracerConfig) {
		c.Filter = filter
	}
}

// Tracer is a notify.Observer that creates one span per dispatch pass.
// Recovered listener panics are recorded as error spans of their own.
type Tracer struct {
	config TracerConfig
	tracer trace.Tracer
}

// NewTracer creates the tracing observer.
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before creating
// controllers:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func NewTracer(opts ...TracerOption) *Tracer {
	config := TracerConfig{
		TracerName: defaultTracerName,
		IncludeKey: true,
	}
	for _, opt := range opts {
		opt(&config)
	}

	var tracer trace.Tracer
	if config.Provider != nil {
		tracer = config.Provider.Tracer(config.TracerName)
	} else {
		tracer = otel.Tracer(config.TracerName)
	}
	return &Tracer{config: config, tracer: tracer}
}

// BeginDispatch implements notify.Observer.
func (t *Tracer) BeginDispatch(d notify.Dispatch) func(notify.DispatchStats) {
	if t.config.Filter != nil && !t.config.Filter(d) {
		return nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("herald.controller", d.Controller),
		attribute.Bool("herald.keyed", d.HasKey),
		attribute.Int("herald.listeners", d.Listeners),
	}
	if d.HasKey && t.config.IncludeKey {
		attrs = append(attrs, attribute.String("herald.key", fmt.Sprint(d.Key)))
	}

	_, span := t.tracer.Start(context.Background(), "notify "+d.Controller,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	return func(s notify.DispatchStats) {
		span.SetAttributes(
			attribute.Int("herald.invoked", s.Invoked),
			attribute.Int("herald.skipped", s.Skipped),
			attribute.Int("herald.failed", s.Failed),
		)
		if s.Failed > 0 {
			span.SetStatus(codes.Error, fmt.Sprintf("%d listener(s) failed", s.Failed))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// ListenerFailed implements notify.Observer.
func (t *Tracer) ListenerFailed(err *notify.ListenerError) {
	_, span := t.tracer.Start(context.Background(), "listener failure",
		trace.WithAttributes(
			attribute.String("herald.controller", err.Controller),
			attribute.Int64("herald.listener", int64(err.Listener)),
			attribute.String("herald.kind", err.Kind.String()),
		),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

// ListenersChanged implements notify.Observer. Registration changes are not
// traced.
func (t *Tracer) ListenersChanged(string, int) {}

var _ notify.Observer = (*Tracer)(nil)
