package middleware

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reflow-dev/reflow/pkg/reactive"
)

// spanHolder wraps a span for atomic slot storage.
type spanHolder struct {
	span trace.Span
}

// Default tracer name for the reactive runtime.
const defaultTracerName = "reflow"

// OTelConfig configures the OpenTelemetry interceptor.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "reflow").
	TracerName string

	// TraceMutations emits a span event per committed mutation inside a
	// traced transaction. Disabled by default: high-frequency mutation
	// streams produce very large spans.
	TraceMutations bool

	// Filter determines which mutations become span events. Return
	// false to skip. If nil, all mutations are recorded.
	Filter func(ch *reactive.Change) bool

	// AttributeExtractor extracts custom attributes per mutation.
	AttributeExtractor func(ch *reactive.Change) []attribute.KeyValue

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry interceptor.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTraceMutations enables span events for individual mutations.
func WithTraceMutations(enabled bool) OTelOption {
	return func(c *OTelConfig) {
		c.TraceMutations = enabled
	}
}

// WithMutationFilter sets a filter for which mutations are recorded.
func WithMutationFilter(filter func(ch *reactive.Change) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(ch *reactive.Change) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// defaultOTelConfig returns the default OpenTelemetry configuration.
func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName:     defaultTracerName,
		TraceMutations: false,
	}
}

// OpenTelemetry creates an interceptor that traces every outermost
// transaction as one span. With WithTraceMutations enabled, each
// committed mutation inside the transaction becomes a span event.
//
// The tracer uses the global OpenTelemetry tracer provider. Configure
// it in your main() before creating cells:
//
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	)
//	otel.SetTracerProvider(tp)
//
//	reactive.DefaultRegistry().Register(middleware.OpenTelemetry())
func OpenTelemetry(opts ...OTelOption) *reactive.Interceptor {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	// Resolve tracer from global provider
	config.tracer = otel.Tracer(config.TracerName)

	// slot holds the span of the transaction currently in flight, nil
	// outside one. Concurrent transactions from different goroutines
	// overwrite each other's slot; mutation events may then land on a
	// sibling span, which is acceptable for tracing.
	var slot atomic.Pointer[spanHolder]

	ic := &reactive.Interceptor{
		Name: "otel",
		Batch: func(next func()) {
			_, span := config.tracer.Start(
				context.Background(),
				"reflow.batch",
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithTimestamp(time.Now()),
			)
			h := &spanHolder{span: span}
			slot.Store(h)
			defer func() {
				slot.CompareAndSwap(h, nil)
				span.End()
			}()
			next()
		},
	}

	if config.TraceMutations {
		ic.Mutation = func(cell reactive.Observable, ch *reactive.Change, next func()) {
			next()
			h := slot.Load()
			if h == nil || !ch.Applied() {
				return
			}
			span := h.span
			if config.Filter != nil && !config.Filter(ch) {
				return
			}
			attrs := []attribute.KeyValue{
				attribute.Int64("reflow.cell_id", int64(ch.CellID())),
				attribute.String("reflow.cell_label", ch.Label()),
				attribute.String("reflow.value_type", ch.ValueType().String()),
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(ch)...)
			}
			span.AddEvent("mutation", trace.WithAttributes(attrs...))
		}
	}

	return ic
}
