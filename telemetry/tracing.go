// OpenTelemetry tracing for generation jobs and channel sends.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with job and channel helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include prompts in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFrom creates a tracer from an explicit provider.
func NewTracerFrom(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (prompts in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Job Spans ---

// JobSpanOptions contains options for generation job spans.
type JobSpanOptions struct {
	JobID    string
	Attempts int
	Filename string
	Positive string // Only included if debug=true
	Negative string // Only included if debug=true
}

// StartJobSpan starts a span covering one generation job.
func (t *Tracer) StartJobSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "generation.job", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("task.id", taskID))
	return ctx, span
}

// EndJobSpan ends a job span with attributes.
func (t *Tracer) EndJobSpan(span trace.Span, opts JobSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("job.attempts", opts.Attempts),
	}
	if opts.JobID != "" {
		attrs = append(attrs, attribute.String("job.id", opts.JobID))
	}
	if opts.Filename != "" {
		attrs = append(attrs, attribute.String("job.filename", opts.Filename))
	}

	// Prompts are user text
	if t.debug {
		if opts.Positive != "" {
			attrs = append(attrs, attribute.String("job.prompt.positive", truncate(opts.Positive, 2000)))
		}
		if opts.Negative != "" {
			attrs = append(attrs, attribute.String("job.prompt.negative", truncate(opts.Negative, 2000)))
		}
	}

	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// StartStepSpan starts a child span for one job step (upload, submit, poll).
func (t *Tracer) StartStepSpan(ctx context.Context, step string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "generation."+step, trace.WithSpanKind(trace.SpanKindClient))
}

// EndStepSpan ends a step span.
func (t *Tracer) EndStepSpan(span trace.Span, err error) {
	endSpan(span, err)
}

// --- Channel Spans ---

// StartSendSpan starts a span for one channel send.
func (t *Tracer) StartSendSpan(ctx context.Context, transport, kind, taskID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "channel.send", trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("channel.transport", transport),
		attribute.String("message.kind", kind),
		attribute.String("task.id", taskID),
	)
	return ctx, span
}

// EndSendSpan ends a send span.
func (t *Tracer) EndSendSpan(span trace.Span, err error) {
	endSpan(span, err)
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
