package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for resolution operations.
	TracerName = "mediaref"
)

// Span attribute keys
const (
	AttrConversationID = "conversation_id"
	AttrResolutionID   = "resolution_id"
	AttrTurn           = "turn"
	AttrUploads        = "uploads"
	AttrMethod         = "method"
	AttrConfidence     = "confidence"
	AttrMatched        = "matched_indices"
	AttrReason         = "disambiguation_reason"
	AttrBackend        = "store_backend"
	AttrOperation      = "operation"
	AttrRetryable      = "retryable"
)

// Span names
const (
	SpanHandleTurn = "mediaref.handle_turn"
	SpanResolve    = "mediaref.resolve"
	SpanPublish    = "mediaref.publish"
	SpanAudit      = "mediaref.audit"
)

// Tracer provides distributed tracing for turn handling.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerWithProvider(otel.GetTracerProvider())
}

// NewTracerWithProvider creates a tracer from tp.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// StartTurnSpan starts the root span for one conversation turn.
func (t *Tracer) StartTurnSpan(ctx context.Context, conversationID string, turn, uploads int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanHandleTurn,
		trace.WithAttributes(
			attribute.String(AttrConversationID, conversationID),
			attribute.Int(AttrTurn, turn),
			attribute.Int(AttrUploads, uploads),
		),
	)
}

// StartStoreSpan starts a span for a registry store call.
func (t *Tracer) StartStoreSpan(ctx context.Context, backend, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "mediaref.store."+operation,
		trace.WithAttributes(
			attribute.String(AttrBackend, backend),
			attribute.String(AttrOperation, operation),
		),
	)
}

// StartSpan starts a child span with a fixed name.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetResolution sets the outcome attributes.
func (h *SpanHelper) SetResolution(resolutionID, method string, confidence float64, matched []int) {
	h.span.SetAttributes(
		attribute.String(AttrResolutionID, resolutionID),
		attribute.String(AttrMethod, method),
		attribute.Float64(AttrConfidence, confidence),
		attribute.IntSlice(AttrMatched, matched),
	)
}

// SetDisambiguation records the disambiguation reason.
func (h *SpanHelper) SetDisambiguation(reason string) {
	h.span.SetAttributes(attribute.String(AttrReason, reason))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(attribute.Bool(AttrRetryable, retryable))
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func (h *SpanHelper) AddEvent(name string, attrs ...attribute.KeyValue) {
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
