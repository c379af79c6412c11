package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "pillar.assistant"

// Span attribute keys mirror the log fields so traces and logs can be joined
// on the same Slack identifiers.
const (
	AttrChannelID = attribute.Key("pillar.channel_id")
	AttrUserID    = attribute.Key("pillar.user_id")
	AttrIntent    = attribute.Key("pillar.intent")
	AttrEventID   = attribute.Key("pillar.event_id")
	AttrDraftID   = attribute.Key("pillar.draft_id")
	AttrComponent = attribute.Key("pillar.component")
)

// SpanContext wraps an OTel span for managed lifecycle.
// Use Start() to begin a span and End() to complete it.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan creates a new span as a child of the current trace context.
// Returns a SpanContext that must be ended with End().
//
// Example:
//
//	sc := logger.StartSpan(ctx, "router.route", trace.WithSpanKind(trace.SpanKindInternal))
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name, withFieldAttributes(ctx, opts)...)
	return &SpanContext{ctx: ctx, span: span}
}

// StartSpanFromTraceID creates a new span linked to a remote trace.
// The server stamps the trace id onto each queued Slack event so the worker's
// spans link back to the ingress request.
// If traceID is empty or invalid, returns a span with no parent trace.
//
// Example:
//
//	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.handle_event")
//	defer sc.End()
//	ctx = sc.Context()
func StartSpanFromTraceID(ctx context.Context, traceIDStr string, name string, opts ...trace.SpanStartOption) *SpanContext {
	tracer := otel.Tracer(tracerName)
	opts = withFieldAttributes(ctx, opts)

	if traceIDStr == "" {
		ctx, span := tracer.Start(ctx, name, opts...)
		return &SpanContext{ctx: ctx, span: span}
	}

	traceID, err := trace.TraceIDFromHex(traceIDStr)
	if err != nil {
		ctx, span := tracer.Start(ctx, name, opts...)
		return &SpanContext{ctx: ctx, span: span}
	}

	// Create span context with the propagated trace ID
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	// Start span as child of the remote trace
	opts = append(opts, trace.WithLinks(trace.Link{SpanContext: spanCtx}))
	ctx = trace.ContextWithRemoteSpanContext(ctx, spanCtx)
	ctx, span := tracer.Start(ctx, name, opts...)

	return &SpanContext{ctx: ctx, span: span}
}

// withFieldAttributes stamps the context's log fields onto the span.
func withFieldAttributes(ctx context.Context, opts []trace.SpanStartOption) []trace.SpanStartOption {
	f := GetLogFields(ctx)
	var attrs []attribute.KeyValue
	if f.ChannelID != nil {
		attrs = append(attrs, AttrChannelID.String(*f.ChannelID))
	}
	if f.UserID != nil {
		attrs = append(attrs, AttrUserID.String(*f.UserID))
	}
	if f.Intent != nil {
		attrs = append(attrs, AttrIntent.String(*f.Intent))
	}
	if f.EventID != nil {
		attrs = append(attrs, AttrEventID.String(*f.EventID))
	}
	if f.DraftID != nil {
		attrs = append(attrs, AttrDraftID.Int64(*f.DraftID))
	}
	if f.Component != "" {
		attrs = append(attrs, AttrComponent.String(f.Component))
	}
	if len(attrs) == 0 {
		return opts
	}
	return append(opts, trace.WithAttributes(attrs...))
}

// Context returns the context with the span attached.
// Use this context for all operations within the span's scope.
func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End completes the span. Must be called to ensure proper trace reporting.
// Safe to call multiple times (subsequent calls are no-ops).
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records an error on the span for observability.
func (sc *SpanContext) RecordError(err error) {
	if sc.span != nil && err != nil {
		sc.span.RecordError(err)
	}
}

// Span returns the underlying OTel span for advanced operations.
func (sc *SpanContext) Span() trace.Span {
	return sc.span
}
