// Package trace provides tracing instrumentation for browser launches.
package trace

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "cdpboot"

// liveSpan is the root span of a launch in progress.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates a span per launch and a child span per launch stage.
// Stages find their launch span by launch ID, so they don't depend on the
// context they're given carrying it.
type Tracer struct {
	logger logrus.FieldLogger

	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.Mutex
	liveSpans   map[string]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider.
func NewTracer(logger logrus.FieldLogger, tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption) *Tracer {
	return &Tracer{
		logger:    logger,
		Tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[string]*liveSpan),
	}
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// GetTraceID returns the trace ID of spanCtx, or an empty string.
func GetTraceID(spanCtx trace.SpanContext) string {
	if spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID()
		return traceID.String()
	}
	return ""
}

// TraceLaunch starts the root span of the launch identified by launchID.
// It must be ended with EndLaunch.
func (t *Tracer) TraceLaunch(
	ctx context.Context, launchID string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[launchID]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}

	const spanName = "launch"
	opts = append(opts, trace.WithAttributes(attribute.String("launch.id", launchID)))
	ls.ctx, ls.span = t.Start(ctx, spanName, opts...)
	t.liveSpans[launchID] = ls

	traceID := GetTraceID(trace.SpanContextFromContext(ls.ctx))
	t.logger.Debugf("TraceLaunch: spanName: %q traceID: %q launchID: %q", spanName, traceID, launchID)

	return ls.ctx, &SpanLogger{Span: ls.span, logger: t.logger, spanName: spanName}
}

// TraceStage starts a span for a stage of the launch identified by launchID.
// It is the caller's responsibility to end it. Without a live launch span
// the new span is based on ctx.
func (t *Tracer) TraceStage(
	ctx context.Context, launchID string, stage string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	parent := ctx
	if ls := t.liveSpans[launchID]; ls != nil {
		// keep the cancellation of ctx, take the launch span as parent.
		parent = trace.ContextWithSpan(ctx, ls.span)
	} else {
		t.logger.Debugf("TraceStage: no live span spanName: %q launchID: %q", stage, launchID)
	}
	sCtx, span := t.Start(parent, stage, opts...)

	return sCtx, &SpanLogger{Span: span, logger: t.logger, spanName: stage}
}

// EndLaunch ends the root span of the launch identified by launchID,
// recording err if it isn't nil.
func (t *Tracer) EndLaunch(launchID string, err error) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[launchID]
	if ls == nil {
		return
	}
	delete(t.liveSpans, launchID)

	if err != nil {
		ls.span.RecordError(err)
		ls.span.SetStatus(codes.Error, err.Error())
	} else {
		ls.span.SetStatus(codes.Ok, "")
	}
	ls.span.End()
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}

	return meta
}

// SpanLogger is a Span that will log the method calls.
type SpanLogger struct {
	trace.Span
	logger   logrus.FieldLogger
	spanName string
}

// SetStatus will log some info before calling the underlying SetStatus.
func (i *SpanLogger) SetStatus(code codes.Code, description string) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("SetStatus: spanName: %q traceID: %q code: %q description: %q", i.spanName, traceID, code, description)

	i.Span.SetStatus(code, description)
}

// End will log some info before calling the underlying End.
func (i *SpanLogger) End(options ...trace.SpanEndOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("End: spanName: %q traceID: %q", i.spanName, traceID)

	i.Span.End(options...)
}

// RecordError will log some info before calling the underlying RecordError.
func (i *SpanLogger) RecordError(err error, options ...trace.EventOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("RecordError: spanName: %q traceID: %q err: %q", i.spanName, traceID, err)

	i.Span.RecordError(err, options...)
}
