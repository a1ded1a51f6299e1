package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by bujo spans.
var (
	AttrUserID    = attribute.Key("bujo.user.id")
	AttrPartition = attribute.Key("bujo.store.partition")
	AttrProvider  = attribute.Key("bujo.ai.provider")
	AttrKeyIndex  = attribute.Key("bujo.ai.key_index")
	AttrAttempt   = attribute.Key("bujo.ai.attempt")
	AttrApplied   = attribute.Key("bujo.sync.applied")
	AttrConflicts = attribute.Key("bujo.sync.conflicts")
)

// StartSpan starts an internal span for a local data operation.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, tracer, name, trace.SpanKindInternal, attrs)
}

// StartClientSpan starts a span for an outbound call (sync server, AI provider).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, tracer, name, trace.SpanKindClient, attrs)
}

func start(ctx context.Context, tracer trace.Tracer, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// Fail records err on span and marks the span as errored. It returns err.
func Fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
