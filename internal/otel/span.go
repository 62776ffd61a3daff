// Package otel provides OpenTelemetry instrumentation utilities for the sync server.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by every span the sync server emits.
const (
	AttrPresentationID = attribute.Key("presentation.id")
	AttrSlideID        = attribute.Key("slide.id")
	AttrUserID         = attribute.Key("user.id")
	AttrMessageType    = attribute.Key("message.type")
	AttrBaseVersion    = attribute.Key("message.base_version")
	AttrPosition       = attribute.Key("slide.position")
	AttrChannel        = attribute.Key("fabric.channel")
	AttrResultCount    = attribute.Key("result.count")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns the span already in ctx.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. Nil spans and nil errors are ignored.
// The status description stays generic so queries and credentials never reach span status.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
