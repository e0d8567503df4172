package clientrt

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ambiyansyah-risyal/clientrt/interceptor"
)

const instrumentationName = "github.com/ambiyansyah-risyal/clientrt"

// tracingInterceptor annotates the invocation span started by the client:
// one event per attempt and the final status.
type tracingInterceptor struct {
	interceptor.Base
}

func (tracingInterceptor) Name() string { return "Tracing" }

func (tracingInterceptor) ReadBeforeAttempt(ctx context.Context, v interceptor.BeforeTransmitRef) error {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("attempt", trace.WithAttributes(
		attribute.Int("attempt", v.Attempt()),
		attribute.String("http.method", v.Request().Method),
	))
	return nil
}

func (tracingInterceptor) ReadAfterAttempt(ctx context.Context, v interceptor.FinalizerRef) error {
	span := trace.SpanFromContext(ctx)
	attrs := []attribute.KeyValue{attribute.Int("attempt", v.Attempt())}
	if resp, ok := v.Response(); ok {
		attrs = append(attrs, attribute.Int("http.status_code", resp.StatusCode))
	}
	if result, ok := v.OutputOrError(); ok && result.IsErr() {
		attrs = append(attrs, attribute.String("error.kind", result.Err.Kind.String()))
	}
	span.AddEvent("attempt.done", trace.WithAttributes(attrs...))
	return nil
}

func (tracingInterceptor) ReadAfterExecution(ctx context.Context, v interceptor.FinalizerRef) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("attempts", v.Attempt()))
	if result, ok := v.OutputOrError(); ok && result.IsErr() {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
		return nil
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
