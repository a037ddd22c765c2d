// Package observability provides OpenTelemetry tracing and Prometheus metrics
// for the delivery pipeline.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/hookrelay"

// Tracer provides OpenTelemetry tracing for hookrelay.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartIngestSpan starts a span around event ingestion and fan-out.
func (t *Tracer) StartIngestSpan(ctx context.Context, eventType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookrelay.ingest",
		trace.WithAttributes(attribute.String("hookrelay.event_type", eventType)),
	)
}

// StartDeliverySpan starts a span for one delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, jobID, eventID, subscriptionID string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookrelay.delivery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("hookrelay.job_id", jobID),
			attribute.String("hookrelay.event_id", eventID),
			attribute.String("hookrelay.subscription_id", subscriptionID),
			attribute.Int("hookrelay.attempt", attempt),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode int, errMsg string) {
	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	}
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}
