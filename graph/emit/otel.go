package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into an OpenTelemetry span.
//
// Each span has:
//   - Name: event.Msg
//   - Attributes: nodegraph.run_id, nodegraph.step, nodegraph.node_id and
//     the scalar Meta fields (node payloads and status lists are summarized)
//   - Status: error when Meta["error"] is set
//
// Spans are ended immediately; events are points in time. When the event
// carries "duration_ms" the span is back-dated to cover that duration.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(tp.Tracer("nodegraph"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter returns an OTelEmitter using tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	opts := []trace.SpanStartOption{}
	if d, ok := durationOf(event.Meta); ok {
		opts = append(opts, trace.WithTimestamp(time.Now().Add(-d)))
	}
	_, span := o.tracer.Start(context.Background(), event.Msg, opts...)
	defer span.End()

	span.SetAttributes(
		attribute.String("nodegraph.run_id", event.RunID),
		attribute.Int("nodegraph.step", event.Step),
		attribute.String("nodegraph.node_id", event.NodeID),
	)
	o.addMetaAttributes(span, event.Meta)

	if errText, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errText)
		span.RecordError(errors.New(errText))
	}
}

func durationOf(meta map[string]any) (time.Duration, bool) {
	switch v := meta["duration_ms"].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		return time.Duration(v * float64(time.Millisecond)), true
	}
	return 0, false
}

func (o *OTelEmitter) addMetaAttributes(span trace.Span, meta map[string]any) {
	for key, value := range meta {
		attrKey := "nodegraph." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		case []StatusUpdate:
			span.SetAttributes(attribute.Int("nodegraph.updates", len(v)))
		default:
			// Serialized nodes are represented by node_id and status.
			if key != "node" {
				span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
			}
		}
	}
}

// Flush forces export of pending spans when the provider supports it.
// Call it before shutdown.
func (o *OTelEmitter) Flush(ctx context.Context, provider trace.TracerProvider) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := provider.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
