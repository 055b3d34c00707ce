// Package otel turns observe events into OpenTelemetry spans so ledger
// transitions, scheduler jobs and notification attempts show up in any
// OTel backend.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PipeOpsHQ/opsbrain/observe"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/PipeOpsHQ/opsbrain"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates a sink on tp. A nil tp falls back to a noop provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{tracer: tp.Tracer(instrumentationName)}
}

// NewTracerProvider returns an SDK provider with the given span processors
// attached. Callers own Shutdown.
func NewTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(opts...)
}

func (s *Sink) Emit(ctx context.Context, event observe.Event) error {
	event.Normalize()
	if ctx == nil {
		ctx = context.Background()
	}
	start := event.Timestamp
	_, span := s.tracer.Start(ctx, spanNameFor(event), trace.WithTimestamp(start))

	attrs := []attribute.KeyValue{
		attribute.String("opsbrain.event.kind", string(event.Kind)),
	}
	if event.RunID != "" {
		attrs = append(attrs, attribute.String("opsbrain.run.id", event.RunID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, attribute.String("opsbrain.session.id", event.SessionID))
	}
	if event.ToolName != "" {
		attrs = append(attrs, attribute.String("opsbrain.tool.name", event.ToolName))
	}
	if event.Name != "" {
		attrs = append(attrs, attribute.String("opsbrain.event.name", event.Name))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("opsbrain.status", string(event.Status)))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("opsbrain.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("opsbrain.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("opsbrain.attr."+k, fmt.Sprintf("%v", v)))
	}
	span.SetAttributes(attrs...)

	switch event.Status {
	case observe.StatusFailed:
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(errors.New(event.Error))
		}
	case observe.StatusCompleted:
		span.SetStatus(codes.Ok, "")
	}

	end := start
	if event.DurationMs > 0 {
		end = start.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(end))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindToolRun:
		if event.ToolName != "" {
			return "opsbrain.tool_run." + event.ToolName
		}
		return "opsbrain.tool_run"
	case observe.KindJob:
		if event.Name != "" {
			return "opsbrain.job." + event.Name
		}
		return "opsbrain.job"
	case observe.KindNotification:
		return "opsbrain.notification"
	default:
		if event.Name != "" {
			return "opsbrain." + event.Name
		}
		return "opsbrain.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// TraceHook stamps trace and span ids from the event context onto log lines.
type TraceHook struct{}

func (TraceHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}
	e.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
}

// LogExporter writes finished spans to the global logger at debug level.
// It is the exporter used when no collector is configured.
type LogExporter struct{}

func (LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		log.Debug().
			Str("component", "otel").
			Str("span", s.Name()).
			Str("trace_id", s.SpanContext().TraceID().String()).
			Str("status", s.Status().Code.String()).
			Dur("elapsed", s.EndTime().Sub(s.StartTime())).
			Msg("span_finished")
	}
	return nil
}

func (LogExporter) Shutdown(context.Context) error { return nil }
