package observe

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) error { return nil }

type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 0 {
		return NoopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &MultiSink{sinks: filtered}
}

// Emit fans out to every sink; a failing sink does not stop the others.
func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	var first error
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes events to the global zerolog logger.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, event Event) error {
	event.Normalize()
	ev := log.Debug()
	if event.Status == StatusFailed {
		ev = log.Warn()
	}
	ev = ev.Str("component", "observe").Str("kind", string(event.Kind)).Str("status", string(event.Status))
	if event.Name != "" {
		ev = ev.Str("name", event.Name)
	}
	if event.RunID != "" {
		ev = ev.Str("run_id", event.RunID)
	}
	if event.ToolName != "" {
		ev = ev.Str("tool", event.ToolName)
	}
	if event.Error != "" {
		ev = ev.Str("error", event.Error)
	}
	if event.DurationMs > 0 {
		ev = ev.Int64("duration_ms", event.DurationMs)
	}
	ev.Msg("event")
	return nil
}

// AsyncSink decouples emitters from a slow downstream sink.
type AsyncSink struct {
	downstream Sink
	queue      chan Event
	once       sync.Once
	done       chan struct{}
}

func NewAsyncSink(downstream Sink, buffer int) *AsyncSink {
	if downstream == nil {
		downstream = NoopSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	as := &AsyncSink{
		downstream: downstream,
		queue:      make(chan Event, buffer),
		done:       make(chan struct{}),
	}
	go as.loop()
	return as
}

func (s *AsyncSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- event:
		return nil
	default:
		// Full queue: drop rather than stall a ledger write or a scheduler tick.
		return nil
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.queue) })
	<-s.done
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for event := range s.queue {
		_ = s.downstream.Emit(context.Background(), event)
	}
}
