package observe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMultiSinkContinuesAfterError(t *testing.T) {
	rec := &recordingSink{}
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("boom") })

	sink := NewMultiSink(failing, nil, rec)
	err := sink.Emit(context.Background(), Event{Kind: KindJob})
	require.Error(t, err)
	assert.Equal(t, 1, rec.len())
}

func TestNewMultiSinkCollapses(t *testing.T) {
	assert.IsType(t, NoopSink{}, NewMultiSink(nil, nil))
	rec := &recordingSink{}
	assert.Same(t, rec, NewMultiSink(rec))
}

func TestAsyncSinkDeliversOnClose(t *testing.T) {
	rec := &recordingSink{}
	as := NewAsyncSink(rec, 8)
	for i := 0; i < 5; i++ {
		require.NoError(t, as.Emit(context.Background(), Event{Kind: KindNotification}))
	}
	as.Close()
	assert.Equal(t, 5, rec.len())
}

func TestToolRunEventStatus(t *testing.T) {
	assert.Equal(t, StatusFailed, ToolRunEvent("r", "s", "t", "approved", "error", "x").Status)
	assert.Equal(t, StatusSkipped, ToolRunEvent("r", "s", "t", "proposed", "rejected", "").Status)
	assert.Equal(t, StatusCompleted, ToolRunEvent("r", "s", "t", "approved", "executed", "").Status)
}

func TestNotificationEventStatus(t *testing.T) {
	assert.Equal(t, StatusCompleted, NotificationEvent("ntfy", "t", "sent").Status)
	assert.Equal(t, StatusSkipped, NotificationEvent("ntfy", "t", "deduped").Status)
	assert.Equal(t, StatusFailed, NotificationEvent("ntfy", "t", "error").Status)
}
