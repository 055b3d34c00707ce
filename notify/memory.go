package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog is an in-process LogStore.
type MemoryLog struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (m *MemoryLog) HasRecentSent(_ context.Context, taskID *int64, title string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Status != StatusSent || r.CreatedAt.Before(since) {
			continue
		}
		if taskID != nil {
			if r.TaskID != nil && *r.TaskID == *taskID {
				return true, nil
			}
			continue
		}
		if r.Title == title {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryLog) AppendNotification(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryLog) RecentNotifications(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	out := append([]Record(nil), m.records...)
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
