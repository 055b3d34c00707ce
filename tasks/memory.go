package tasks

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	tasks    []Task
	external []ExternalTask
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: func() time.Time { return time.Now().UTC() }}
}

func (s *MemoryStore) Upsert(_ context.Context, items []Candidate, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, item := range items {
		c, ok := Normalize(item)
		if !ok {
			continue
		}
		if s.findLocked(c) {
			continue
		}
		s.nextID++
		s.tasks = append(s.tasks, Task{
			ID:        s.nextID,
			Title:     c.Title,
			DueDate:   c.DueDate,
			URL:       c.URL,
			Course:    source,
			Status:    StatusPending,
			CreatedAt: s.now(),
		})
		created++
	}
	return created, nil
}

func (s *MemoryStore) findLocked(c Candidate) bool {
	for _, t := range s.tasks {
		if t.Title == c.Title && t.URL == c.URL && SameDue(t.DueDate, c.DueDate) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateTask(_ context.Context, task Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	task.ID = s.nextID
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	s.tasks = append(s.tasks, task)
	return task, nil
}

func (s *MemoryStore) ListTasks(context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.tasks...), nil
}

func (s *MemoryStore) SaveExternal(_ context.Context, task ExternalTask) (ExternalTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	task.ID = s.nextID
	if task.Status == "" {
		task.Status = StatusNotSubmitted
	}
	if task.Priority == "" {
		task.Priority = "low"
	}
	s.external = append(s.external, task)
	return task, nil
}

func (s *MemoryStore) ListExternal(context.Context) ([]ExternalTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExternalTask(nil), s.external...), nil
}
