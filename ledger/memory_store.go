package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Transactions are serialized by a
// single mutex and staged so a failing fn leaves no trace.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]ToolRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: map[string]ToolRun{}}
}

type memoryTx struct {
	base   map[string]ToolRun
	staged map[string]ToolRun
}

func (t *memoryTx) Get(_ context.Context, id string) (ToolRun, error) {
	if run, ok := t.staged[id]; ok {
		return cloneRun(run), nil
	}
	if run, ok := t.base[id]; ok {
		return cloneRun(run), nil
	}
	return ToolRun{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (t *memoryTx) Insert(ctx context.Context, run ToolRun) error {
	if _, err := t.Get(ctx, run.ID); err == nil {
		return fmt.Errorf("%w: duplicate id %s", ErrConflict, run.ID)
	}
	t.staged[run.ID] = cloneRun(run)
	return nil
}

func (t *memoryTx) Update(ctx context.Context, run ToolRun, expected Status) error {
	current, err := t.Get(ctx, run.ID)
	if err != nil {
		return err
	}
	if current.Status != expected {
		return fmt.Errorf("%w: run %s is %s, expected %s", ErrConflict, run.ID, current.Status, expected)
	}
	t.staged[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{base: s.runs, staged: map[string]ToolRun{}}
	if err := fn(tx); err != nil {
		return err
	}
	for id, run := range tx.staged {
		s.runs[id] = run
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (ToolRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ToolRun{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneRun(run), nil
}

// List returns runs newest first.
func (s *MemoryStore) List(_ context.Context, query ListQuery) ([]ToolRun, error) {
	s.mu.Lock()
	out := make([]ToolRun, 0, len(s.runs))
	for _, run := range s.runs {
		if query.SessionID != "" && run.SessionID != query.SessionID {
			continue
		}
		if query.ToolName != "" && run.ToolName != query.ToolName {
			continue
		}
		if query.Status != "" && run.Status != query.Status {
			continue
		}
		out = append(out, cloneRun(run))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if query.Offset > 0 {
		if query.Offset >= len(out) {
			return []ToolRun{}, nil
		}
		out = out[query.Offset:]
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneRun(r ToolRun) ToolRun {
	r.Input = append([]byte(nil), r.Input...)
	if r.Result != nil {
		r.Result = append([]byte(nil), r.Result...)
	}
	return r
}
