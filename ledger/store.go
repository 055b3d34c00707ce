package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("tool_run_not_found")
	ErrNotProposed       = errors.New("tool_run_not_proposed")
	ErrInvalidTransition = errors.New("ledger: invalid transition")
	// ErrConflict means a conditional update lost against a concurrent writer.
	ErrConflict = errors.New("ledger: conflict")
)

type ListQuery struct {
	SessionID string
	ToolName  string
	Status    Status
	Limit     int
	Offset    int
}

// Tx is the view of the ledger inside one unit of work.
type Tx interface {
	Get(ctx context.Context, id string) (ToolRun, error)
	Insert(ctx context.Context, run ToolRun) error
	// Update writes run only if the stored status still equals expected and
	// returns ErrConflict otherwise.
	Update(ctx context.Context, run ToolRun, expected Status) error
}

type Store interface {
	// WithTx runs fn in one transaction. A non-nil error from fn rolls back.
	WithTx(ctx context.Context, fn func(Tx) error) error
	Get(ctx context.Context, id string) (ToolRun, error)
	List(ctx context.Context, query ListQuery) ([]ToolRun, error)
	Close() error
}

// Advance loads id, applies mutate and persists the result in a single
// unit of work. mutate is expected to call one of the ToolRun transition
// methods; the write is conditional on the status read at the start.
func Advance(ctx context.Context, s Store, id string, mutate func(*ToolRun) error) (ToolRun, error) {
	var out ToolRun
	err := s.WithTx(ctx, func(tx Tx) error {
		run, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		from := run.Status
		if err := mutate(&run); err != nil {
			return err
		}
		if err := tx.Update(ctx, run, from); err != nil {
			return err
		}
		out = run
		return nil
	})
	if err != nil {
		return ToolRun{}, err
	}
	return out, nil
}

// Create inserts a new proposed run.
func Create(ctx context.Context, s Store, run ToolRun) error {
	if run.Status != StatusProposed {
		return fmt.Errorf("%w: new run must be proposed, got %s", ErrInvalidTransition, run.Status)
	}
	return s.WithTx(ctx, func(tx Tx) error { return tx.Insert(ctx, run) })
}
