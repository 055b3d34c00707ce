package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/opsbrain/ledger"
)

const toolRunColumns = `id, session_id, message_id, tool_name, input, status, result, error, actor, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type ledgerTx struct {
	q querier
}

// WithTx runs fn inside one database transaction and commits when fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&ledgerTx{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

func (t *ledgerTx) Get(ctx context.Context, id string) (ledger.ToolRun, error) {
	return getToolRun(ctx, t.q, id)
}

func (t *ledgerTx) Insert(ctx context.Context, run ledger.ToolRun) error {
	const q = `INSERT INTO tool_runs (` + toolRunColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	_, err := t.q.ExecContext(ctx, q,
		run.ID,
		run.SessionID,
		run.MessageID,
		run.ToolName,
		string(run.Input),
		string(run.Status),
		nullableJSON(run.Result),
		run.Error,
		run.Actor,
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate id %s", ledger.ErrConflict, run.ID)
		}
		return fmt.Errorf("failed to insert tool run: %w", err)
	}
	return nil
}

func (t *ledgerTx) Update(ctx context.Context, run ledger.ToolRun, expected ledger.Status) error {
	const q = `
UPDATE tool_runs
SET status = ?, result = ?, error = ?, actor = ?, updated_at = ?
WHERE id = ? AND status = ?;
`
	res, err := t.q.ExecContext(ctx, q,
		string(run.Status),
		nullableJSON(run.Result),
		run.Error,
		run.Actor,
		formatTime(run.UpdatedAt),
		run.ID,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update tool run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s no longer %s", ledger.ErrConflict, run.ID, expected)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (ledger.ToolRun, error) {
	return getToolRun(ctx, s.db, id)
}

func (s *Store) List(ctx context.Context, query ledger.ListQuery) ([]ledger.ToolRun, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if query.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, query.SessionID)
	}
	if query.ToolName != "" {
		where = append(where, "tool_name = ?")
		args = append(args, query.ToolName)
	}
	if query.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(query.Status))
	}

	sqlText := `SELECT ` + toolRunColumns + ` FROM tool_runs`
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?;"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool runs: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.ToolRun, 0, limit)
	for rows.Next() {
		run, err := scanToolRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tool runs: %w", err)
	}
	return out, nil
}

func getToolRun(ctx context.Context, q querier, id string) (ledger.ToolRun, error) {
	if strings.TrimSpace(id) == "" {
		return ledger.ToolRun{}, fmt.Errorf("%w: empty id", ledger.ErrNotFound)
	}
	row := q.QueryRowContext(ctx, `SELECT `+toolRunColumns+` FROM tool_runs WHERE id = ?;`, id)
	run, err := scanToolRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ToolRun{}, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
		}
		return ledger.ToolRun{}, err
	}
	return run, nil
}

func scanToolRun(row rowScanner) (ledger.ToolRun, error) {
	var (
		run        ledger.ToolRun
		input      string
		status     string
		result     sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := row.Scan(
		&run.ID,
		&run.SessionID,
		&run.MessageID,
		&run.ToolName,
		&input,
		&status,
		&result,
		&run.Error,
		&run.Actor,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ToolRun{}, err
		}
		return ledger.ToolRun{}, fmt.Errorf("failed to scan tool run: %w", err)
	}
	run.Input = []byte(input)
	run.Status = ledger.Status(status)
	if result.Valid {
		run.Result = []byte(result.String)
	}
	var err error
	if run.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
		return ledger.ToolRun{}, fmt.Errorf("failed to parse tool run created_at: %w", err)
	}
	if run.UpdatedAt, err = parseRequiredTime(updatedRaw); err != nil {
		return ledger.ToolRun{}, fmt.Errorf("failed to parse tool run updated_at: %w", err)
	}
	return run, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
