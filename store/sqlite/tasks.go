package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/opsbrain/tasks"
)

// Upsert inserts candidates that are not already stored on the exact
// (title, due_date, url) triple. All candidates go in one transaction.
func (s *Store) Upsert(ctx context.Context, items []tasks.Candidate, source string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const exists = `SELECT 1 FROM tasks WHERE title = ? AND due_date IS ? AND url = ? LIMIT 1;`
	const insert = `INSERT INTO tasks (title, due_date, course, url, status, created_at) VALUES (?, ?, ?, ?, ?, ?);`

	created := 0
	now := formatTime(s.now())
	for _, item := range items {
		c, ok := tasks.Normalize(item)
		if !ok {
			continue
		}
		due := formatNullableTime(c.DueDate)
		var one int
		err := tx.QueryRowContext(ctx, exists, c.Title, due, c.URL).Scan(&one)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("failed to check task: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, c.Title, due, source, c.URL, tasks.StatusPending, now); err != nil {
			return 0, fmt.Errorf("failed to insert task: %w", err)
		}
		created++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit tasks: %w", err)
	}
	return created, nil
}

func (s *Store) CreateTask(ctx context.Context, task tasks.Task) (tasks.Task, error) {
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return tasks.Task{}, fmt.Errorf("task title is required")
	}
	if task.Status == "" {
		task.Status = tasks.StatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	const q = `INSERT INTO tasks (title, due_date, course, url, status, created_at) VALUES (?, ?, ?, ?, ?, ?);`
	res, err := s.db.ExecContext(ctx, q,
		task.Title,
		formatNullableTime(task.DueDate),
		task.Course,
		task.URL,
		task.Status,
		formatTime(task.CreatedAt),
	)
	if err != nil {
		return tasks.Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	if task.ID, err = res.LastInsertId(); err != nil {
		return tasks.Task{}, fmt.Errorf("failed to read task id: %w", err)
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]tasks.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, due_date, course, url, status, created_at FROM tasks ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []tasks.Task
	for rows.Next() {
		var (
			t          tasks.Task
			dueRaw     sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&t.ID, &t.Title, &dueRaw, &t.Course, &t.URL, &t.Status, &createdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if t.DueDate, err = parseNullableTime(dueRaw); err != nil {
			return nil, fmt.Errorf("failed to parse task due_date: %w", err)
		}
		if t.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
			return nil, fmt.Errorf("failed to parse task created_at: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return out, nil
}

func (s *Store) SaveExternal(ctx context.Context, task tasks.ExternalTask) (tasks.ExternalTask, error) {
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return tasks.ExternalTask{}, fmt.Errorf("task title is required")
	}
	if task.Status == "" {
		task.Status = tasks.StatusNotSubmitted
	}
	if task.Priority == "" {
		task.Priority = "low"
	}
	const q = `INSERT INTO external_tasks (title, due_date, course, url, status, priority, source) VALUES (?, ?, ?, ?, ?, ?, ?);`
	res, err := s.db.ExecContext(ctx, q,
		task.Title,
		formatNullableTime(task.DueDate),
		task.Course,
		task.URL,
		task.Status,
		task.Priority,
		task.Source,
	)
	if err != nil {
		return tasks.ExternalTask{}, fmt.Errorf("failed to save external task: %w", err)
	}
	if task.ID, err = res.LastInsertId(); err != nil {
		return tasks.ExternalTask{}, fmt.Errorf("failed to read external task id: %w", err)
	}
	return task, nil
}

func (s *Store) ListExternal(ctx context.Context) ([]tasks.ExternalTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, due_date, course, url, status, priority, source FROM external_tasks ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list external tasks: %w", err)
	}
	defer rows.Close()

	var out []tasks.ExternalTask
	for rows.Next() {
		var (
			t      tasks.ExternalTask
			dueRaw sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Title, &dueRaw, &t.Course, &t.URL, &t.Status, &t.Priority, &t.Source); err != nil {
			return nil, fmt.Errorf("failed to scan external task: %w", err)
		}
		if t.DueDate, err = parseNullableTime(dueRaw); err != nil {
			return nil, fmt.Errorf("failed to parse external task due_date: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate external tasks: %w", err)
	}
	return out, nil
}
