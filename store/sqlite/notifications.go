package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PipeOpsHQ/opsbrain/notify"
)

func (s *Store) HasRecentSent(ctx context.Context, taskID *int64, title string, since time.Time) (bool, error) {
	q := `SELECT 1 FROM notifications WHERE status = ? AND created_at >= ? AND title = ? LIMIT 1;`
	args := []any{notify.StatusSent, formatTime(since), title}
	if taskID != nil {
		q = `SELECT 1 FROM notifications WHERE status = ? AND created_at >= ? AND task_id = ? LIMIT 1;`
		args[2] = *taskID
	}
	var one int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to query notifications: %w", err)
	}
	return true, nil
}

func (s *Store) AppendNotification(ctx context.Context, rec notify.Record) error {
	const q = `
INSERT INTO notifications (id, provider, topic, task_id, title, message, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	var taskID any
	if rec.TaskID != nil {
		taskID = *rec.TaskID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		rec.Provider,
		rec.Topic,
		taskID,
		rec.Title,
		rec.Message,
		rec.Status,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}
	return nil
}

func (s *Store) RecentNotifications(ctx context.Context, limit int) ([]notify.Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	const q = `
SELECT id, provider, topic, task_id, title, message, status, created_at
FROM notifications
ORDER BY created_at DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]notify.Record, 0, limit)
	for rows.Next() {
		var (
			rec        notify.Record
			taskID     sql.NullInt64
			createdRaw string
		)
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.Topic, &taskID, &rec.Title, &rec.Message, &rec.Status, &createdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if taskID.Valid {
			id := taskID.Int64
			rec.TaskID = &id
		}
		if rec.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
			return nil, fmt.Errorf("failed to parse notification created_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}
