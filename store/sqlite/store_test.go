package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/PipeOpsHQ/opsbrain/ledger"
	"github.com/PipeOpsHQ/opsbrain/notify"
	"github.com/PipeOpsHQ/opsbrain/tasks"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "opsbrain.db"), WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}

func TestToolRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := ledger.New("sess-1", "msg-1", "files.scan", json.RawMessage(`{"paths":["~/Desktop"]}`), t0)
	require.NoError(t, ledger.Create(ctx, s, run))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Get(ctx, "nope")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAdvanceThroughStates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run := ledger.New("sess", "", "ops.summary", nil, t0)
	require.NoError(t, ledger.Create(ctx, s, run))

	approved, err := ledger.Advance(ctx, s, run.ID, func(r *ledger.ToolRun) error {
		return r.Transition(ledger.StatusApproved, t0.Add(time.Second))
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, approved.Status)

	_, err = ledger.Advance(ctx, s, run.ID, func(r *ledger.ToolRun) error {
		return r.Succeed(json.RawMessage(`{"tasks":3}`), t0.Add(2*time.Second))
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExecuted, got.Status)
	assert.JSONEq(t, `{"tasks":3}`, string(got.Result))
	assert.Equal(t, t0.Add(2*time.Second), got.UpdatedAt)

	_, err = ledger.Advance(ctx, s, run.ID, func(r *ledger.ToolRun) error {
		return r.Transition(ledger.StatusApproved, t0.Add(3*time.Second))
	})
	require.ErrorIs(t, err, ledger.ErrNotProposed)
}

func TestConcurrentApprovalSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	run := ledger.New("sess", "", "task.create", json.RawMessage(`{"title":"x"}`), t0)
	require.NoError(t, ledger.Create(ctx, s, run))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Advance(ctx, s, run.ID, func(r *ledger.ToolRun) error {
				return r.Transition(ledger.StatusApproved, time.Now())
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i, tool := range []string{"files.scan", "news.headlines", "files.scan"} {
		run := ledger.New("sess", "", tool, nil, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, ledger.Create(ctx, s, run))
	}
	runs, err := s.List(ctx, ledger.ListQuery{ToolName: "files.scan"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].CreatedAt.After(runs[1].CreatedAt))

	runs, err = s.List(ctx, ledger.ListQuery{Status: ledger.StatusExecuted})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestWithTxRollsBackOnUpdateFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewWithDB(db)

	cols := []string{"id", "session_id", "message_id", "tool_name", "input", "status", "result", "error", "actor", "created_at", "updated_at"}
	ts := formatTime(t0)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM tool_runs WHERE id = ?")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("run-1", "", "", "ops.summary", "{}", "proposed", nil, "", "", ts, ts))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tool_runs")).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = ledger.Advance(context.Background(), s, "run-1", func(r *ledger.ToolRun) error {
		return r.Transition(ledger.StatusApproved, t0.Add(time.Second))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxConflictWhenNoRowsUpdated(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tool_runs")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = s.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.Update(context.Background(), ledger.ToolRun{ID: "r", Status: ledger.StatusApproved, UpdatedAt: t0}, ledger.StatusProposed)
	})
	require.ErrorIs(t, err, ledger.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	due := t0.Add(48 * time.Hour)

	items := []tasks.Candidate{
		{Title: "Review lab report", DueDate: &due},
		{Title: ""},
		{Title: "Review lab report", DueDate: &due},
		{Title: "Review lab report"},
	}
	n, err := s.Upsert(ctx, items, "files")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Upsert(ctx, items, "files")
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "files", list[0].Course)
	require.NotNil(t, list[0].DueDate)
	assert.True(t, list[0].DueDate.Equal(due))
	assert.Nil(t, list[1].DueDate)
}

func TestExternalTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	saved, err := s.SaveExternal(ctx, tasks.ExternalTask{Title: "Quiz 3", Source: "lms"})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, "low", saved.Priority)

	list, err := s.ListExternal(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tasks.StatusNotSubmitted, list[0].Status)
}

func TestNotificationLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := int64(9)

	require.NoError(t, s.AppendNotification(ctx, notify.Record{ID: "n1", Provider: "ntfy", Title: "Due", Status: notify.StatusSent, CreatedAt: t0}))
	require.NoError(t, s.AppendNotification(ctx, notify.Record{ID: "n2", Provider: "ntfy", Title: "Other", TaskID: &id, Status: notify.StatusSent, CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.AppendNotification(ctx, notify.Record{ID: "n3", Provider: "ntfy", Title: "Skipped", Status: notify.StatusDryRun, CreatedAt: t0}))

	ok, err := s.HasRecentSent(ctx, nil, "Due", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasRecentSent(ctx, nil, "Due", t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "outside window")

	ok, err = s.HasRecentSent(ctx, &id, "anything", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasRecentSent(ctx, nil, "Skipped", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "only sent records count")

	recent, err := s.RecentNotifications(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "n2", recent[0].ID)
	require.NotNil(t, recent[0].TaskID)
	assert.Equal(t, id, *recent[0].TaskID)
}
