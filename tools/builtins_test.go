package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PipeOpsHQ/opsbrain/files"
	"github.com/PipeOpsHQ/opsbrain/news"
	"github.com/PipeOpsHQ/opsbrain/notify"
	"github.com/PipeOpsHQ/opsbrain/policy"
	"github.com/PipeOpsHQ/opsbrain/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 4, 14, 10, 0, 0, 0, time.UTC)

type stubEmail struct {
	emails []Email
	limit  int
}

func (s *stubEmail) Fetch(_ context.Context, limit int, _ string) ([]Email, error) {
	s.limit = limit
	return s.emails, nil
}

type stubNews struct{}

func (stubNews) Headlines(context.Context, int) (news.Digest, error) {
	return news.Digest{UpdatedAt: now, Headlines: []news.Headline{{Title: "h"}}}, nil
}

type fixture struct {
	reg      *Registry
	store    *tasks.MemoryStore
	email    *stubEmail
	notifier *notify.Notifier
	logs     *notify.MemoryLog
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	engine := policy.NewEngine(policy.Config{ScanRoots: root})
	f := &fixture{
		reg:   NewRegistry(engine),
		store: tasks.NewMemoryStore(),
		email: &stubEmail{},
		logs:  notify.NewMemoryLog(),
		root:  root,
	}
	f.notifier = notify.New(notify.Config{Provider: "off"}, engine, f.logs, notify.WithClock(func() time.Time { return now }))
	err := RegisterBuiltins(f.reg, Deps{
		Scanner:          files.NewScanner(files.WithClock(func() time.Time { return now })),
		Email:            f.email,
		News:             stubNews{},
		Tasks:            f.store,
		Notifier:         f.notifier,
		DefaultScanPaths: []string{root},
		Now:              func() time.Time { return now },
	})
	require.NoError(t, err)
	return f
}

func TestBuiltinsRegistered(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{EmailFetch, FilesScan, NewsHeadlines, NotifySend, OpsSummary, TaskCreate}, f.reg.Names())
	for _, def := range f.reg.Catalog() {
		assert.NotNil(t, def.JSONSchema, def.Name)
	}
}

func TestFilesScanUsesDefaultPaths(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "quiz.md"), []byte("due 2026-04-20"), 0o644))

	out, err := f.reg.Execute(context.Background(), FilesScan, nil, false)
	require.NoError(t, err)
	res := out.(ScanResult)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.CreatedTasks)
	assert.Equal(t, 1, res.DueSignals)

	list, _ := f.store.ListTasks(context.Background())
	require.Len(t, list, 1)
	assert.Equal(t, "Review quiz submission", list[0].Title)
	assert.Equal(t, SourceFiles, list[0].Course)
}

func TestFilesScanDeniedOutsideRoots(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Execute(context.Background(), FilesScan, json.RawMessage(`{"paths":["/etc"]}`), false)
	var verr *policy.ViolationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, policy.CodeScanPathDenied, verr.Decision.Code)
}

func TestEmailFetchLimits(t *testing.T) {
	f := newFixture(t)
	f.email.emails = []Email{{Subject: "s", ProposedTasks: []tasks.Candidate{{Title: "Reply to advisor"}, {Title: ""}}}}

	out, err := f.reg.Execute(context.Background(), EmailFetch, json.RawMessage(`{}`), false)
	require.NoError(t, err)
	assert.Equal(t, EmailResult{Emails: 1, CreatedTasks: 1}, out)
	assert.Equal(t, 10, f.email.limit)

	_, err = f.reg.Execute(context.Background(), EmailFetch, json.RawMessage(`{"limit":51}`), false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.reg.Execute(context.Background(), EmailFetch, json.RawMessage(`{"limit":0}`), false)
	require.ErrorAs(t, err, &verr)
}

func TestEmailFetchWithoutConnector(t *testing.T) {
	engine := policy.NewEngine(policy.Config{})
	reg := NewRegistry(engine)
	require.NoError(t, RegisterBuiltins(reg, Deps{}))
	_, err := reg.Execute(context.Background(), EmailFetch, nil, false)
	require.ErrorIs(t, err, ErrEmailNotConfigured)
}

func TestTaskCreateAndSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Execute(ctx, TaskCreate, json.RawMessage(`{"title":"Pay rent","due_date":"2026-04-14"}`), true)
	require.NoError(t, err)
	_, err = f.reg.Execute(ctx, TaskCreate, json.RawMessage(`{"title":"Call bank","due_date":"2026-04-15T09:00:00Z"}`), true)
	require.NoError(t, err)
	var verr *ValidationError
	for _, bad := range []string{"next week", "2026-02-30", "2026-04-14T25:00:00Z"} {
		_, err = f.reg.Validate(TaskCreate, json.RawMessage(`{"title":"Bad","due_date":"`+bad+`"}`))
		require.ErrorAs(t, err, &verr, bad)
	}

	out, err := f.reg.Execute(ctx, OpsSummary, nil, false)
	require.NoError(t, err)
	sum := out.(Summary)
	assert.Equal(t, tasks.Counts{Total: 2, Overdue: 1, Due24h: 1}, sum.Tasks)
	assert.Equal(t, now, sum.Timestamp)
}

func TestNotifySendRequiresApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := json.RawMessage(`{"title":"Test Alert","message":"Notification requested"}`)

	_, err := f.reg.Execute(ctx, NotifySend, in, false)
	var verr *policy.ViolationError
	require.ErrorAs(t, err, &verr)

	out, err := f.reg.Execute(ctx, NotifySend, in, true)
	require.NoError(t, err)
	assert.Equal(t, notify.StatusSkipped, out.(notify.Result).Status)
}

func TestNewsHeadlines(t *testing.T) {
	f := newFixture(t)
	out, err := f.reg.Execute(context.Background(), NewsHeadlines, json.RawMessage(`{}`), false)
	require.NoError(t, err)
	assert.Equal(t, NewsResult{Headlines: 1, UpdatedAt: now}, out)
}
