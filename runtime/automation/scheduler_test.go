package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/opsbrain/actions"
	"github.com/PipeOpsHQ/opsbrain/internal/config"
	"github.com/PipeOpsHQ/opsbrain/ledger"
	"github.com/PipeOpsHQ/opsbrain/observe"
	"github.com/PipeOpsHQ/opsbrain/tools"
)

var errMailbox = errors.New("mailbox unreachable")

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []string
	origins []string
	inputs  []string
	fail    map[string]error
	panics  map[string]bool
	created int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, origin, tool string, input json.RawMessage) (actions.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tool)
	f.origins = append(f.origins, origin)
	f.inputs = append(f.inputs, string(input))
	err := f.fail[tool]
	panics := f.panics[tool]
	created := f.created
	f.mu.Unlock()

	if panics {
		panic("scanner exploded")
	}
	if err != nil {
		return actions.Outcome{}, err
	}
	return actions.Outcome{Run: ledger.ToolRun{
		ID:       "run-" + tool,
		ToolName: tool,
		Status:   ledger.StatusExecuted,
		Result:   json.RawMessage(fmt.Sprintf(`{"created_tasks":%d}`, created)),
	}}, nil
}

func (f *fakeDispatcher) setFail(tool string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[string]error{}
	}
	f.fail[tool] = err
}

func (f *fakeDispatcher) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var t0 = time.Date(2026, 4, 14, 10, 0, 0, 0, time.UTC)

func allJobs(enabled bool, interval time.Duration) map[JobKind]JobConfig {
	return map[JobKind]JobConfig{
		JobScan:  {Enabled: enabled, Interval: interval},
		JobEmail: {Enabled: enabled, Interval: interval},
		JobNews:  {Enabled: enabled, Interval: interval},
	}
}

func TestRunDueRespectsInterval(t *testing.T) {
	d := &fakeDispatcher{created: 3}
	d.setFail(tools.FilesScan, errors.New("scan.path_denied: Path not allowed: /x"))
	s := New(d, Config{Jobs: map[JobKind]JobConfig{
		JobScan: {Enabled: true, Interval: 60 * time.Minute},
	}}, WithClock(func() time.Time { return t0 }))
	ctx := context.Background()

	s.RunDue(ctx, t0)
	require.Equal(t, []string{tools.FilesScan}, d.called())
	snap := s.State().Snapshot()
	assert.Nil(t, snap.Job(JobScan).LastRun)
	assert.Contains(t, snap.Job(JobScan).LastError, "scan.path_denied")
	assert.Equal(t, t0.Add(60*time.Minute), s.NextDue(JobScan))

	d.setFail(tools.FilesScan, nil)
	s.RunDue(ctx, t0.Add(30*time.Minute))
	assert.Len(t, d.called(), 1)
	snap = s.State().Snapshot()
	require.NotNil(t, snap.HeartbeatAt)
	assert.Equal(t, t0.Add(30*time.Minute), *snap.HeartbeatAt)

	tick := t0.Add(61 * time.Minute)
	s.RunDue(ctx, tick)
	assert.Len(t, d.called(), 2)
	snap = s.State().Snapshot()
	require.NotNil(t, snap.Job(JobScan).LastRun)
	assert.Equal(t, tick, *snap.Job(JobScan).LastRun)
	assert.Empty(t, snap.Job(JobScan).LastError)
	assert.Equal(t, 3, snap.Job(JobScan).LastCreated)
}

func TestRunDueFaultIsolation(t *testing.T) {
	d := &fakeDispatcher{panics: map[string]bool{tools.FilesScan: true}}
	d.setFail(tools.EmailFetch, errMailbox)
	s := New(d, Config{Jobs: allJobs(true, time.Hour)})

	s.RunDue(context.Background(), t0)

	assert.Equal(t, []string{tools.FilesScan, tools.EmailFetch, tools.NewsHeadlines}, d.called())
	snap := s.State().Snapshot()
	assert.Contains(t, snap.Job(JobScan).LastError, "panicked")
	assert.Equal(t, errMailbox.Error(), snap.Job(JobEmail).LastError)
	assert.Empty(t, snap.Job(JobNews).LastError)
	require.NotNil(t, snap.Job(JobNews).LastRun)
	assert.Equal(t, t0, *snap.Job(JobNews).LastRun)
	for _, job := range Jobs {
		assert.Equal(t, t0.Add(time.Hour), s.NextDue(job), job)
	}
}

func TestRunDueSkipsDisabledJobs(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(d, Config{Jobs: allJobs(false, time.Hour)})

	s.RunDue(context.Background(), t0)
	assert.Empty(t, d.called())
	snap := s.State().Snapshot()
	require.NotNil(t, snap.HeartbeatAt)
	assert.Equal(t, t0, *snap.HeartbeatAt)

	require.NoError(t, s.RunOnce(context.Background(), JobEmail))
	assert.Equal(t, []string{tools.EmailFetch}, d.called())
}

func TestIntervalClampedToOneMinute(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(d, Config{Jobs: map[JobKind]JobConfig{JobNews: {Enabled: true}}})
	s.RunDue(context.Background(), t0)
	assert.Equal(t, t0.Add(time.Minute), s.NextDue(JobNews))

	s.RunDue(context.Background(), t0.Add(59*time.Second))
	assert.Len(t, d.called(), 1)
	s.RunDue(context.Background(), t0.Add(time.Minute))
	assert.Len(t, d.called(), 2)
}

func TestTrigger(t *testing.T) {
	d := &fakeDispatcher{}
	d.setFail(tools.EmailFetch, errMailbox)
	s := New(d, Config{Jobs: allJobs(false, time.Hour)})
	ctx := context.Background()

	require.NoError(t, s.Trigger(ctx, "news"))
	assert.Equal(t, []string{tools.NewsHeadlines}, d.called())

	err := s.Trigger(ctx, SelectorAll)
	require.Error(t, err)
	assert.ErrorIs(t, err, errMailbox)
	assert.Contains(t, err.Error(), "email:")
	assert.Equal(t, []string{tools.NewsHeadlines, tools.FilesScan, tools.EmailFetch, tools.NewsHeadlines}, d.called())
	assert.Equal(t, errMailbox.Error(), s.State().Snapshot().Job(JobEmail).LastError)

	err = s.Trigger(ctx, "weather")
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.ErrorIs(t, s.RunOnce(ctx, JobKind("weather")), ErrUnknownJob)
}

func TestJobsDispatchWithAutomationOrigin(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(d, Config{Jobs: map[JobKind]JobConfig{
		JobEmail: {Enabled: true, Interval: time.Hour, Input: json.RawMessage(`{"limit":5}`)},
	}})
	require.NoError(t, s.RunOnce(context.Background(), JobEmail))
	require.NoError(t, s.RunOnce(context.Background(), JobScan))

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, []string{"automation:email", "automation:scan"}, d.origins)
	assert.Equal(t, []string{`{"limit":5}`, `{}`}, d.inputs)
}

func TestHistoryCappedNewestFirst(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(d, Config{})
	for i := 0; i < maxRuns+5; i++ {
		require.NoError(t, s.RunOnce(context.Background(), JobNews))
	}
	runs := s.History(JobNews, 0)
	assert.Len(t, runs, maxRuns)
	assert.Equal(t, TriggerManual, runs[0].Trigger)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, "run-"+tools.NewsHeadlines, runs[0].RunID)
	assert.Len(t, s.History(JobNews, 3), 3)
	assert.Empty(t, s.History(JobScan, 10))
}

func TestJobEventsEmitted(t *testing.T) {
	var mu sync.Mutex
	var events []observe.Event
	sink := observe.SinkFunc(func(_ context.Context, e observe.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	})
	d := &fakeDispatcher{created: 2}
	d.setFail(tools.EmailFetch, errMailbox)
	s := New(d, Config{}, WithSink(sink))

	_ = s.Trigger(context.Background(), "scan")
	_ = s.Trigger(context.Background(), "email")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, observe.KindJob, events[0].Kind)
	assert.Equal(t, "scan", events[0].Name)
	assert.Equal(t, observe.StatusCompleted, events[0].Status)
	assert.Equal(t, 2, events[0].Attributes["created"])
	assert.Equal(t, observe.StatusFailed, events[1].Status)
	assert.Equal(t, errMailbox.Error(), events[1].Error)
}

func TestStartPrimesThenLoopsUntilStopped(t *testing.T) {
	d := &fakeDispatcher{}
	state := NewRuntimeState()
	s := New(d, Config{Poll: 10 * time.Millisecond, Jobs: allJobs(true, time.Hour)}, WithState(state))
	require.Same(t, state, s.State())

	h := s.Start(context.Background())
	assert.Equal(t, []string{tools.NewsHeadlines, tools.FilesScan, tools.EmailFetch}, d.called())
	assert.Same(t, h, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return state.Snapshot().HeartbeatAt != nil
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	select {
	case <-h.Done():
	default:
		t.Fatal("loop still running after Stop")
	}
	h.Stop()

	snap := state.Snapshot()
	require.NotNil(t, snap.StartedAt)
	assert.Len(t, d.called(), 3, "primed jobs must not run again before their interval")
	assert.Equal(t, TriggerStartup, s.History(JobNews, 1)[0].Trigger)

	h2 := s.Start(context.Background())
	assert.NotSame(t, h, h2)
	h2.Stop()
}

func TestStartStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&fakeDispatcher{}, Config{Poll: 10 * time.Millisecond})
	h := s.Start(ctx)
	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
}

type cancellingDispatcher struct {
	cancel context.CancelFunc
	seen   error
}

func (d *cancellingDispatcher) Dispatch(ctx context.Context, _, tool string, _ json.RawMessage) (actions.Outcome, error) {
	d.cancel()
	d.seen = ctx.Err()
	return actions.Outcome{Run: ledger.ToolRun{ToolName: tool, Status: ledger.StatusExecuted}}, nil
}

func TestJobsOutliveCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &cancellingDispatcher{cancel: cancel}
	s := New(d, Config{})

	require.NoError(t, s.RunOnce(ctx, JobNews))
	assert.NoError(t, d.seen)
	assert.Empty(t, s.State().Snapshot().Job(JobNews).LastError)
}

func TestConfigFromSettings(t *testing.T) {
	st := config.Defaults()
	st.AutoScanEnabled = true
	st.AutoScanIntervalMin = 0
	st.AutoScanPaths = "~/Desktop, ~/Documents"
	st.AutoEmailSyncLimit = 7

	cfg, err := ConfigFromSettings(st)
	require.NoError(t, err)
	assert.Equal(t, st.RuntimePoll, cfg.Poll)
	assert.True(t, cfg.Jobs[JobScan].Enabled)
	assert.Equal(t, time.Minute, cfg.Jobs[JobScan].Interval)
	assert.JSONEq(t, `{"paths":["~/Desktop","~/Documents"]}`, string(cfg.Jobs[JobScan].Input))
	assert.JSONEq(t, `{"limit":7}`, string(cfg.Jobs[JobEmail].Input))
	assert.Equal(t, 30*time.Minute, cfg.Jobs[JobNews].Interval)
	assert.True(t, cfg.Jobs[JobNews].Enabled)
}
