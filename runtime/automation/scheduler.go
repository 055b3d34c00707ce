// Package automation runs the periodic scan, email and news jobs and keeps
// the runtime health record.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	robcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/PipeOpsHQ/opsbrain/actions"
	"github.com/PipeOpsHQ/opsbrain/internal/config"
	"github.com/PipeOpsHQ/opsbrain/observe"
	"github.com/PipeOpsHQ/opsbrain/tools"
)

const (
	DefaultPoll = 5 * time.Second
	MinInterval = time.Minute

	// SelectorAll runs every job in loop order.
	SelectorAll = "all"

	maxRuns = 100
)

// Trigger kinds recorded on job runs.
const (
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerManual   = "manual"
)

var ErrUnknownJob = errors.New("unknown job")

// Dispatcher records and runs a tool on behalf of a job.
type Dispatcher interface {
	Dispatch(ctx context.Context, origin, toolName string, input json.RawMessage) (actions.Outcome, error)
}

type JobConfig struct {
	Enabled  bool
	Interval time.Duration
	Input    json.RawMessage
}

type Config struct {
	Poll time.Duration
	Jobs map[JobKind]JobConfig
}

// ConfigFromSettings maps the AUTO_* settings onto job configs. Interval
// minutes below one are raised to one.
func ConfigFromSettings(s config.Settings) (Config, error) {
	scanInput, err := json.Marshal(map[string]any{"paths": s.ScanPaths()})
	if err != nil {
		return Config{}, err
	}
	emailInput, err := json.Marshal(map[string]any{"limit": s.AutoEmailSyncLimit})
	if err != nil {
		return Config{}, err
	}
	return Config{
		Poll: s.RuntimePoll,
		Jobs: map[JobKind]JobConfig{
			JobScan:  {Enabled: s.AutoScanEnabled, Interval: minutes(s.AutoScanIntervalMin), Input: scanInput},
			JobEmail: {Enabled: s.AutoEmailSyncEnabled, Interval: minutes(s.AutoEmailSyncIntervalMin), Input: emailInput},
			JobNews:  {Enabled: s.AutoNewsEnabled, Interval: minutes(s.AutoNewsRefreshMin), Input: json.RawMessage(`{}`)},
		},
	}, nil
}

func minutes(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * time.Minute
}

var jobTools = map[JobKind]string{
	JobScan:  tools.FilesScan,
	JobEmail: tools.EmailFetch,
	JobNews:  tools.NewsHeadlines,
}

// JobRun is one entry of a job's run history.
type JobRun struct {
	Job        JobKind   `json:"job"`
	At         time.Time `json:"at"`
	DurationMS int64     `json:"durationMs"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"`
	Created    int       `json:"created"`
	RunID      string    `json:"runId,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type Option func(*Scheduler)

func WithState(state *RuntimeState) Option {
	return func(s *Scheduler) {
		if state != nil {
			s.state = state
		}
	}
}

func WithSink(sink observe.Sink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler runs jobs one at a time. A failing or panicking job only
// affects its own state entry.
type Scheduler struct {
	dispatcher Dispatcher
	poll       time.Duration
	jobs       map[JobKind]JobConfig
	state      *RuntimeState
	sink       observe.Sink
	now        func() time.Time

	runMu sync.Mutex

	mu     sync.Mutex
	next   map[JobKind]time.Time
	runs   map[JobKind][]JobRun
	handle *Handle
}

func New(dispatcher Dispatcher, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		dispatcher: dispatcher,
		poll:       cfg.Poll,
		jobs:       make(map[JobKind]JobConfig, len(cfg.Jobs)),
		state:      NewRuntimeState(),
		sink:       observe.NoopSink{},
		now:        time.Now,
		next:       map[JobKind]time.Time{},
		runs:       map[JobKind][]JobRun{},
	}
	if s.poll <= 0 {
		s.poll = DefaultPoll
	}
	for k, jc := range cfg.Jobs {
		if jc.Interval < MinInterval {
			jc.Interval = MinInterval
		}
		if len(jc.Input) == 0 {
			jc.Input = json.RawMessage(`{}`)
		}
		s.jobs[k] = jc
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) State() *RuntimeState { return s.state }

// NextDue returns when job will next run from the loop. The zero time means
// it is due on the next tick.
func (s *Scheduler) NextDue(job JobKind) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next[job]
}

// RunDue performs one tick: heartbeat, then every enabled job whose
// next-due time has passed, in loop order.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) {
	s.state.Heartbeat(now)
	for _, job := range Jobs {
		jc, ok := s.jobs[job]
		if !ok || !jc.Enabled {
			continue
		}
		if now.Before(s.NextDue(job)) {
			continue
		}
		_ = s.runAndRecord(ctx, job, TriggerSchedule, now)
		s.scheduleNext(job, now)
	}
}

// RunOnce runs job synchronously, ignoring its enable flag and schedule.
func (s *Scheduler) RunOnce(ctx context.Context, job JobKind) error {
	if !job.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownJob, job)
	}
	return s.runAndRecord(ctx, job, TriggerManual, s.now())
}

// Trigger runs the jobs named by selector (scan, email, news or all) and
// joins their errors.
func (s *Scheduler) Trigger(ctx context.Context, selector string) error {
	var selected []JobKind
	if selector == SelectorAll {
		selected = Jobs
	} else {
		job := JobKind(selector)
		if !job.Valid() {
			return fmt.Errorf("%w %q (use scan, email, news or all)", ErrUnknownJob, selector)
		}
		selected = []JobKind{job}
	}
	var errs []error
	for _, job := range selected {
		if err := s.RunOnce(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job, err))
		}
	}
	return errors.Join(errs...)
}

// History returns recent runs for job, newest first.
func (s *Scheduler) History(job JobKind, limit int) []JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.runs[job]
	if limit <= 0 || limit > len(runs) {
		limit = len(runs)
	}
	out := make([]JobRun, 0, limit)
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	return out
}

func (s *Scheduler) scheduleNext(job JobKind, from time.Time) {
	next := robcron.Every(s.jobs[job].Interval).Next(from)
	s.mu.Lock()
	s.next[job] = next
	s.mu.Unlock()
}

func (s *Scheduler) runAndRecord(ctx context.Context, job JobKind, trigger string, at time.Time) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	// Jobs are never cancelled mid-run; Handle.Stop waits for them instead.
	ctx = context.WithoutCancel(ctx)

	started := s.now()
	outcome, err := s.execute(ctx, job)
	elapsed := s.now().Sub(started)
	created := createdCount(outcome)

	run := JobRun{
		Job:        job,
		At:         at.UTC(),
		DurationMS: elapsed.Milliseconds(),
		Trigger:    trigger,
		Status:     "completed",
		RunID:      outcome.Run.ID,
	}
	if err != nil {
		s.state.RecordError(job, err.Error())
		run.Status = "failed"
		run.Error = err.Error()
		log.Warn().Str("component", "runtime").Str("job", string(job)).Str("trigger", trigger).Err(err).Msg("job_failed")
	} else {
		s.state.RecordSuccess(job, at, created)
		run.Created = created
		log.Info().Str("component", "runtime").Str("job", string(job)).Str("trigger", trigger).
			Int("created", created).Dur("elapsed", elapsed).Msg("job_completed")
	}

	s.mu.Lock()
	s.runs[job] = append(s.runs[job], run)
	if len(s.runs[job]) > maxRuns {
		s.runs[job] = s.runs[job][len(s.runs[job])-maxRuns:]
	}
	s.mu.Unlock()

	if emitErr := s.sink.Emit(ctx, observe.JobEvent(string(job), trigger, started, elapsed, created, err)); emitErr != nil {
		log.Warn().Str("component", "runtime").Err(emitErr).Msg("event_emit_failed")
	}
	return err
}

func (s *Scheduler) execute(ctx context.Context, job JobKind) (outcome actions.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job, r)
		}
	}()
	jc, ok := s.jobs[job]
	if !ok {
		jc = JobConfig{Input: json.RawMessage(`{}`)}
	}
	return s.dispatcher.Dispatch(ctx, "automation:"+string(job), jobTools[job], jc.Input)
}

func createdCount(o actions.Outcome) int {
	if len(o.Run.Result) == 0 {
		return 0
	}
	var res struct {
		CreatedTasks int `json:"created_tasks"`
	}
	if err := json.Unmarshal(o.Run.Result, &res); err != nil {
		return 0
	}
	return res.CreatedTasks
}
