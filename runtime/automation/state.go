package automation

import (
	"encoding/json"
	"sync"
	"time"
)

// JobKind names one of the scheduled jobs.
type JobKind string

const (
	JobScan  JobKind = "scan"
	JobEmail JobKind = "email"
	JobNews  JobKind = "news"
)

// Jobs lists every job in loop order.
var Jobs = []JobKind{JobScan, JobEmail, JobNews}

// primeOrder is the startup order: news first so status has something to
// show quickly.
var primeOrder = []JobKind{JobNews, JobScan, JobEmail}

func (k JobKind) Valid() bool {
	switch k {
	case JobScan, JobEmail, JobNews:
		return true
	}
	return false
}

type JobState struct {
	LastRun     *time.Time
	LastError   string
	LastCreated int
}

// RuntimeState is the process-wide health record written by the scheduler.
// Construct one at startup and share the pointer with status readers.
type RuntimeState struct {
	mu          sync.RWMutex
	startedAt   *time.Time
	heartbeatAt *time.Time
	jobs        map[JobKind]*JobState
}

func NewRuntimeState() *RuntimeState {
	jobs := make(map[JobKind]*JobState, len(Jobs))
	for _, k := range Jobs {
		jobs[k] = &JobState{}
	}
	return &RuntimeState{jobs: jobs}
}

func (r *RuntimeState) MarkStarted(at time.Time) {
	at = at.UTC()
	r.mu.Lock()
	r.startedAt = &at
	r.mu.Unlock()
}

func (r *RuntimeState) Heartbeat(at time.Time) {
	at = at.UTC()
	r.mu.Lock()
	r.heartbeatAt = &at
	r.mu.Unlock()
}

// RecordSuccess sets the last run, clears the last error and stores the
// created count.
func (r *RuntimeState) RecordSuccess(job JobKind, at time.Time, created int) {
	at = at.UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	js := r.job(job)
	js.LastRun = &at
	js.LastError = ""
	js.LastCreated = created
}

// RecordError keeps the previous last run and created count.
func (r *RuntimeState) RecordError(job JobKind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job(job).LastError = msg
}

func (r *RuntimeState) job(k JobKind) *JobState {
	js, ok := r.jobs[k]
	if !ok {
		js = &JobState{}
		r.jobs[k] = js
	}
	return js
}

// Snapshot is a point-in-time copy of RuntimeState.
type Snapshot struct {
	StartedAt   *time.Time
	HeartbeatAt *time.Time
	Jobs        map[JobKind]JobState
}

func (r *RuntimeState) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		StartedAt:   copyTime(r.startedAt),
		HeartbeatAt: copyTime(r.heartbeatAt),
		Jobs:        make(map[JobKind]JobState, len(r.jobs)),
	}
	for k, js := range r.jobs {
		out.Jobs[k] = JobState{
			LastRun:     copyTime(js.LastRun),
			LastError:   js.LastError,
			LastCreated: js.LastCreated,
		}
	}
	return out
}

func (s Snapshot) Job(k JobKind) JobState {
	return s.Jobs[k]
}

// MarshalJSON renders the flat status document: runtime_started_at,
// runtime_heartbeat_at and <job>_last_run, <job>_last_error,
// <job>_last_created per job. Unset values are null.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	doc := map[string]any{
		"runtime_started_at":   timeValue(s.StartedAt),
		"runtime_heartbeat_at": timeValue(s.HeartbeatAt),
	}
	for _, k := range Jobs {
		js := s.Jobs[k]
		prefix := string(k) + "_"
		doc[prefix+"last_run"] = timeValue(js.LastRun)
		var lastErr any
		if js.LastError != "" {
			lastErr = js.LastError
		}
		doc[prefix+"last_error"] = lastErr
		doc[prefix+"last_created"] = js.LastCreated
	}
	return json.Marshal(doc)
}

func (r *RuntimeState) MarshalJSON() ([]byte, error) {
	return r.Snapshot().MarshalJSON()
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
