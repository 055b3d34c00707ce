package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PipeOpsHQ/opsbrain/files"
	"github.com/PipeOpsHQ/opsbrain/news"
	"github.com/PipeOpsHQ/opsbrain/notify"
	"github.com/PipeOpsHQ/opsbrain/policy"
	"github.com/PipeOpsHQ/opsbrain/tasks"
)

// Tool names.
const (
	OpsSummary    = "ops.summary"
	FilesScan     = "files.scan"
	EmailFetch    = "email.fetch"
	NewsHeadlines = "news.headlines"
	TaskCreate    = "task.create"
	NotifySend    = "notify.send"
)

// Task source tags written by upserts.
const (
	SourceFiles = "files"
	SourceEmail = "email"
)

var ErrEmailNotConfigured = errors.New("email connector not configured")

type FileScanner interface {
	Scan(ctx context.Context, paths []string) (files.Report, error)
}

type Email struct {
	Subject       string            `json:"subject"`
	From          string            `json:"from"`
	ProposedTasks []tasks.Candidate `json:"proposed_tasks"`
}

// EmailFetcher is the mailbox collaborator. No implementation ships with
// the core.
type EmailFetcher interface {
	Fetch(ctx context.Context, limit int, mailbox string) ([]Email, error)
}

type HeadlineSource interface {
	Headlines(ctx context.Context, limit int) (news.Digest, error)
}

type Notifier interface {
	Send(ctx context.Context, req notify.Request) (notify.Result, error)
	Recent(ctx context.Context, limit int) ([]notify.Record, error)
}

type Deps struct {
	Policy           *policy.Engine
	Scanner          FileScanner
	Email            EmailFetcher
	News             HeadlineSource
	Tasks            tasks.Store
	Notifier         Notifier
	DefaultScanPaths []string
	Now              func() time.Time
}

type scanInput struct {
	Paths []string `json:"paths,omitempty"`
}

type emailInput struct {
	Limit   int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50,default=10"`
	Mailbox string `json:"mailbox,omitempty"`
}

type newsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"minimum=3,maximum=30,default=12"`
}

type summaryInput struct{}

type taskInput struct {
	Title   string `json:"title" jsonschema:"minLength=1"`
	DueDate string `json:"due_date,omitempty" jsonschema:"pattern=^[0-9]{4}-[0-9]{2}-[0-9]{2}(T.+)?$"`
	Course  string `json:"course,omitempty"`
	URL     string `json:"url,omitempty"`
}

type notifyInput struct {
	Title    string `json:"title" jsonschema:"minLength=1"`
	Message  string `json:"message" jsonschema:"minLength=1"`
	ClickURL string `json:"click_url,omitempty"`
	TaskID   *int64 `json:"task_id,omitempty"`
}

type ScanResult struct {
	Scanned         int `json:"scanned"`
	CreatedTasks    int `json:"created_tasks"`
	DueSignals      int `json:"due_signals"`
	HotFiles        int `json:"hot_files"`
	StaleCandidates int `json:"stale_candidates"`
	JunkCandidates  int `json:"junk_candidates"`
}

type EmailResult struct {
	Emails       int `json:"emails"`
	CreatedTasks int `json:"created_tasks"`
}

type NewsResult struct {
	Headlines int       `json:"headlines"`
	UpdatedAt time.Time `json:"updated_at"`
	Stale     bool      `json:"stale"`
}

type Summary struct {
	Timestamp     time.Time       `json:"timestamp"`
	Tasks         tasks.Counts    `json:"tasks"`
	External      tasks.Counts    `json:"external"`
	Notifications []notify.Record `json:"notifications"`
}

// RegisterBuiltins adds the six core tools to reg.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Policy == nil {
		deps.Policy = reg.Policy()
	}
	b := builtins{deps: deps}

	summary, err := NewSchemaTool(OpsSummary, "Summarize tasks, deadlines and recent notifications.", false, b.summary)
	if err != nil {
		return err
	}
	scan, err := NewSchemaTool(FilesScan, "Scan allowed folders for deadline signals and create review tasks.", false, b.scan)
	if err != nil {
		return err
	}
	email, err := NewSchemaTool(EmailFetch, "Fetch recent email and create proposed tasks.", false, b.email)
	if err != nil {
		return err
	}
	email.WithDefaults(func(in *emailInput) {
		if in.Limit == 0 {
			in.Limit = 10
		}
	})
	headlines, err := NewSchemaTool(NewsHeadlines, "Refresh news headlines.", false, b.headlines)
	if err != nil {
		return err
	}
	headlines.WithDefaults(func(in *newsInput) {
		if in.Limit == 0 {
			in.Limit = 12
		}
	})
	create, err := NewSchemaTool(TaskCreate, "Create a task.", true, b.createTask)
	if err != nil {
		return err
	}
	create.WithCheck(func(in taskInput) error {
		if in.DueDate == "" {
			return nil
		}
		_, err := parseDue(in.DueDate)
		return err
	})
	send, err := NewSchemaTool(NotifySend, "Send a critical notification.", true, b.notify)
	if err != nil {
		return err
	}

	all := []Tool{summary, scan, email, headlines, create, send}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type builtins struct {
	deps Deps
}

func (b builtins) summary(ctx context.Context, _ summaryInput) (any, error) {
	if b.deps.Tasks == nil {
		return nil, fmt.Errorf("task store not configured")
	}
	now := b.deps.Now()
	manual, err := b.deps.Tasks.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	external, err := b.deps.Tasks.ListExternal(ctx)
	if err != nil {
		return nil, err
	}
	manualDues := make([]*time.Time, 0, len(manual))
	for _, t := range manual {
		manualDues = append(manualDues, t.DueDate)
	}
	externalDues := make([]*time.Time, 0, len(external))
	for _, t := range external {
		externalDues = append(externalDues, t.DueDate)
	}
	out := Summary{
		Timestamp:     now,
		Tasks:         tasks.CountDue(manualDues, now),
		External:      tasks.CountDue(externalDues, now),
		Notifications: []notify.Record{},
	}
	if b.deps.Notifier != nil {
		recent, err := b.deps.Notifier.Recent(ctx, 5)
		if err != nil {
			return nil, err
		}
		out.Notifications = recent
	}
	return out, nil
}

func (b builtins) scan(ctx context.Context, in scanInput) (any, error) {
	if b.deps.Scanner == nil {
		return nil, fmt.Errorf("file scanner not configured")
	}
	paths := in.Paths
	if len(paths) == 0 {
		paths = b.deps.DefaultScanPaths
	}
	if len(paths) == 0 {
		paths = []string{"~/Desktop"}
	}
	if err := policy.Require(b.deps.Policy.EvaluateFileScan(paths)); err != nil {
		return nil, err
	}
	report, err := b.deps.Scanner.Scan(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	created := 0
	if b.deps.Tasks != nil {
		if created, err = b.deps.Tasks.Upsert(ctx, report.Candidates(), SourceFiles); err != nil {
			return nil, fmt.Errorf("upsert scanned tasks: %w", err)
		}
	}
	return ScanResult{
		Scanned:         report.Scanned,
		CreatedTasks:    created,
		DueSignals:      len(report.DueSignals),
		HotFiles:        len(report.HotFiles),
		StaleCandidates: len(report.StaleCandidates),
		JunkCandidates:  len(report.JunkCandidates),
	}, nil
}

func (b builtins) email(ctx context.Context, in emailInput) (any, error) {
	if b.deps.Email == nil {
		return nil, ErrEmailNotConfigured
	}
	emails, err := b.deps.Email.Fetch(ctx, in.Limit, in.Mailbox)
	if err != nil {
		return nil, fmt.Errorf("fetch email: %w", err)
	}
	var proposed []tasks.Candidate
	for _, e := range emails {
		proposed = append(proposed, e.ProposedTasks...)
	}
	created := 0
	if b.deps.Tasks != nil {
		if created, err = b.deps.Tasks.Upsert(ctx, proposed, SourceEmail); err != nil {
			return nil, fmt.Errorf("upsert email tasks: %w", err)
		}
	}
	return EmailResult{Emails: len(emails), CreatedTasks: created}, nil
}

func (b builtins) headlines(ctx context.Context, in newsInput) (any, error) {
	if b.deps.News == nil {
		return nil, fmt.Errorf("headline source not configured")
	}
	d, err := b.deps.News.Headlines(ctx, in.Limit)
	if err != nil {
		return nil, err
	}
	return NewsResult{Headlines: len(d.Headlines), UpdatedAt: d.UpdatedAt, Stale: d.Stale}, nil
}

func (b builtins) createTask(ctx context.Context, in taskInput) (any, error) {
	if b.deps.Tasks == nil {
		return nil, fmt.Errorf("task store not configured")
	}
	task := tasks.Task{
		Title:  strings.TrimSpace(in.Title),
		Course: in.Course,
		URL:    in.URL,
	}
	if in.DueDate != "" {
		due, err := parseDue(in.DueDate)
		if err != nil {
			return nil, &ValidationError{Tool: TaskCreate, Problems: []string{err.Error()}}
		}
		task.DueDate = &due
	}
	return b.deps.Tasks.CreateTask(ctx, task)
}

func (b builtins) notify(ctx context.Context, in notifyInput) (any, error) {
	if b.deps.Notifier == nil {
		return nil, fmt.Errorf("notifier not configured")
	}
	res, err := b.deps.Notifier.Send(ctx, notify.Request{
		Title:           in.Title,
		Message:         in.Message,
		ClickURL:        in.ClickURL,
		TaskID:          in.TaskID,
		ApprovedNetwork: ApprovedFromContext(ctx),
		Actor:           "tool",
	})
	if err != nil {
		return nil, err
	}
	if res.Status == notify.StatusError || res.Status == notify.StatusDenied {
		msg := res.Error
		if msg == "" {
			msg = res.Status
		}
		return nil, fmt.Errorf("notification %s: %s", res.Status, msg)
	}
	return res, nil
}

func parseDue(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("due_date %q is not RFC3339 or YYYY-MM-DD", raw)
}
