// Package notify sends critical alerts with a six hour duplicate window and
// keeps a log of every attempt.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PipeOpsHQ/opsbrain/observe"
	"github.com/PipeOpsHQ/opsbrain/policy"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Outcomes recorded in the notification log.
const (
	StatusSent    = "sent"
	StatusDeduped = "deduped"
	StatusSkipped = "skipped"
	StatusDryRun  = "dry_run"
	StatusDenied  = "denied"
	StatusError   = "error"
)

// DedupWindow is how long a sent notification suppresses repeats.
const DedupWindow = 6 * time.Hour

type Record struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Topic     string    `json:"topic,omitempty"`
	TaskID    *int64    `json:"task_id,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type LogStore interface {
	// HasRecentSent reports a sent record newer than since, matched on
	// taskID when set and on title otherwise.
	HasRecentSent(ctx context.Context, taskID *int64, title string, since time.Time) (bool, error)
	AppendNotification(ctx context.Context, rec Record) error
	RecentNotifications(ctx context.Context, limit int) ([]Record, error)
}

// Claimer atomically reserves a dedup key for ttl. A false return means
// another sender holds it.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Request struct {
	Title           string `json:"title"`
	Message         string `json:"message"`
	ClickURL        string `json:"click_url,omitempty"`
	TaskID          *int64 `json:"task_id,omitempty"`
	DryRun          bool   `json:"dry_run"`
	ApprovedNetwork bool   `json:"approved_network"`
	Actor           string `json:"actor,omitempty"`
}

type Result struct {
	Status   string           `json:"status"`
	Provider string           `json:"provider"`
	TaskID   *int64           `json:"task_id,omitempty"`
	Decision *policy.Decision `json:"decision,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type Config struct {
	Provider string
	BaseURL  string
	Topic    string
}

type Notifier struct {
	cfg       Config
	policy    *policy.Engine
	logs      LogStore
	publisher Publisher
	claimer   Claimer
	sink      observe.Sink
	now       func() time.Time
}

type Option func(*Notifier)

func WithClaimer(c Claimer) Option {
	return func(n *Notifier) { n.claimer = c }
}

func WithPublisher(p Publisher) Option {
	return func(n *Notifier) {
		if p != nil {
			n.publisher = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

func WithSink(s observe.Sink) Option {
	return func(n *Notifier) {
		if s != nil {
			n.sink = s
		}
	}
}

func New(cfg Config, engine *policy.Engine, logs LogStore, opts ...Option) *Notifier {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = policy.ProviderOff
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://ntfy.sh"
	}
	n := &Notifier{
		cfg:    cfg,
		policy: engine,
		logs:   logs,
		sink:   observe.NoopSink{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.publisher == nil {
		n.publisher = NewNtfyPublisher(cfg.BaseURL)
	}
	return n
}

func (n *Notifier) Provider() string { return n.cfg.Provider }

// Recent returns the newest log records.
func (n *Notifier) Recent(ctx context.Context, limit int) ([]Record, error) {
	return n.logs.RecentNotifications(ctx, limit)
}

// Send runs the dedup check, the policy gate and then the provider. Every
// outcome is appended to the log; the returned error is reserved for log
// store failures.
func (n *Notifier) Send(ctx context.Context, req Request) (Result, error) {
	now := n.now()
	provider := n.cfg.Provider

	dup, err := n.logs.HasRecentSent(ctx, req.TaskID, req.Title, now.Add(-DedupWindow))
	if err != nil {
		return Result{}, fmt.Errorf("dedup lookup: %w", err)
	}
	if dup {
		return n.record(ctx, req, StatusDeduped, nil, "")
	}

	decision := n.policy.EvaluateNotificationSend(provider, req.DryRun, req.ApprovedNetwork, req.Actor)
	if !decision.Allowed {
		return n.record(ctx, req, StatusDenied, &decision, decision.String())
	}

	switch {
	case provider == policy.ProviderOff:
		return n.record(ctx, req, StatusSkipped, nil, "")
	case strings.TrimSpace(n.cfg.Topic) == "":
		return n.record(ctx, req, StatusError, nil, "ntfy topic not configured")
	case req.DryRun:
		return n.record(ctx, req, StatusDryRun, nil, "")
	}

	if n.claimer != nil {
		ok, err := n.claimer.Claim(ctx, dedupKey(req), DedupWindow)
		if err != nil {
			log.Warn().Err(err).Str("component", "notify").Msg("dedup_claim_failed")
		} else if !ok {
			return n.record(ctx, req, StatusDeduped, nil, "")
		}
	}

	msg := Message{
		Topic:    n.cfg.Topic,
		Title:    req.Title,
		Body:     req.Message,
		ClickURL: req.ClickURL,
	}
	if err := n.publisher.Publish(ctx, msg); err != nil {
		// Only sent notifications suppress repeats, so give the key back.
		if r, ok := n.claimer.(interface {
			Release(context.Context, string) error
		}); ok {
			if rerr := r.Release(ctx, dedupKey(req)); rerr != nil {
				log.Warn().Err(rerr).Str("component", "notify").Msg("dedup_release_failed")
			}
		}
		return n.record(ctx, req, StatusError, nil, err.Error())
	}
	return n.record(ctx, req, StatusSent, nil, "")
}

func (n *Notifier) record(ctx context.Context, req Request, status string, d *policy.Decision, errMsg string) (Result, error) {
	rec := Record{
		ID:        uuid.NewString(),
		Provider:  n.cfg.Provider,
		TaskID:    req.TaskID,
		Title:     req.Title,
		Message:   req.Message,
		Status:    status,
		CreatedAt: n.now(),
	}
	if rec.Provider == policy.ProviderNtfy {
		rec.Topic = n.cfg.Topic
	}
	res := Result{Status: status, Provider: rec.Provider, TaskID: req.TaskID, Decision: d, Error: errMsg}

	ev := log.Info()
	if status == StatusError {
		ev = log.Warn()
	}
	ev.Str("component", "notify").
		Str("provider", rec.Provider).
		Str("status", status).
		Str("title", req.Title).
		Str("actor", req.Actor).
		Msg("notification_logged")
	if err := n.sink.Emit(ctx, observe.NotificationEvent(rec.Provider, req.Title, status)); err != nil {
		log.Warn().Err(err).Str("component", "notify").Msg("event_emit_failed")
	}

	if err := n.logs.AppendNotification(ctx, rec); err != nil {
		return res, fmt.Errorf("append notification: %w", err)
	}
	return res, nil
}

func dedupKey(req Request) string {
	if req.TaskID != nil {
		return "task:" + strconv.FormatInt(*req.TaskID, 10)
	}
	return "title:" + req.Title
}
