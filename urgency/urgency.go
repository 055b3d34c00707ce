// Package urgency ranks task-like items into a single "what next" answer.
package urgency

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PipeOpsHQ/opsbrain/tasks"
)

type Bucket string

const (
	BucketCritical Bucket = "critical"
	BucketToday    Bucket = "today"
	BucketTomorrow Bucket = "tomorrow"
	BucketWeek     Bucket = "week"
	BucketLater    Bucket = "later"
)

const (
	SourceManual   = "manual"
	SourceExternal = "external"
)

// BucketFor classifies a due time relative to now using UTC calendar days.
func BucketFor(due *time.Time, now time.Time) Bucket {
	if due == nil {
		return BucketLater
	}
	d := due.UTC()
	n := now.UTC()
	if d.Before(n) {
		return BucketCritical
	}
	days := calendarDays(n, d)
	switch {
	case days == 0:
		return BucketToday
	case days == 1:
		return BucketTomorrow
	case days <= 7:
		return BucketWeek
	default:
		return BucketLater
	}
}

func calendarDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func BucketRank(b Bucket) int {
	switch b {
	case BucketCritical:
		return 0
	case BucketToday:
		return 1
	case BucketTomorrow:
		return 2
	case BucketWeek:
		return 3
	case BucketLater:
		return 4
	}
	return 9
}

// PriorityRank orders priorities; "urgent" is an alias of "critical".
func PriorityRank(priority string) int {
	switch strings.ToLower(priority) {
	case "critical", "urgent":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	}
	return 9
}

func Reason(b Bucket, due *time.Time, priority string) string {
	switch b {
	case BucketCritical:
		return "Overdue; immediate attention"
	case BucketToday:
		return "Due today; keep it moving"
	case BucketTomorrow:
		return "Due tomorrow; short runway"
	case BucketWeek:
		return "Due this week; plan ahead"
	}
	if due == nil {
		return "No due date; lower urgency"
	}
	if priority == "" {
		priority = "normal"
	}
	return fmt.Sprintf("Due soon; priority %s", priority)
}

type Item struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Source   string     `json:"source"`
	DueAt    *time.Time `json:"due_at"`
	Urgency  Bucket     `json:"urgency"`
	Priority string     `json:"-"`
	Reason   string     `json:"reason"`
}

type Result struct {
	Next       *Item  `json:"next"`
	Alternates []Item `json:"alternates"`
}

// Rank fills bucket and reason on every item and returns the top item plus
// up to two alternates.
func Rank(items []Item, now time.Time) Result {
	if len(items) == 0 {
		return Result{Alternates: []Item{}}
	}
	ranked := make([]Item, len(items))
	for i, it := range items {
		if it.Priority == "" {
			it.Priority = "low"
		}
		it.Urgency = BucketFor(it.DueAt, now)
		it.Reason = Reason(it.Urgency, it.DueAt, it.Priority)
		ranked[i] = it
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ra, rb := BucketRank(a.Urgency), BucketRank(b.Urgency); ra != rb {
			return ra < rb
		}
		if c := compareDue(a.DueAt, b.DueAt); c != 0 {
			return c < 0
		}
		return PriorityRank(a.Priority) < PriorityRank(b.Priority)
	})
	next := ranked[0]
	end := len(ranked)
	if end > 3 {
		end = 3
	}
	return Result{Next: &next, Alternates: append([]Item{}, ranked[1:end]...)}
}

// compareDue sorts nil due dates after every concrete one.
func compareDue(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}

// Source supplies the task-like records to rank.
type Source interface {
	ListTasks(ctx context.Context) ([]tasks.Task, error)
	ListExternal(ctx context.Context) ([]tasks.ExternalTask, error)
}

// WhatsNext ranks manual tasks (fixed priority low) together with external
// tasks (their own priority).
func WhatsNext(ctx context.Context, src Source, now time.Time) (Result, error) {
	manual, err := src.ListTasks(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list tasks: %w", err)
	}
	external, err := src.ListExternal(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list external tasks: %w", err)
	}
	items := make([]Item, 0, len(manual)+len(external))
	for _, t := range manual {
		items = append(items, Item{
			ID:       fmt.Sprintf("task:%d", t.ID),
			Title:    t.Title,
			Source:   SourceManual,
			DueAt:    t.DueDate,
			Priority: "low",
		})
	}
	for _, t := range external {
		items = append(items, Item{
			ID:       fmt.Sprintf("external:%d", t.ID),
			Title:    t.Title,
			Source:   SourceExternal,
			DueAt:    t.DueDate,
			Priority: t.Priority,
		})
	}
	return Rank(items, now), nil
}

// Score derives a priority for an externally sourced task from its due
// time. It is used when an import does not carry a priority of its own.
func Score(due *time.Time, now time.Time) (float64, string) {
	if due == nil {
		return 0.1, "low"
	}
	hours := due.Sub(now).Hours()
	switch {
	case hours < 0:
		return 1.0, "critical"
	case hours <= 24:
		return 0.9, "high"
	case hours <= 72:
		return 0.7, "high"
	case hours <= 168:
		return 0.5, "medium"
	}
	return 0.2, "low"
}
