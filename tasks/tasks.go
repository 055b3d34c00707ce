// Package tasks holds the task records that automation jobs create and the
// urgency ranker reads.
package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/PipeOpsHQ/opsbrain/types"
)

const (
	StatusPending      = "pending"
	StatusNotSubmitted = "not_submitted"
)

// Candidate is what a job executor proposes as a task.
type Candidate = types.TaskCandidate

// Task is a manually or automatically created task. Course doubles as the
// source tag when a task comes from an upsert.
type Task struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	Course    string     `json:"course,omitempty"`
	URL       string     `json:"url,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// ExternalTask comes from an outside system and carries its own priority.
type ExternalTask struct {
	ID       int64      `json:"id"`
	Title    string     `json:"title"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Course   string     `json:"course,omitempty"`
	URL      string     `json:"url,omitempty"`
	Status   string     `json:"status"`
	Priority string     `json:"priority"`
	Source   string     `json:"source"`
}

// Counts is the total/overdue/due-soon breakdown of one table.
type Counts struct {
	Total   int `json:"total"`
	Overdue int `json:"overdue"`
	Due24h  int `json:"due_24h"`
}

type Upserter interface {
	// Upsert inserts candidates not already present on the exact
	// (title, due date, url) triple and returns how many were created.
	Upsert(ctx context.Context, items []Candidate, source string) (int, error)
}

type Store interface {
	Upserter
	CreateTask(ctx context.Context, task Task) (Task, error)
	ListTasks(ctx context.Context) ([]Task, error)
	SaveExternal(ctx context.Context, task ExternalTask) (ExternalTask, error)
	ListExternal(ctx context.Context) ([]ExternalTask, error)
}

// Normalize trims a candidate and reports whether it should be kept.
func Normalize(c Candidate) (Candidate, bool) {
	c.Title = strings.TrimSpace(c.Title)
	c.URL = strings.TrimSpace(c.URL)
	if c.DueDate != nil {
		due := c.DueDate.UTC()
		c.DueDate = &due
	}
	return c, c.Title != ""
}

// SameDue compares optional due dates.
func SameDue(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// CountDue reports total, overdue and due-within-24h for due dates.
func CountDue(dues []*time.Time, now time.Time) Counts {
	soon := now.Add(24 * time.Hour)
	c := Counts{Total: len(dues)}
	for _, due := range dues {
		if due == nil {
			continue
		}
		switch {
		case due.Before(now):
			c.Overdue++
		case !due.After(soon):
			c.Due24h++
		}
	}
	return c
}
