// Package ledger records every proposed tool invocation and its path to a
// terminal outcome.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusProposed Status = "proposed"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusError    Status = "error"
)

// Actors recorded on transitions.
const (
	ActorUser       = "user"
	ActorAutomation = "automation"
	ActorAuto       = "auto"
)

var transitions = map[Status][]Status{
	StatusProposed: {StatusApproved, StatusRejected},
	StatusApproved: {StatusExecuted, StatusError},
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusError
}

func (s Status) Valid() bool {
	switch s {
	case StatusProposed, StatusApproved, StatusRejected, StatusExecuted, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ToolRun struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// New returns a proposed run with a fresh id. Input is kept verbatim; it is
// validated only when the run is approved.
func New(sessionID, messageID, toolName string, input json.RawMessage, now time.Time) ToolRun {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	now = now.UTC()
	return ToolRun{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		MessageID: messageID,
		ToolName:  toolName,
		Input:     append(json.RawMessage(nil), input...),
		Status:    StatusProposed,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the run to status to and advances UpdatedAt.
func (r *ToolRun) Transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		if to == StatusApproved || to == StatusRejected {
			return fmt.Errorf("%w: run %s is %s", ErrNotProposed, r.ID, r.Status)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	now = now.UTC()
	if !now.After(r.UpdatedAt) {
		now = r.UpdatedAt.Add(time.Nanosecond)
	}
	r.UpdatedAt = now
	return nil
}

// Succeed records a result on an approved run.
func (r *ToolRun) Succeed(result json.RawMessage, now time.Time) error {
	if err := r.Transition(StatusExecuted, now); err != nil {
		return err
	}
	r.Result = append(json.RawMessage(nil), result...)
	r.Error = ""
	return nil
}

// Fail records an error message on an approved run.
func (r *ToolRun) Fail(msg string, now time.Time) error {
	if err := r.Transition(StatusError, now); err != nil {
		return err
	}
	r.Result = nil
	r.Error = msg
	return nil
}
