package types

import (
	"encoding/json"
	"time"
)

// Risk is the tier attached to a tool or a policy decision.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

type ToolDefinition struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Risk             Risk           `json:"risk"`
	RequiresApproval bool           `json:"requiresApproval"`
	Writes           bool           `json:"writes"`
	JSONSchema       map[string]any `json:"jsonSchema,omitempty"`
}

// ToolCall is a candidate invocation produced by the proposer or a scheduler job.
type ToolCall struct {
	Name  string          `json:"tool_name"`
	Input json.RawMessage `json:"input"`
}

// TaskCandidate is what job executors hand to the task upsert collaborator.
type TaskCandidate struct {
	Title   string     `json:"title"`
	DueDate *time.Time `json:"due_date,omitempty"`
	URL     string     `json:"url,omitempty"`
}
