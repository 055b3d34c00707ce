package observe

import "time"

// ToolRunEvent describes a ledger status change.
func ToolRunEvent(runID, sessionID, toolName, from, to, errMsg string) Event {
	e := Event{
		Kind:      KindToolRun,
		Name:      to,
		RunID:     runID,
		SessionID: sessionID,
		ToolName:  toolName,
		Error:     errMsg,
		Attributes: map[string]any{
			"from": from,
			"to":   to,
		},
	}
	switch to {
	case "error":
		e.Status = StatusFailed
	case "rejected":
		e.Status = StatusSkipped
	case "proposed", "approved":
		e.Status = StatusStarted
	default:
		e.Status = StatusCompleted
	}
	e.Normalize()
	return e
}

// JobEvent describes one scheduler job run.
func JobEvent(job, trigger string, started time.Time, duration time.Duration, created int, err error) Event {
	e := Event{
		Timestamp:  started,
		Kind:       KindJob,
		Name:       job,
		Status:     StatusCompleted,
		DurationMs: duration.Milliseconds(),
		Attributes: map[string]any{
			"trigger": trigger,
			"created": created,
		},
	}
	if err != nil {
		e.Status = StatusFailed
		e.Error = err.Error()
	}
	e.Normalize()
	return e
}

// NotificationEvent describes the outcome of a notification attempt.
func NotificationEvent(provider, title, outcome string) Event {
	e := Event{
		Kind:    KindNotification,
		Name:    outcome,
		Message: title,
		Status:  StatusCompleted,
		Attributes: map[string]any{
			"provider": provider,
		},
	}
	switch outcome {
	case "error", "denied":
		e.Status = StatusFailed
	case "deduped", "skipped", "dry_run":
		e.Status = StatusSkipped
	}
	e.Normalize()
	return e
}
