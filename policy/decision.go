// Package policy decides which actions may run and under what conditions.
//
// Every decision is a fresh value object: nothing here is persisted and no
// method has side effects beyond reading the filesystem to resolve scan
// paths. Risk is attached to the tool, not the caller, so interactive
// requests and the background runtime share one answer to "may this run
// unattended".
package policy

import (
	"fmt"

	"github.com/PipeOpsHQ/opsbrain/types"
)

// Decision codes. Allowed decisions always carry CodeOK.
const (
	CodeOK                     = "ok"
	CodeScanPathsMissing       = "scan.paths_missing"
	CodeScanPathDenied         = "scan.path_denied"
	CodeToolDenied             = "tool.denied"
	CodeToolApprovalRequired   = "tool.approval_required"
	CodeNotifyProviderDenied   = "notify.provider_denied"
	CodeNotifyApprovalRequired = "notify.approval_required"
)

// Decision is an allow/deny verdict with a machine-readable code.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Code    string     `json:"code"`
	Reason  string     `json:"reason"`
	Risk    types.Risk `json:"risk"`
}

// String renders the decision the way it is stored on ledger records.
func (d Decision) String() string {
	return fmt.Sprintf("%s: %s", d.Code, d.Reason)
}

// Allow is a helper to create an allowing decision.
func Allow(reason string, risk types.Risk) Decision {
	return Decision{Allowed: true, Code: CodeOK, Reason: reason, Risk: risk}
}

// Deny is a helper to create a denying decision.
func Deny(code, reason string, risk types.Risk) Decision {
	return Decision{Allowed: false, Code: code, Reason: reason, Risk: risk}
}

// ViolationError is returned when code that must not run unchecked hits a
// denying decision.
type ViolationError struct {
	Decision Decision
}

func (e *ViolationError) Error() string {
	return e.Decision.String()
}

// Require converts a denying decision into a *ViolationError.
func Require(d Decision) error {
	if d.Allowed {
		return nil
	}
	return &ViolationError{Decision: d}
}
