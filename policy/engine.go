package policy

import (
	"fmt"
	"sort"

	"github.com/PipeOpsHQ/opsbrain/types"
)

// Notification providers and actors recognised by EvaluateNotificationSend.
const (
	ProviderOff  = "off"
	ProviderNtfy = "ntfy"

	// ActorAlertsTest may always perform a live send so an operator can
	// verify delivery by hand.
	ActorAlertsTest = "alerts_test"
)

// ToolRule is the static policy attached to a tool name.
type ToolRule struct {
	Risk             types.Risk `json:"risk"`
	RequiresApproval bool       `json:"requiresApproval"`
}

// DefaultToolRules is the built-in tool table.
func DefaultToolRules() map[string]ToolRule {
	return map[string]ToolRule{
		"files.scan":     {Risk: types.RiskLow},
		"email.fetch":    {Risk: types.RiskLow},
		"news.headlines": {Risk: types.RiskLow},
		"ops.summary":    {Risk: types.RiskLow},
		"task.create":    {Risk: types.RiskMedium, RequiresApproval: true},
		"notify.send":    {Risk: types.RiskHigh, RequiresApproval: true},
	}
}

// Config configures an Engine.
type Config struct {
	// ScanRoots is the comma-separated allow-list of scan roots.
	ScanRoots string
	// Tools overrides the built-in tool table when non-nil.
	Tools map[string]ToolRule
}

// Engine evaluates policy. It is immutable after construction and safe for
// concurrent use.
type Engine struct {
	roots []string
	tools map[string]ToolRule
}

// NewEngine builds an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	rules := cfg.Tools
	if rules == nil {
		rules = DefaultToolRules()
	}
	copied := make(map[string]ToolRule, len(rules))
	for name, rule := range rules {
		copied[name] = rule
	}
	return &Engine{
		roots: ParseRoots(cfg.ScanRoots),
		tools: copied,
	}
}

// Roots returns the expanded scan allow-list.
func (e *Engine) Roots() []string {
	return append([]string(nil), e.roots...)
}

// ToolRule returns the rule for name.
func (e *Engine) ToolRule(name string) (ToolRule, bool) {
	rule, ok := e.tools[name]
	return rule, ok
}

// ToolNames lists the tools the engine knows about, sorted.
func (e *Engine) ToolNames() []string {
	out := make([]string, 0, len(e.tools))
	for name := range e.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CanRunUnattended reports whether name may execute without a human approval.
func (e *Engine) CanRunUnattended(name string) bool {
	return e.EvaluateToolExecution(name, false).Allowed
}

// EvaluateFileScan allows a scan only when every path resolves under one of
// the allow-listed roots.
func (e *Engine) EvaluateFileScan(paths []string) Decision {
	if len(paths) == 0 {
		return Deny(CodeScanPathsMissing, "No scan paths provided.", types.RiskLow)
	}
	for _, raw := range paths {
		target := ExpandPath(raw)
		contained := false
		for _, root := range e.roots {
			if isUnder(target, root) {
				contained = true
				break
			}
		}
		if !contained {
			return Deny(CodeScanPathDenied, fmt.Sprintf("Path not allowed: %s", target), types.RiskMedium)
		}
	}
	return Allow("scan allowed", types.RiskLow)
}

// EvaluateToolExecution consults the tool table.
func (e *Engine) EvaluateToolExecution(toolName string, approved bool) Decision {
	rule, ok := e.tools[toolName]
	if !ok {
		return Deny(CodeToolDenied, fmt.Sprintf("Tool not allowed: %s", toolName), types.RiskHigh)
	}
	if rule.RequiresApproval && !approved {
		return Deny(CodeToolApprovalRequired, fmt.Sprintf("Approval required for %s", toolName), rule.Risk)
	}
	return Allow("tool allowed", rule.Risk)
}

// EvaluateNotificationSend gates outbound notifications.
func (e *Engine) EvaluateNotificationSend(provider string, dryRun, approvedNetwork bool, actor string) Decision {
	if provider == ProviderOff {
		return Allow("notifications disabled", types.RiskLow)
	}
	if provider != ProviderNtfy {
		return Deny(CodeNotifyProviderDenied, fmt.Sprintf("Provider not allowed: %s", provider), types.RiskMedium)
	}
	if !dryRun && actor == ActorAlertsTest {
		return Allow("alerts test allowed", types.RiskMedium)
	}
	if !dryRun && !approvedNetwork {
		return Deny(CodeNotifyApprovalRequired, "Notification send requires approval", types.RiskHigh)
	}
	return Allow("notification allowed", types.RiskMedium)
}
