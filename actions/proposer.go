// Package actions turns user requests into recorded tool runs and drives
// them through approval and execution.
package actions

import (
	"encoding/json"
	"strings"

	"github.com/PipeOpsHQ/opsbrain/tools"
	"github.com/PipeOpsHQ/opsbrain/types"
)

// Proposer maps free text to candidate tool calls. It never executes
// anything.
type Proposer interface {
	Propose(text string) []types.ToolCall
}

type keywordRule struct {
	tool     string
	keywords []string
	input    string
}

// KeywordProposer matches lowercase substrings. Rules are checked in order
// and each tool is proposed at most once per message.
type KeywordProposer struct {
	rules []keywordRule
}

func NewKeywordProposer() *KeywordProposer {
	return &KeywordProposer{rules: []keywordRule{
		{tool: tools.OpsSummary, keywords: []string{"summary", "status"}},
		{tool: tools.FilesScan, keywords: []string{"scan", "folder", "desktop", "files"}},
		{tool: tools.EmailFetch, keywords: []string{"sync inbox", "sync gmail", "email sync"}},
		{tool: tools.NewsHeadlines, keywords: []string{"headlines", "news"}},
		{tool: tools.NotifySend, keywords: []string{"notify", "alert"}, input: `{"title":"Test Alert","message":"Notification requested"}`},
		{tool: tools.TaskCreate, keywords: []string{"task", "assignment"}, input: `{"title":"New task from chat"}`},
	}}
}

func (p *KeywordProposer) Propose(text string) []types.ToolCall {
	lowered := strings.ToLower(text)
	var out []types.ToolCall
	for _, rule := range p.rules {
		if !containsAny(lowered, rule.keywords) {
			continue
		}
		input := rule.input
		if input == "" {
			input = `{}`
		}
		out = append(out, types.ToolCall{Name: rule.tool, Input: json.RawMessage(input)})
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
