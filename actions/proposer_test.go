package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PipeOpsHQ/opsbrain/tools"
)

func TestKeywordProposer(t *testing.T) {
	p := NewKeywordProposer()

	tests := []struct {
		text string
		want []string
	}{
		{"hello there", nil},
		{"What's my STATUS?", []string{tools.OpsSummary}},
		{"scan my desktop", []string{tools.FilesScan}},
		{"please sync inbox", []string{tools.EmailFetch}},
		{"check my email", nil},
		{"latest news headlines", []string{tools.NewsHeadlines}},
		{"alert me", []string{tools.NotifySend}},
		{"new assignment posted", []string{tools.TaskCreate}},
		{"summary, scan files, email sync, news, notify and add a task", []string{
			tools.OpsSummary, tools.FilesScan, tools.EmailFetch, tools.NewsHeadlines, tools.NotifySend, tools.TaskCreate,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			var got []string
			for _, call := range p.Propose(tt.text) {
				got = append(got, call.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeywordProposerInputs(t *testing.T) {
	calls := NewKeywordProposer().Propose("notify me about the task")
	if assert.Len(t, calls, 2) {
		assert.JSONEq(t, `{"title":"Test Alert","message":"Notification requested"}`, string(calls[0].Input))
		assert.JSONEq(t, `{"title":"New task from chat"}`, string(calls[1].Input))
	}
	calls = NewKeywordProposer().Propose("summary")
	if assert.Len(t, calls, 1) {
		assert.JSONEq(t, `{}`, string(calls[0].Input))
	}
}
