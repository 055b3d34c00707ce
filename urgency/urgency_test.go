package urgency

import (
	"context"
	"testing"
	"time"

	"github.com/PipeOpsHQ/opsbrain/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 4, 14, 15, 30, 0, 0, time.UTC)

func at(t time.Time) *time.Time { return &t }

func TestBucketForBoundaries(t *testing.T) {
	midnight := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		due  *time.Time
		want Bucket
	}{
		{"nil", nil, BucketLater},
		{"one second ago", at(now.Add(-time.Second)), BucketCritical},
		{"now", at(now), BucketToday},
		{"end of today", at(midnight.Add(-time.Nanosecond)), BucketToday},
		{"next midnight", at(midnight), BucketTomorrow},
		{"in three days", at(now.Add(72 * time.Hour)), BucketWeek},
		{"in seven days", at(now.Add(7 * 24 * time.Hour)), BucketWeek},
		{"in ten days", at(now.Add(10 * 24 * time.Hour)), BucketLater},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BucketFor(tt.due, now))
		})
	}
}

func TestBucketForNonUTCInput(t *testing.T) {
	// 01:00 at UTC+2 on the 15th is 23:00 UTC on the 14th.
	due := time.Date(2026, 4, 15, 1, 0, 0, 0, time.FixedZone("plus2", 2*3600))
	assert.Equal(t, BucketToday, BucketFor(&due, now))
}

func TestRanks(t *testing.T) {
	assert.Less(t, BucketRank(BucketCritical), BucketRank(BucketToday))
	assert.Less(t, BucketRank(BucketWeek), BucketRank(BucketLater))
	assert.Equal(t, PriorityRank("urgent"), PriorityRank("critical"))
	assert.Equal(t, 9, PriorityRank("whenever"))
	assert.Less(t, PriorityRank("high"), PriorityRank("low"))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "Overdue; immediate attention", Reason(BucketCritical, at(now), "low"))
	assert.Equal(t, "No due date; lower urgency", Reason(BucketLater, nil, "low"))
	assert.Equal(t, "Due soon; priority high", Reason(BucketLater, at(now.Add(30*24*time.Hour)), "high"))
	assert.Equal(t, "Due soon; priority normal", Reason(BucketLater, at(now.Add(30*24*time.Hour)), ""))
}

func TestRankEmpty(t *testing.T) {
	res := Rank(nil, now)
	assert.Nil(t, res.Next)
	assert.NotNil(t, res.Alternates)
	assert.Empty(t, res.Alternates)
}

func TestRankOrdering(t *testing.T) {
	items := []Item{
		{ID: "a", DueAt: at(now.Add(2 * time.Hour)), Priority: "low"},
		{ID: "b", DueAt: at(now.Add(-time.Hour)), Priority: "low"},
		{ID: "c", Priority: "critical"},
		{ID: "d", DueAt: at(now.Add(2 * time.Hour)), Priority: "high"},
	}
	res := Rank(items, now)
	require.NotNil(t, res.Next)
	assert.Equal(t, "b", res.Next.ID)
	require.Len(t, res.Alternates, 2)
	assert.Equal(t, "d", res.Alternates[0].ID, "same due, higher priority first")
	assert.Equal(t, "a", res.Alternates[1].ID)
	assert.Equal(t, BucketToday, res.Alternates[0].Urgency)
}

type fakeSource struct {
	manual   []tasks.Task
	external []tasks.ExternalTask
}

func (f fakeSource) ListTasks(context.Context) ([]tasks.Task, error) { return f.manual, nil }
func (f fakeSource) ListExternal(context.Context) ([]tasks.ExternalTask, error) {
	return f.external, nil
}

func TestWhatsNextOverdueExternalFirst(t *testing.T) {
	src := fakeSource{
		manual:   []tasks.Task{{ID: 1, Title: "A", DueDate: at(now.Add(2 * time.Hour))}},
		external: []tasks.ExternalTask{{ID: 7, Title: "B", DueDate: at(now.Add(-time.Hour)), Priority: "high"}},
	}
	res, err := WhatsNext(context.Background(), src, now)
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, "external:7", res.Next.ID)
	assert.Equal(t, BucketCritical, res.Next.Urgency)
	require.Len(t, res.Alternates, 1)
	assert.Equal(t, "task:1", res.Alternates[0].ID)
	assert.Equal(t, BucketToday, res.Alternates[0].Urgency)
	assert.Equal(t, SourceManual, res.Alternates[0].Source)
}

func TestScore(t *testing.T) {
	_, p := Score(nil, now)
	assert.Equal(t, "low", p)
	_, p = Score(at(now.Add(-time.Minute)), now)
	assert.Equal(t, "critical", p)
	_, p = Score(at(now.Add(48*time.Hour)), now)
	assert.Equal(t, "high", p)
	_, p = Score(at(now.Add(100*time.Hour)), now)
	assert.Equal(t, "medium", p)
}
