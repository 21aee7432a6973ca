package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/pulse/internal/model"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func TestStartAndEnd(t *testing.T) {
	tr := NewTracker()
	s := tr.Start("study", map[string]string{"study": "42"}, nil, t0)
	require.NotEmpty(t, s.ID)
	assert.True(t, s.Open())

	var gotStart, gotEnd time.Time
	collect := func(id string, start, end time.Time) []model.Metric {
		assert.Equal(t, s.ID, id)
		gotStart, gotEnd = start, end
		return []model.Metric{{ID: "m1"}}
	}
	ended, ok := tr.End(s.ID, t0.Add(5*time.Second), collect)
	require.True(t, ok)
	require.NotNil(t, ended.EndTime)
	assert.Equal(t, 5*time.Second, ended.Duration)
	assert.Equal(t, t0, gotStart)
	assert.Equal(t, t0.Add(5*time.Second), gotEnd)
	require.Len(t, ended.Metrics, 1)
	assert.Empty(t, tr.Open())

	again, ok := tr.End(s.ID, t0.Add(time.Hour), collect)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, again.Duration)
}

func TestEndUnknown(t *testing.T) {
	tr := NewTracker()
	_, ok := tr.End("missing", t0, nil)
	assert.False(t, ok)
}

func TestEndWithoutCollectorHasEmptyMetrics(t *testing.T) {
	tr := NewTracker()
	s := tr.Start("x", nil, nil, t0)
	ended, ok := tr.End(s.ID, t0, nil)
	require.True(t, ok)
	assert.NotNil(t, ended.Metrics)
	assert.Empty(t, ended.Metrics)
	assert.Zero(t, ended.Duration)
}

func TestOpenOrderingAndCopies(t *testing.T) {
	tr := NewTracker()
	a := tr.Start("a", map[string]string{"k": "v"}, nil, t0)
	tr.Start("b", nil, nil, t0.Add(time.Second))

	open := tr.Open()
	require.Len(t, open, 2)
	assert.Equal(t, "a", open[0].Name)
	assert.Equal(t, "b", open[1].Name)

	open[0].Tags["k"] = "mutated"
	got, ok := tr.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, "v", got.Tags["k"])

	tr.Clear()
	assert.Zero(t, tr.Len())
	_, ok = tr.Get(a.ID)
	assert.False(t, ok)
}
