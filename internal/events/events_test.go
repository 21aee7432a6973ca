package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPublishFiltersByKind(t *testing.T) {
	b := New(WithLogger(zaptest.NewLogger(t)))
	var alerts, all []Kind
	b.Subscribe(func(ev Event) { alerts = append(alerts, ev.Kind) }, AlertRaised, AlertResolved)
	b.Subscribe(func(ev Event) { all = append(all, ev.Kind) })

	b.Publish(MetricRecorded, nil)
	b.Publish(AlertRaised, nil)

	assert.Equal(t, []Kind{AlertRaised}, alerts)
	assert.Equal(t, []Kind{MetricRecorded, AlertRaised}, all)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	id := b.Subscribe(func(Event) { calls++ })
	require.True(t, b.Unsubscribe(id))
	require.False(t, b.Unsubscribe(id))
	b.Publish(FlushCompleted, nil)
	assert.Zero(t, calls)
	assert.Zero(t, b.SubscriberCount())
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := New(WithLogger(zaptest.NewLogger(t)))
	got := 0
	b.Subscribe(func(Event) { panic("boom") })
	b.Subscribe(func(Event) { got++ })

	require.NotPanics(t, func() { b.Publish(SessionStarted, "s") })
	assert.Equal(t, 1, got)
}

func TestRecentHistory(t *testing.T) {
	b := New(WithHistory(2))
	b.Publish(TimerStarted, 1)
	b.Publish(TimerEnded, 2)
	b.Publish(CounterIncremented, 3)

	recent := b.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, TimerEnded, recent[0].Kind)
	assert.Equal(t, CounterIncremented, recent[1].Kind)
	assert.Len(t, b.Recent(1), 1)
}
