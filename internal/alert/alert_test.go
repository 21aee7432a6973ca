package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
)

var th = model.Threshold{Warning: 1000, Critical: 3000}

func metric(v float64) model.Metric {
	return model.Metric{ID: "m1", Type: model.ResponseTime, Name: "checkout", Value: v, Unit: "ms"}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		value float64
		sev   model.Severity
		limit float64
		ok    bool
	}{
		{999, "", 0, false},
		{1000, model.SeverityWarning, 1000, true},
		{2999.5, model.SeverityWarning, 1000, true},
		{3000, model.SeverityCritical, 3000, true},
		{3500, model.SeverityCritical, 3000, true},
	}
	for _, tc := range cases {
		sev, limit, ok := Evaluate(metric(tc.value), th)
		assert.Equal(t, tc.ok, ok, "value %v", tc.value)
		assert.Equal(t, tc.sev, sev, "value %v", tc.value)
		assert.Equal(t, tc.limit, limit, "value %v", tc.value)
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a, ok := Build("a1", metric(3500), th, now)
	require.True(t, ok)
	assert.Equal(t, "checkout exceeded critical threshold: 3500ms (threshold: 3000ms)", a.Message)
	assert.Equal(t, model.SeverityCritical, a.Severity)
	assert.Equal(t, now, a.Timestamp)
	assert.False(t, a.Resolved)

	_, ok = Build("a2", metric(10), th, now)
	assert.False(t, ok)
}

func TestNewChannels(t *testing.T) {
	bus := events.New()
	chs, err := NewChannels([]string{"log", "notification"}, ChannelOptions{Bus: bus})
	require.NoError(t, err)
	require.Len(t, chs, 2)
	assert.Equal(t, ChannelLog, chs[0].Name())
	assert.Equal(t, ChannelNotification, chs[1].Name())

	_, err = NewChannels([]string{"pager"}, ChannelOptions{})
	assert.ErrorIs(t, err, ErrUnknownChannel)

	_, err = NewChannels([]string{"webhook"}, ChannelOptions{})
	assert.ErrorIs(t, err, ErrMissingURL)
}

func TestNotificationChannelForwards(t *testing.T) {
	bus := events.New()
	var got []model.Alert
	bus.Subscribe(func(ev events.Event) { got = append(got, ev.Data.(model.Alert)) }, events.NotificationForward)

	a, _ := Build("a1", metric(1200), th, time.Now())
	require.NoError(t, NewNotificationChannel(bus).Deliver(context.Background(), a))
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var body model.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a, _ := Build("a1", metric(3100), th, time.Now())
	ch := NewWebhookChannel(srv.URL, srv.Client())
	require.NoError(t, ch.Deliver(context.Background(), a))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "a1", body.ID)
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookChannel(srv.URL, srv.Client()).Deliver(context.Background(), model.Alert{ID: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSlackPayload(t *testing.T) {
	var payload slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	a, _ := Build("a1", metric(1500), th, time.Now())
	require.NoError(t, NewSlackChannel(srv.URL, srv.Client()).Deliver(context.Background(), a))
	assert.Equal(t, "[WARNING] checkout exceeded warning threshold: 1500ms (threshold: 1000ms)", payload.Text)
}

type recordingChannel struct {
	name string
	mu   sync.Mutex
	got  []string
	err  error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Deliver(_ context.Context, a model.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, a.ID)
	return c.err
}

func (c *recordingChannel) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

type panicChannel struct{}

func (panicChannel) Name() string { return "panic" }
func (panicChannel) Deliver(context.Context, model.Alert) error {
	panic("channel exploded")
}

func TestDispatcherIsolatesChannelFailures(t *testing.T) {
	failing := &recordingChannel{name: "failing", err: errors.New("down")}
	ok := &recordingChannel{name: "ok"}
	d := NewDispatcher([]Channel{panicChannel{}, failing, ok}, DispatcherConfig{QueueSize: 8, Workers: 2}, zaptest.NewLogger(t))

	require.True(t, d.Dispatch(model.Alert{ID: "a1"}))
	require.True(t, d.Dispatch(model.Alert{ID: "a2"}))
	d.Stop()

	assert.ElementsMatch(t, []string{"a1", "a2"}, ok.ids())
	assert.ElementsMatch(t, []string{"a1", "a2"}, failing.ids())
	assert.Equal(t, int64(2), d.Delivered())
	assert.False(t, d.Dispatch(model.Alert{ID: "late"}))
}

type blockingChannel struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingChannel) Name() string { return "blocking" }

func (c *blockingChannel) Deliver(context.Context, model.Alert) error {
	c.once.Do(func() { close(c.started) })
	<-c.release
	return nil
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	ch := &blockingChannel{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher([]Channel{ch}, DispatcherConfig{QueueSize: 1, Workers: 1}, zaptest.NewLogger(t))

	require.True(t, d.Dispatch(model.Alert{ID: "a1"}))
	<-ch.started
	require.True(t, d.Dispatch(model.Alert{ID: "a2"}))
	assert.False(t, d.Dispatch(model.Alert{ID: "a3"}))
	assert.Equal(t, int64(1), d.Dropped())

	close(ch.release)
	d.Stop()
	assert.Equal(t, int64(2), d.Delivered())
}

func TestDispatcherTimeoutBoundsDelivery(t *testing.T) {
	slow := channelFunc(func(ctx context.Context, _ model.Alert) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewDispatcher([]Channel{slow}, DispatcherConfig{Workers: 1, Timeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	require.True(t, d.Dispatch(model.Alert{ID: "a1"}))

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; delivery timeout not applied")
	}
}

type channelFunc func(context.Context, model.Alert) error

func (f channelFunc) Name() string { return "func" }
func (f channelFunc) Deliver(ctx context.Context, a model.Alert) error {
	return f(ctx, a)
}
