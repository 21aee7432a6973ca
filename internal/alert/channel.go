package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/events"
	"github.com/tinytelemetry/pulse/internal/model"
)

// Channel ids accepted in alerting.channels.
const (
	ChannelLog          = "log"
	ChannelNotification = "notification"
	ChannelWebhook      = "webhook"
	ChannelSlack        = "slack"
)

var (
	// ErrUnknownChannel is returned for channel ids outside the known set.
	ErrUnknownChannel = errors.New("alert: unknown channel")
	// ErrMissingURL is returned when an HTTP channel has no target URL.
	ErrMissingURL = errors.New("alert: channel url not configured")
)

// Channel delivers alerts to one destination.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, a model.Alert) error
}

// Publisher is the part of the event bus the notification channel needs.
type Publisher interface {
	Publish(kind events.Kind, data any)
}

// ChannelOptions carries the dependencies channel constructors need.
type ChannelOptions struct {
	Logger          *zap.Logger
	Bus             Publisher
	WebhookURL      string
	SlackWebhookURL string
	HTTPClient      *http.Client
}

// NewChannels builds channels for the given ids, in order.
func NewChannels(ids []string, opts ChannelOptions) ([]Channel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	out := make([]Channel, 0, len(ids))
	for _, id := range ids {
		switch strings.TrimSpace(id) {
		case ChannelLog:
			out = append(out, NewLogChannel(logger))
		case ChannelNotification:
			if opts.Bus == nil {
				return nil, fmt.Errorf("alert: notification channel requires an event bus")
			}
			out = append(out, NewNotificationChannel(opts.Bus))
		case ChannelWebhook:
			if opts.WebhookURL == "" {
				return nil, fmt.Errorf("%w: %s", ErrMissingURL, id)
			}
			out = append(out, NewWebhookChannel(opts.WebhookURL, client))
		case ChannelSlack:
			if opts.SlackWebhookURL == "" {
				return nil, fmt.Errorf("%w: %s", ErrMissingURL, id)
			}
			out = append(out, NewSlackChannel(opts.SlackWebhookURL, client))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, id)
		}
	}
	return out, nil
}

// LogChannel writes alerts to the structured log.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return ChannelLog }

func (c *LogChannel) Deliver(_ context.Context, a model.Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", a.ID),
		zap.String("severity", string(a.Severity)),
		zap.String("metric_type", string(a.Metric.Type)),
		zap.String("metric", a.Metric.Name),
		zap.Float64("value", a.Metric.Value),
		zap.Float64("threshold", a.Threshold),
	}
	switch a.Severity {
	case model.SeverityCritical:
		c.logger.Error(a.Message, fields...)
	case model.SeverityWarning:
		c.logger.Warn(a.Message, fields...)
	default:
		c.logger.Info(a.Message, fields...)
	}
	return nil
}

// NotificationChannel forwards alerts onto the event bus for host UIs.
type NotificationChannel struct {
	bus Publisher
}

func NewNotificationChannel(bus Publisher) *NotificationChannel {
	return &NotificationChannel{bus: bus}
}

func (c *NotificationChannel) Name() string { return ChannelNotification }

func (c *NotificationChannel) Deliver(_ context.Context, a model.Alert) error {
	c.bus.Publish(events.NotificationForward, a)
	return nil
}

// WebhookChannel POSTs the alert as JSON.
type WebhookChannel struct {
	url    string
	client *http.Client
}

func NewWebhookChannel(url string, client *http.Client) *WebhookChannel {
	return &WebhookChannel{url: url, client: client}
}

func (c *WebhookChannel) Name() string { return ChannelWebhook }

func (c *WebhookChannel) Deliver(ctx context.Context, a model.Alert) error {
	return postJSON(ctx, c.client, c.url, a)
}

// SlackChannel posts a text message to a Slack incoming webhook.
type SlackChannel struct {
	url    string
	client *http.Client
}

func NewSlackChannel(url string, client *http.Client) *SlackChannel {
	return &SlackChannel{url: url, client: client}
}

func (c *SlackChannel) Name() string { return ChannelSlack }

type slackPayload struct {
	Text string `json:"text"`
}

func (c *SlackChannel) Deliver(ctx context.Context, a model.Alert) error {
	text := fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Message)
	return postJSON(ctx, c.client, c.url, slackPayload{Text: text})
}

// postJSON retries transport errors and 5xx responses with exponential
// backoff until ctx expires. 4xx responses are not retried.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alert: encode payload: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("alert: %s returned %s", url, resp.Status)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("alert: %s returned %s", url, resp.Status))
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, 3), ctx))
}
