package model

import "time"

// TrendMode selects how the analytics engine buckets trend series.
type TrendMode string

const (
	// TrendHourly buckets by calendar date and hour.
	TrendHourly TrendMode = "hourly"
	// TrendHourOfDay folds every day onto 24 hour-of-day buckets.
	TrendHourOfDay TrendMode = "hour-of-day"
)

// Config is the engine configuration. Field tags follow the keys used in
// config files and PULSE_* environment variables.
type Config struct {
	Enabled        bool                     `mapstructure:"enabled" yaml:"enabled"`
	BufferSize     int                      `mapstructure:"buffer-size" yaml:"buffer-size" validate:"gte=1"`
	FlushInterval  time.Duration            `mapstructure:"flush-interval" yaml:"flush-interval" validate:"gte=1ms"`
	EnabledMetrics []MetricType             `mapstructure:"enabled-metrics" yaml:"enabled-metrics" validate:"dive,metric_type"`
	Thresholds     map[MetricType]Threshold `mapstructure:"thresholds" yaml:"thresholds" validate:"dive,keys,metric_type,endkeys"`
	Alerting       AlertingConfig           `mapstructure:"alerting" yaml:"alerting"`
	Storage        StorageConfig            `mapstructure:"storage" yaml:"storage"`
	TrendMode      TrendMode                `mapstructure:"trend-mode" yaml:"trend-mode" validate:"omitempty,oneof=hourly hour-of-day"`
}

// AlertingConfig controls alert dispatch.
type AlertingConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Channels        []string      `mapstructure:"channels" yaml:"channels" validate:"dive,oneof=log notification webhook slack"`
	WebhookURL      string        `mapstructure:"webhook-url" yaml:"webhook-url" validate:"omitempty,url"`
	SlackWebhookURL string        `mapstructure:"slack-webhook-url" yaml:"slack-webhook-url" validate:"omitempty,url"`
	QueueSize       int           `mapstructure:"queue-size" yaml:"queue-size" validate:"gte=1"`
	Workers         int           `mapstructure:"workers" yaml:"workers" validate:"gte=1"`
	DeliveryTimeout time.Duration `mapstructure:"delivery-timeout" yaml:"delivery-timeout" validate:"gte=0"`
	// RateLimit caps deliveries per second per channel. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate-limit" yaml:"rate-limit" validate:"gte=0"`
	Burst     int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// StorageConfig controls archiving of flushed metrics.
type StorageConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	RetentionDays  int    `mapstructure:"retention-days" yaml:"retention-days" validate:"gte=0"`
	Compression    bool   `mapstructure:"compression" yaml:"compression"`
	Dir            string `mapstructure:"dir" yaml:"dir" validate:"required_if=Enabled true"`
	KeepLast       int    `mapstructure:"keep-last" yaml:"keep-last" validate:"gte=0"`
	BucketURL      string `mapstructure:"bucket-url" yaml:"bucket-url"`
	S3Endpoint     string `mapstructure:"s3-endpoint" yaml:"s3-endpoint"`
	S3Region       string `mapstructure:"s3-region" yaml:"s3-region"`
	S3AccessKey    string `mapstructure:"s3-access-key" yaml:"s3-access-key"`
	S3SecretKey    string `mapstructure:"s3-secret-key" yaml:"-"`
	S3SessionToken string `mapstructure:"s3-session-token" yaml:"-"`
	S3UseSSL       bool   `mapstructure:"s3-use-ssl" yaml:"s3-use-ssl"`
}

// MetricEnabled reports whether typ is in EnabledMetrics.
func (c Config) MetricEnabled(typ MetricType) bool {
	for _, t := range c.EnabledMetrics {
		if t == typ {
			return true
		}
	}
	return false
}

// ThresholdFor returns the configured threshold for typ, if any.
func (c Config) ThresholdFor(typ MetricType) (Threshold, bool) {
	th, ok := c.Thresholds[typ]
	return th, ok
}
