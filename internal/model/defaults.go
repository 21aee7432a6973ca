package model

import "time"

// Default values for engine configuration.
const (
	DefaultBufferSize      = 1000
	DefaultFlushInterval   = 30 * time.Second
	DefaultRetentionDays   = 7
	DefaultAlertQueueSize  = 256
	DefaultAlertWorkers    = 2
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultKeepLast        = 48

	// MemoryCutoff is how long metrics stay in memory before a flush prunes them.
	MemoryCutoff = 24 * time.Hour
	// RecentLimit bounds Snapshot.RecentMetrics.
	RecentLimit = 100
	// OperationListLimit bounds the slowest/fastest operation lists.
	OperationListLimit = 5
)

// DefaultThresholds returns the built-in warning/critical levels.
func DefaultThresholds() map[MetricType]Threshold {
	return map[MetricType]Threshold{
		ResponseTime:  {Warning: 1000, Critical: 3000},
		MemoryUsage:   {Warning: 512, Critical: 1024},
		CPUUsage:      {Warning: 70, Critical: 90},
		DatabaseQuery: {Warning: 500, Critical: 2000},
		APICall:       {Warning: 1000, Critical: 5000},
		PageLoad:      {Warning: 2000, Critical: 5000},
		RenderTime:    {Warning: 16, Critical: 50},
	}
}

// DefaultConfig returns a fully populated configuration: enabled, every
// metric type on, alerts to the log channel, storage off.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		BufferSize:     DefaultBufferSize,
		FlushInterval:  DefaultFlushInterval,
		EnabledMetrics: AllMetricTypes(),
		Thresholds:     DefaultThresholds(),
		Alerting: AlertingConfig{
			Enabled:         true,
			Channels:        []string{"log"},
			QueueSize:       DefaultAlertQueueSize,
			Workers:         DefaultAlertWorkers,
			DeliveryTimeout: DefaultDeliveryTimeout,
		},
		Storage: StorageConfig{
			RetentionDays: DefaultRetentionDays,
			Compression:   true,
			KeepLast:      DefaultKeepLast,
		},
		TrendMode: TrendHourly,
	}
}
