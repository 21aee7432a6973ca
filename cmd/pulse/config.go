package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/pulse/internal/model"
	"github.com/tinytelemetry/pulse/internal/socketrpc"
)

const (
	defaultBindHost             = "127.0.0.1"
	defaultTCPPort              = 4000
	defaultAPIPort              = 3000
	defaultOTLPPort             = 4317
	defaultMuxBufferSize        = DefaultMuxBuffer
	defaultMemorySampleInterval = 30 * time.Second
	defaultLogLevel             = "info"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Telemetry            model.Config  `mapstructure:"telemetry" yaml:"telemetry"`
	LogLevel             string        `mapstructure:"log-level" yaml:"log-level" validate:"oneof=debug info warn error"`
	LogFile              string        `mapstructure:"log-file" yaml:"log-file"`
	Host                 string        `mapstructure:"host" yaml:"host"`
	APIEnabled           bool          `mapstructure:"api-enabled" yaml:"api-enabled"`
	APIPort              int           `mapstructure:"api-port" yaml:"api-port" validate:"gt=0,lte=65535"`
	APIAddr              string        `mapstructure:"api-addr" yaml:"api-addr"`
	TCPEnabled           bool          `mapstructure:"tcp-enabled" yaml:"tcp-enabled"`
	TCPPort              int           `mapstructure:"tcp-port" yaml:"tcp-port" validate:"gt=0,lte=65535"`
	TCPAddr              string        `mapstructure:"tcp-addr" yaml:"tcp-addr"`
	OTLPEnabled          bool          `mapstructure:"otlp-enabled" yaml:"otlp-enabled"`
	OTLPPort             int           `mapstructure:"otlp-port" yaml:"otlp-port" validate:"gt=0,lte=65535"`
	OTLPAddr             string        `mapstructure:"otlp-addr" yaml:"otlp-addr"`
	PrometheusEnabled    bool          `mapstructure:"prometheus-enabled" yaml:"prometheus-enabled"`
	SocketPath           string        `mapstructure:"socket-path" yaml:"socket-path"`
	MemorySampleInterval time.Duration `mapstructure:"memory-sample-interval" yaml:"memory-sample-interval" validate:"gte=0"`
	MuxBufferSize        int           `mapstructure:"mux-buffer-size" yaml:"mux-buffer-size" validate:"gte=0"`
	ConfigPath           string        `mapstructure:"-" yaml:"-"` // not from config file
}

func setDefaults(v *viper.Viper, home string) {
	def := model.DefaultConfig()

	v.SetDefault("telemetry.enabled", def.Enabled)
	v.SetDefault("telemetry.buffer-size", def.BufferSize)
	v.SetDefault("telemetry.flush-interval", def.FlushInterval)
	metrics := make([]string, 0, len(def.EnabledMetrics))
	for _, t := range def.EnabledMetrics {
		metrics = append(metrics, string(t))
	}
	v.SetDefault("telemetry.enabled-metrics", metrics)
	for typ, th := range def.Thresholds {
		v.SetDefault("telemetry.thresholds."+string(typ)+".warning", th.Warning)
		v.SetDefault("telemetry.thresholds."+string(typ)+".critical", th.Critical)
	}
	v.SetDefault("telemetry.trend-mode", string(def.TrendMode))

	v.SetDefault("telemetry.alerting.enabled", def.Alerting.Enabled)
	v.SetDefault("telemetry.alerting.channels", def.Alerting.Channels)
	v.SetDefault("telemetry.alerting.webhook-url", "")
	v.SetDefault("telemetry.alerting.slack-webhook-url", "")
	v.SetDefault("telemetry.alerting.queue-size", def.Alerting.QueueSize)
	v.SetDefault("telemetry.alerting.workers", def.Alerting.Workers)
	v.SetDefault("telemetry.alerting.delivery-timeout", def.Alerting.DeliveryTimeout)
	v.SetDefault("telemetry.alerting.rate-limit", 0.0)
	v.SetDefault("telemetry.alerting.burst", 0)

	v.SetDefault("telemetry.storage.enabled", def.Storage.Enabled)
	v.SetDefault("telemetry.storage.retention-days", def.Storage.RetentionDays)
	v.SetDefault("telemetry.storage.compression", def.Storage.Compression)
	v.SetDefault("telemetry.storage.dir", filepath.Join(home, ".local", "share", "pulse", "archives"))
	v.SetDefault("telemetry.storage.keep-last", def.Storage.KeepLast)
	v.SetDefault("telemetry.storage.bucket-url", "")
	v.SetDefault("telemetry.storage.s3-endpoint", "")
	v.SetDefault("telemetry.storage.s3-region", "")
	v.SetDefault("telemetry.storage.s3-access-key", "")
	v.SetDefault("telemetry.storage.s3-secret-key", "")
	v.SetDefault("telemetry.storage.s3-session-token", "")
	v.SetDefault("telemetry.storage.s3-use-ssl", true)

	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-file", filepath.Join(home, ".local", "state", "pulse", "pulse.log"))
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("otlp-enabled", false)
	v.SetDefault("otlp-port", defaultOTLPPort)
	v.SetDefault("prometheus-enabled", true)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("memory-sample-interval", defaultMemorySampleInterval)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v, home)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "pulse", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
		// A missing explicit --config is an error; a missing default file is not.
		if configPath != "" {
			return cfg, fmt.Errorf("config file %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	if err := validateStorage(cfg.Telemetry.Storage); err != nil {
		return cfg, err
	}

	cfg.LogFile = expandHome(cfg.LogFile, home)
	cfg.SocketPath = expandHome(cfg.SocketPath, home)
	cfg.Telemetry.Storage.Dir = expandHome(cfg.Telemetry.Storage.Dir, home)

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
	if cfg.OTLPAddr == "" {
		cfg.OTLPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.OTLPPort))
	}

	return cfg, nil
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("metric_type", func(fl validator.FieldLevel) bool {
		return model.MetricType(fl.Field().String()).Valid()
	})
	return validate
}

// validateConfig checks struct tags and reports the first failure by config key.
func validateConfig(cfg appConfig) error {
	err := newValidator().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := verrs[0]
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	if fe.Param() != "" {
		return fmt.Errorf("invalid %s: %v (must satisfy %s=%s)", key, fe.Value(), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("invalid %s: %v (must satisfy %s)", key, fe.Value(), fe.Tag())
}

func validateStorage(st model.StorageConfig) error {
	if !st.Enabled || st.BucketURL == "" {
		return nil
	}
	if st.S3AccessKey == "" || st.S3SecretKey == "" {
		return fmt.Errorf("telemetry.storage.s3-access-key and telemetry.storage.s3-secret-key are required when bucket-url is set")
	}
	return nil
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
