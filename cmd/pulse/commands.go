package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/pulse/internal/analytics"
	"github.com/tinytelemetry/pulse/internal/journal"
	"github.com/tinytelemetry/pulse/internal/model"
	"github.com/tinytelemetry/pulse/internal/socketrpc"
)

// dialServer connects to the socket of a running server.
func dialServer(configPath string) (*socketrpc.Client, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("is pulse running? %w", err)
	}
	return client, nil
}

func newRecordCmd(configPath *string) *cobra.Command {
	var (
		unit string
		tags []string
	)
	cmd := &cobra.Command{
		Use:   "record TYPE NAME VALUE",
		Short: "Record one metric on a running server",
		Example: `  pulse record response_time checkout 420
  pulse record memory_usage heap 312 --unit MB --tag env=prod`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseRecordArgs(args, unit, tags)
			if err != nil {
				return err
			}
			client, err := dialServer(*configPath)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.RecordMetric(in)
			if err != nil {
				return err
			}
			if res.Metric == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Status, res.Reason)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s = %s%s\n",
				res.Status, res.Metric.Type, res.Metric.Name,
				formatValue(res.Metric.Value), res.Metric.Unit)
			return nil
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "metric unit (default ms)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as key=value (repeatable)")
	return cmd
}

func parseRecordArgs(args []string, unit string, tags []string) (model.MetricInput, error) {
	typ := model.MetricType(args[0])
	if !typ.Valid() {
		return model.MetricInput{}, fmt.Errorf("unknown metric type %q", args[0])
	}
	var value float64
	if _, err := fmt.Sscanf(args[2], "%g", &value); err != nil {
		return model.MetricInput{}, fmt.Errorf("invalid value %q: %w", args[2], err)
	}
	in := model.MetricInput{Type: typ, Name: args[1], Value: value, Unit: unit}
	for _, kv := range tags {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return model.MetricInput{}, fmt.Errorf("invalid tag %q, want key=value", kv)
		}
		if in.Tags == nil {
			in.Tags = make(map[string]string)
		}
		in.Tags[k] = v
	}
	return in, nil
}

func newAnalyticsCmd(configPath *string) *cobra.Command {
	var (
		since   time.Duration
		asJSON  bool
		endFlag string
	)
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Print the analytics report of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			end := time.Now()
			if endFlag != "" {
				t, err := time.Parse(time.RFC3339, endFlag)
				if err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
				end = t
			}
			client, err := dialServer(*configPath)
			if err != nil {
				return err
			}
			defer client.Close()

			report, err := client.GetAnalytics(end.Add(-since), end)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			renderAnalytics(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", time.Hour, "report window length")
	cmd.Flags().StringVar(&endFlag, "end", "", "window end as RFC3339 (default now)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newSnapshotCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the current snapshot of a running server as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialServer(*configPath)
			if err != nil {
				return err
			}
			defer client.Close()

			snap, err := client.GetSnapshot()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
}

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Decode a metric archive and print its analytics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectArchive(cmd.OutOrStdout(), args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func inspectArchive(w io.Writer, path string, asJSON bool) error {
	metrics, err := journal.ReadFile(path)
	if err != nil {
		return err
	}
	if len(metrics) == 0 {
		return fmt.Errorf("%s: archive is empty", path)
	}
	start, end := metrics[0].Timestamp, metrics[0].Timestamp
	for _, m := range metrics[1:] {
		if m.Timestamp.Before(start) {
			start = m.Timestamp
		}
		if m.Timestamp.After(end) {
			end = m.Timestamp
		}
	}
	report := analytics.Compute(start, end, metrics, analytics.Options{TrendMode: model.TrendHourly})
	if asJSON {
		return writeJSON(w, report)
	}
	renderAnalytics(w, report)
	return nil
}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
