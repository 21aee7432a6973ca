package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tinytelemetry/pulse/internal/model"
)

var (
	// ErrNoMetrics is returned for payloads that decode to nothing.
	ErrNoMetrics = errors.New("ingest: no metrics in payload")
	// ErrInvalidMetric is returned when a metric object lacks a required field.
	ErrInvalidMetric = errors.New("ingest: invalid metric")
)

// ParseLine decodes one complete payload into metric inputs. Accepted shapes:
//
//	{"type":"response_time","name":"checkout","value":120,"tags":{...}}
//	{"metrics":[{...},{...}]}
//	[{...},{...}]
//	{"resourceMetrics":[...]}              (OTLP JSON)
//	response_time checkout 120 ms env=prod (plain text)
func ParseLine(line string) ([]model.MetricInput, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, ErrNoMetrics
	}
	switch trimmed[0] {
	case '{', '[':
		return parseJSONPayload([]byte(trimmed))
	}
	in, err := parseTextLine(trimmed)
	if err != nil {
		return nil, err
	}
	return []model.MetricInput{in}, nil
}

func parseJSONPayload(data []byte) ([]model.MetricInput, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ingest: decode json: %w", err)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		if _, ok := v["resourceMetrics"]; ok {
			req, err := DecodeOTLP(data, "application/json")
			if err != nil {
				return nil, err
			}
			inputs, _ := FromOTLP(req)
			if len(inputs) == 0 {
				return nil, ErrNoMetrics
			}
			return inputs, nil
		}
		if list, ok := v["metrics"].([]any); ok {
			items = list
		} else {
			items = []any{v}
		}
	default:
		return nil, fmt.Errorf("%w: unexpected json %T", ErrInvalidMetric, raw)
	}

	if len(items) == 0 {
		return nil, ErrNoMetrics
	}
	inputs := make([]model.MetricInput, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: metrics[%d] is not an object", ErrInvalidMetric, i)
		}
		in, err := decodeMetricObject(obj)
		if err != nil {
			return nil, fmt.Errorf("metrics[%d]: %w", i, err)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func decodeMetricObject(raw map[string]any) (model.MetricInput, error) {
	in := model.MetricInput{
		Type: model.MetricType(ExtractStringField(raw, "type", "metricType", "metric_type")),
		Name: ExtractStringField(raw, "name", "operation"),
		Unit: ExtractStringField(raw, "unit"),
	}
	if in.Type == "" {
		return in, fmt.Errorf("%w: missing type", ErrInvalidMetric)
	}
	if in.Name == "" {
		return in, fmt.Errorf("%w: missing name", ErrInvalidMetric)
	}
	value, ok := extractNumber(raw["value"])
	if !ok {
		return in, fmt.Errorf("%w: missing or non-numeric value", ErrInvalidMetric)
	}
	in.Value = value

	if tags, ok := raw["tags"].(map[string]any); ok && len(tags) > 0 {
		in.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			in.Tags[k] = stringifyJSONValue(v)
		}
	}
	if md, ok := raw["metadata"].(map[string]any); ok && len(md) > 0 {
		in.Metadata = md
	}
	return in, nil
}

// isTextMetric reports whether line is a complete plain-text metric of a
// known type.
func isTextMetric(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 3 || !model.MetricType(fields[0]).Valid() {
		return false
	}
	_, err := parseTextLine(line)
	return err == nil
}

// parseTextLine accepts "type name value [unit] [key=value ...]".
func parseTextLine(line string) (model.MetricInput, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return model.MetricInput{}, fmt.Errorf("%w: want \"type name value\", got %q", ErrInvalidMetric, line)
	}
	value, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return model.MetricInput{}, fmt.Errorf("%w: value %q", ErrInvalidMetric, fields[2])
	}
	in := model.MetricInput{
		Type:  model.MetricType(fields[0]),
		Name:  fields[1],
		Value: value,
	}
	for i, f := range fields[3:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			if i == 0 {
				in.Unit = f
				continue
			}
			return model.MetricInput{}, fmt.Errorf("%w: tag %q is not key=value", ErrInvalidMetric, f)
		}
		if in.Tags == nil {
			in.Tags = make(map[string]string)
		}
		in.Tags[k] = v
	}
	return in, nil
}

func extractNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringifyJSONValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

// ExtractStringField returns the first non-empty string value found under keys.
func ExtractStringField(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}
