package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	metricsv1 "go.opentelemetry.io/proto/otlp/metrics/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	// AttrMetricType selects the pulse metric type for an OTLP data point.
	AttrMetricType = "pulse.metric_type"
	// AttrMetricName overrides the operation name for an OTLP data point.
	AttrMetricName = "pulse.name"

	// DefaultOTLPAddr is the default gRPC listen address.
	DefaultOTLPAddr = "127.0.0.1:4317"
)

// DecodeOTLP unmarshals an OTLP/HTTP metrics body. JSON content types use the
// protobuf JSON mapping; anything else is treated as binary protobuf.
func DecodeOTLP(data []byte, contentType string) (*collectormetrics.ExportMetricsServiceRequest, error) {
	req := &collectormetrics.ExportMetricsServiceRequest{}
	if strings.HasPrefix(strings.TrimSpace(contentType), "application/json") {
		if err := protojson.Unmarshal(data, req); err != nil {
			return nil, fmt.Errorf("ingest: parse otlp json: %w", err)
		}
		return req, nil
	}
	if err := proto.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("ingest: parse otlp protobuf: %w", err)
	}
	return req, nil
}

// Decompress wraps r according to a Content-Encoding header value.
func Decompress(r io.Reader, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("ingest: gzip: %w", err)
		}
		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("ingest: zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("ingest: unsupported content encoding %q", encoding)
	}
}

// FromOTLP converts gauge, sum, histogram and summary points into metric
// inputs. Points whose metric type cannot be resolved are counted as rejected.
func FromOTLP(req *collectormetrics.ExportMetricsServiceRequest) ([]model.MetricInput, int64) {
	var (
		inputs   []model.MetricInput
		rejected int64
	)
	for _, rm := range req.GetResourceMetrics() {
		resourceAttrs := extractAttributes(rm.GetResource().GetAttributes())
		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				for _, pt := range metricPoints(m) {
					attrs := cloneAttributes(resourceAttrs)
					mergeAttributes(attrs, extractAttributes(pt.attrs))

					in, ok := toMetricInput(m, pt.value, attrs)
					if !ok {
						rejected++
						continue
					}
					inputs = append(inputs, in)
				}
			}
		}
	}
	return inputs, rejected
}

type point struct {
	value float64
	attrs []*commonv1.KeyValue
}

func metricPoints(m *metricsv1.Metric) []point {
	var pts []point
	if g := m.GetGauge(); g != nil {
		for _, dp := range g.GetDataPoints() {
			pts = append(pts, point{value: numberValue(dp), attrs: dp.GetAttributes()})
		}
	}
	if s := m.GetSum(); s != nil {
		for _, dp := range s.GetDataPoints() {
			pts = append(pts, point{value: numberValue(dp), attrs: dp.GetAttributes()})
		}
	}
	if h := m.GetHistogram(); h != nil {
		for _, dp := range h.GetDataPoints() {
			if dp.GetCount() == 0 {
				continue
			}
			pts = append(pts, point{value: dp.GetSum() / float64(dp.GetCount()), attrs: dp.GetAttributes()})
		}
	}
	if h := m.GetExponentialHistogram(); h != nil {
		for _, dp := range h.GetDataPoints() {
			if dp.GetCount() == 0 {
				continue
			}
			pts = append(pts, point{value: dp.GetSum() / float64(dp.GetCount()), attrs: dp.GetAttributes()})
		}
	}
	if s := m.GetSummary(); s != nil {
		for _, dp := range s.GetDataPoints() {
			if dp.GetCount() == 0 {
				continue
			}
			pts = append(pts, point{value: dp.GetSum() / float64(dp.GetCount()), attrs: dp.GetAttributes()})
		}
	}
	return pts
}

func numberValue(dp *metricsv1.NumberDataPoint) float64 {
	switch v := dp.GetValue().(type) {
	case *metricsv1.NumberDataPoint_AsDouble:
		return v.AsDouble
	case *metricsv1.NumberDataPoint_AsInt:
		return float64(v.AsInt)
	default:
		return 0
	}
}

func toMetricInput(m *metricsv1.Metric, value float64, attrs map[string]string) (model.MetricInput, bool) {
	typ := model.MetricType(attrs[AttrMetricType])
	if typ == "" {
		typ = model.MetricType(m.GetName())
	}
	if !typ.Valid() {
		return model.MetricInput{}, false
	}
	name := attrs[AttrMetricName]
	if name == "" {
		name = m.GetName()
	}
	delete(attrs, AttrMetricType)
	delete(attrs, AttrMetricName)

	in := model.MetricInput{
		Type:  typ,
		Name:  name,
		Value: value,
		Unit:  m.GetUnit(),
	}
	if len(attrs) > 0 {
		in.Tags = attrs
	}
	if desc := m.GetDescription(); desc != "" {
		in.Metadata = map[string]any{"description": desc}
	}
	return in, true
}

func extractAttributes(kvs []*commonv1.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		switch v := kv.GetValue().GetValue().(type) {
		case *commonv1.AnyValue_StringValue:
			out[kv.GetKey()] = v.StringValue
		case *commonv1.AnyValue_IntValue:
			out[kv.GetKey()] = fmt.Sprint(v.IntValue)
		case *commonv1.AnyValue_DoubleValue:
			out[kv.GetKey()] = stringifyJSONValue(v.DoubleValue)
		case *commonv1.AnyValue_BoolValue:
			out[kv.GetKey()] = fmt.Sprint(v.BoolValue)
		}
	}
	return out
}

func cloneAttributes(attributes map[string]string) map[string]string {
	out := make(map[string]string, len(attributes))
	for k, v := range attributes {
		out[k] = v
	}
	return out
}

func mergeAttributes(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

// OTLPReceiver implements the OTLP gRPC MetricsService.
type OTLPReceiver struct {
	collectormetrics.UnimplementedMetricsServiceServer

	addr     string
	recorder model.MetricRecorder
	logger   *zap.Logger

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
}

// NewOTLPReceiver creates a receiver that records into rec.
func NewOTLPReceiver(addr string, rec model.MetricRecorder, logger *zap.Logger) *OTLPReceiver {
	if addr == "" {
		addr = DefaultOTLPAddr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTLPReceiver{addr: addr, recorder: rec, logger: logger}
}

// Ingest records every convertible point in req. Skipped metrics count as
// rejected.
func (r *OTLPReceiver) Ingest(req *collectormetrics.ExportMetricsServiceRequest) (int, int64) {
	inputs, rejected := FromOTLP(req)
	accepted := 0
	for _, in := range inputs {
		in.Tags = withSource(in.Tags, "otlp")
		if r.recorder.Record(in).OK() {
			accepted++
		} else {
			rejected++
		}
	}
	return accepted, rejected
}

// Export handles MetricsService/Export.
func (r *OTLPReceiver) Export(_ context.Context, req *collectormetrics.ExportMetricsServiceRequest) (*collectormetrics.ExportMetricsServiceResponse, error) {
	accepted, rejected := r.Ingest(req)
	r.logger.Debug("otlp export", zap.Int("accepted", accepted), zap.Int64("rejected", rejected))

	return ExportResponse(rejected), nil
}

// ExportResponse builds the Export reply, reporting partial success when
// points were rejected.
func ExportResponse(rejected int64) *collectormetrics.ExportMetricsServiceResponse {
	resp := &collectormetrics.ExportMetricsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collectormetrics.ExportMetricsPartialSuccess{
			RejectedDataPoints: rejected,
			ErrorMessage:       "data points without a known pulse.metric_type, or of a disabled type, were rejected",
		}
	}
	return resp
}

// Start listens on the configured address and serves gRPC in the background.
func (r *OTLPReceiver) Start() error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("ingest: otlp listen: %w", err)
	}
	srv := grpc.NewServer()
	collectormetrics.RegisterMetricsServiceServer(srv, r)

	r.mu.Lock()
	r.listener = ln
	r.server = srv
	r.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil {
			r.logger.Warn("otlp server stopped", zap.Error(err))
		}
	}()
	r.logger.Info("otlp grpc listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully stops the gRPC server.
func (r *OTLPReceiver) Stop() {
	r.mu.Lock()
	srv := r.server
	r.server = nil
	r.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
}

// Addr returns the active listen address, or the configured one before Start.
func (r *OTLPReceiver) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.addr
}

func withSource(tags map[string]string, source string) map[string]string {
	if _, ok := tags[TagSource]; ok {
		return tags
	}
	out := cloneAttributes(tags)
	out[TagSource] = source
	return out
}
