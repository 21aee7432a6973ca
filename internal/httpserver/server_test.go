package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	metricsv1 "go.opentelemetry.io/proto/otlp/metrics/v1"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tinytelemetry/pulse/internal/engine"
	"github.com/tinytelemetry/pulse/internal/ingest"
	"github.com/tinytelemetry/pulse/internal/journal"
	"github.com/tinytelemetry/pulse/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mutate func(*model.Config)) (*engine.Engine, http.Handler) {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.FlushInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := engine.New(cfg, engine.WithMemorySampleInterval(0), engine.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(eng.Stop)

	srv := NewServer(eng, Config{
		OTLP: ingest.NewOTLPReceiver("", eng, nil),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("pulse_up 1\n"))
		}),
		Logger: zaptest.NewLogger(t),
	})
	return eng, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)

	w := do(t, h, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/health", "")
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestRecordMetric(t *testing.T) {
	eng, h := newTestServer(t, func(c *model.Config) {
		c.EnabledMetrics = []model.MetricType{model.ResponseTime}
	})

	w := do(t, h, http.MethodPost, "/api/metrics", `{"type":"response_time","name":"checkout","value":120}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}
	var res model.Result
	decode(t, w, &res)
	if res.Metric == nil || res.Metric.Unit != "ms" {
		t.Fatalf("result = %+v", res)
	}
	if eng.Store().Len() != 1 {
		t.Fatalf("store len = %d, want 1", eng.Store().Len())
	}

	w = do(t, h, http.MethodPost, "/api/metrics", `{"type":"cpu_usage","name":"host","value":5}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("disabled type status = %d, want 422", w.Code)
	}

	w = do(t, h, http.MethodPost, "/api/metrics", `{"value":5}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing fields status = %d, want 400", w.Code)
	}
}

func TestTimers(t *testing.T) {
	eng, h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/timers", `{"name":"render list"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status = %d", w.Code)
	}
	var started struct{ ID string }
	decode(t, w, &started)

	w = do(t, h, http.MethodPost, "/api/timers/"+started.ID+"/end", `{"type":"render_time"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("end status = %d; body: %s", w.Code, w.Body.String())
	}
	var res model.Result
	decode(t, w, &res)
	if res.Metric == nil || res.Metric.Type != model.RenderTime || res.Metric.Name != "render list" {
		t.Fatalf("result = %+v", res)
	}
	if eng.ActiveTimers() != 0 {
		t.Fatalf("active timers = %d", eng.ActiveTimers())
	}

	w = do(t, h, http.MethodPost, "/api/timers/"+started.ID+"/end", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("second end status = %d, want 404", w.Code)
	}
}

func TestCounters(t *testing.T) {
	_, h := newTestServer(t, nil)

	do(t, h, http.MethodPost, "/api/counters/clicks", "")
	w := do(t, h, http.MethodPost, "/api/counters/clicks", `{"delta":5}`)
	var body struct {
		Name  string
		Value int64
	}
	decode(t, w, &body)
	if body.Name != "clicks" || body.Value != 6 {
		t.Fatalf("counter = %+v, want clicks=6", body)
	}
}

func TestSessions(t *testing.T) {
	_, h := newTestServer(t, nil)

	w := do(t, h, http.MethodPost, "/api/sessions", `{"name":"participant","tags":{"study":"s1"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status = %d", w.Code)
	}
	var sess model.Session
	decode(t, w, &sess)

	w = do(t, h, http.MethodGet, "/api/sessions", "")
	var open []model.Session
	decode(t, w, &open)
	if len(open) != 1 || open[0].ID != sess.ID {
		t.Fatalf("open sessions = %+v", open)
	}

	do(t, h, http.MethodPost, "/api/metrics", `{"type":"page_load","name":"home","value":900}`)

	w = do(t, h, http.MethodPost, "/api/sessions/"+sess.ID+"/end", "")
	if w.Code != http.StatusOK {
		t.Fatalf("end status = %d", w.Code)
	}
	var ended model.Session
	decode(t, w, &ended)
	if ended.EndTime == nil || len(ended.Metrics) != 1 {
		t.Fatalf("ended = %+v", ended)
	}

	w = do(t, h, http.MethodGet, "/api/sessions/"+sess.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	for _, path := range []string{"/api/sessions/nope", "/api/sessions/nope/end"} {
		method := http.MethodGet
		if path == "/api/sessions/nope/end" {
			method = http.MethodPost
		}
		if w := do(t, h, method, path, ""); w.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", path, w.Code)
		}
	}
}

func TestAnalyticsAndSnapshot(t *testing.T) {
	_, h := newTestServer(t, nil)

	do(t, h, http.MethodPost, "/api/metrics", `{"type":"response_time","name":"a","value":100}`)
	do(t, h, http.MethodPost, "/api/metrics", `{"type":"response_time","name":"b","value":300}`)

	q := url.Values{}
	q.Set("start", time.Now().Add(-time.Minute).Format(time.RFC3339Nano))
	q.Set("end", time.Now().Add(time.Minute).Format(time.RFC3339Nano))
	w := do(t, h, http.MethodGet, "/api/analytics?"+q.Encode(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("analytics status = %d", w.Code)
	}
	var an model.Analytics
	decode(t, w, &an)
	if an.Summary.TotalMetrics != 2 || an.Summary.AverageResponseTime != 200 {
		t.Fatalf("summary = %+v", an.Summary)
	}

	if w := do(t, h, http.MethodGet, "/api/analytics?start=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad start status = %d, want 400", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/snapshot", "")
	var snap model.Snapshot
	decode(t, w, &snap)
	if len(snap.RecentMetrics) != 2 {
		t.Fatalf("recent = %d, want 2", len(snap.RecentMetrics))
	}
}

func TestAlerts(t *testing.T) {
	_, h := newTestServer(t, nil)

	do(t, h, http.MethodPost, "/api/metrics", `{"type":"response_time","name":"slow","value":5000}`)

	w := do(t, h, http.MethodGet, "/api/alerts?unresolved=true", "")
	var alerts []model.Alert
	decode(t, w, &alerts)
	if len(alerts) != 1 || alerts[0].Severity != model.SeverityCritical {
		t.Fatalf("alerts = %+v", alerts)
	}

	w = do(t, h, http.MethodPost, "/api/alerts/"+alerts[0].ID+"/resolve", "")
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/alerts?unresolved=true", "")
	decode(t, w, &alerts)
	if len(alerts) != 0 {
		t.Fatalf("unresolved after resolve = %d", len(alerts))
	}

	if w := do(t, h, http.MethodPost, "/api/alerts/nope/resolve", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown alert status = %d, want 404", w.Code)
	}
}

func TestExportAndClear(t *testing.T) {
	eng, h := newTestServer(t, nil)

	do(t, h, http.MethodPost, "/api/metrics", `{"type":"api_call","name":"GET /a","value":10}`)
	do(t, h, http.MethodPost, "/api/metrics", `{"type":"api_call","name":"GET /b","value":20}`)

	for _, compress := range []string{"false", "true"} {
		w := do(t, h, http.MethodGet, "/api/export?compress="+compress, "")
		if w.Code != http.StatusOK {
			t.Fatalf("export status = %d", w.Code)
		}
		metrics, err := journal.Decode(w.Body)
		if err != nil {
			t.Fatalf("decode export (compress=%s): %v", compress, err)
		}
		if len(metrics) != 2 || metrics[1].Name != "GET /b" {
			t.Fatalf("exported = %+v", metrics)
		}
	}

	if w := do(t, h, http.MethodDelete, "/api/data", ""); w.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d, want 204", w.Code)
	}
	if eng.Store().Len() != 0 {
		t.Fatalf("store len after clear = %d", eng.Store().Len())
	}
}

func TestOTLPAndPrometheusRoutes(t *testing.T) {
	eng, h := newTestServer(t, nil)

	req := &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricsv1.ResourceMetrics{{
			ScopeMetrics: []*metricsv1.ScopeMetrics{{
				Metrics: []*metricsv1.Metric{{
					Name: "database_query",
					Data: &metricsv1.Metric_Gauge{Gauge: &metricsv1.Gauge{DataPoints: []*metricsv1.NumberDataPoint{{
						Attributes: []*commonv1.KeyValue{{
							Key:   ingest.AttrMetricName,
							Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: "select users"}},
						}},
						Value: &metricsv1.NumberDataPoint_AsDouble{AsDouble: 42},
					}}}},
				}},
			}},
		}},
	}
	body, err := protojson.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	w := do(t, h, http.MethodPost, "/v1/metrics", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("otlp status = %d; body: %s", w.Code, w.Body.String())
	}
	recent := eng.Store().Recent(1)
	if len(recent) != 1 || recent[0].Name != "select users" || recent[0].Value != 42 {
		t.Fatalf("recorded = %+v", recent)
	}

	w = do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || w.Body.String() != "pulse_up 1\n" {
		t.Fatalf("metrics = %d %q", w.Code, w.Body.String())
	}
}
