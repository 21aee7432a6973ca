package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

type fakeRecorder struct {
	mu     sync.Mutex
	inputs []model.MetricInput
}

func (f *fakeRecorder) Record(in model.MetricInput) model.Result {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if !in.Type.Valid() {
		return model.Skipped(model.SkipInvalidType)
	}
	return model.Recorded(model.Metric{Type: in.Type, Name: in.Name, Value: in.Value})
}

func (f *fakeRecorder) all() []model.MetricInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.MetricInput, len(f.inputs))
	copy(out, f.inputs)
	return out
}

func TestParseLine_Shapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		line      string
		wantCount int
		wantFirst model.MetricInput
	}{
		{
			name:      "single object",
			line:      `{"type":"response_time","name":"checkout","value":120,"unit":"ms","tags":{"env":"prod","retry":2}}`,
			wantCount: 1,
			wantFirst: model.MetricInput{Type: model.ResponseTime, Name: "checkout", Value: 120, Unit: "ms"},
		},
		{
			name:      "metrics envelope",
			line:      `{"metrics":[{"type":"cpu_usage","name":"host","value":"55.5"},{"type":"memory_usage","name":"heap","value":300}]}`,
			wantCount: 2,
			wantFirst: model.MetricInput{Type: model.CPUUsage, Name: "host", Value: 55.5},
		},
		{
			name:      "array",
			line:      `[{"metricType":"api_call","operation":"GET /users","value":80}]`,
			wantCount: 1,
			wantFirst: model.MetricInput{Type: model.APICall, Name: "GET /users", Value: 80},
		},
		{
			name:      "plain text",
			line:      "render_time list 12.5 ms page=home",
			wantCount: 1,
			wantFirst: model.MetricInput{Type: model.RenderTime, Name: "list", Value: 12.5, Unit: "ms"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inputs, err := ParseLine(tt.line)
			if err != nil {
				t.Fatalf("ParseLine: %v", err)
			}
			if len(inputs) != tt.wantCount {
				t.Fatalf("len = %d, want %d", len(inputs), tt.wantCount)
			}
			got := inputs[0]
			if got.Type != tt.wantFirst.Type || got.Name != tt.wantFirst.Name ||
				got.Value != tt.wantFirst.Value || got.Unit != tt.wantFirst.Unit {
				t.Fatalf("first = %+v, want %+v", got, tt.wantFirst)
			}
		})
	}
}

func TestParseLine_TagsAreStringified(t *testing.T) {
	t.Parallel()

	inputs, err := ParseLine(`{"type":"response_time","name":"x","value":1,"tags":{"retry":2,"cached":true}}`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	tags := inputs[0].Tags
	if tags["retry"] != "2" || tags["cached"] != "true" {
		t.Fatalf("tags = %v", tags)
	}
}

func TestParseLine_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want error
	}{
		{"empty", "   ", ErrNoMetrics},
		{"empty envelope", `{"metrics":[]}`, ErrNoMetrics},
		{"missing type", `{"name":"x","value":1}`, ErrInvalidMetric},
		{"missing value", `{"type":"response_time","name":"x"}`, ErrInvalidMetric},
		{"short text", "response_time checkout", ErrInvalidMetric},
		{"bad number", "response_time checkout fast", ErrInvalidMetric},
		{"stray text tag", "response_time checkout 1 ms oops", ErrInvalidMetric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseLine(tt.line); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProcessor_TagsSource(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := NewProcessor(rec, "stdin")

	res := p.ProcessEnvelope(model.IngestEnvelope{Source: "tcp", Line: "response_time a 1"})
	if res == nil || res.Err != nil || res.Recorded() != 1 {
		t.Fatalf("result = %+v", res)
	}
	res = p.ProcessLine(`{"type":"response_time","name":"b","value":2,"tags":{"source":"browser"}}`)
	if res == nil || res.Recorded() != 1 {
		t.Fatalf("result = %+v", res)
	}

	got := rec.all()
	if got[0].Tags[TagSource] != "tcp" {
		t.Fatalf("first source = %q, want tcp", got[0].Tags[TagSource])
	}
	if got[1].Tags[TagSource] != "browser" {
		t.Fatalf("second source = %q, want browser", got[1].Tags[TagSource])
	}
}

func TestProcessor_MultiLineJSONPerRemote(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := NewProcessor(rec, "tcp")

	steps := []model.IngestEnvelope{
		{Remote: "a", Line: `{"type":"response_time",`},
		{Remote: "b", Line: `{"type":"cpu_usage","name":"cpu","value":5}`},
		{Remote: "a", Line: ` "name":"slow",`},
		{Remote: "a", Line: ` "value":9}`},
	}
	var results []*ProcessResult
	for _, env := range steps {
		results = append(results, p.ProcessEnvelope(env))
	}

	if results[0] != nil || results[2] != nil {
		t.Fatalf("partial lines should return nil, got %+v / %+v", results[0], results[2])
	}
	if results[1] == nil || results[1].Recorded() != 1 {
		t.Fatalf("peer b result = %+v", results[1])
	}
	if results[3] == nil || results[3].Err != nil || results[3].Recorded() != 1 {
		t.Fatalf("peer a result = %+v", results[3])
	}

	got := rec.all()
	if len(got) != 2 || got[1].Name != "slow" || got[1].Value != 9 {
		t.Fatalf("recorded = %+v", got)
	}
}

func TestProcessor_StatsAndSkips(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := NewProcessor(rec, "")

	p.ProcessLine("response_time a 1")
	p.ProcessLine("bogus_type a 1")
	p.ProcessLine("not a metric")

	st := p.Stats()
	if st.Lines != 3 || st.Recorded != 1 || st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if p.Name() != ProcessorName {
		t.Fatalf("Name() = %q", p.Name())
	}
}

func TestProcessor_Consume(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := NewProcessor(rec, "tcp")
	lines := make(chan model.IngestEnvelope, 3)
	lines <- model.IngestEnvelope{Line: "response_time a 1"}
	lines <- model.IngestEnvelope{Line: "garbage"}
	lines <- model.IngestEnvelope{Line: "response_time b 2"}
	close(lines)

	done := make(chan struct{})
	go func() {
		p.Consume(context.Background(), lines, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after channel close")
	}
	if got := len(rec.all()); got != 2 {
		t.Fatalf("recorded = %d, want 2", got)
	}
}

func TestProcessor_TruncatedJSONDoesNotBlockLaterLines(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := NewProcessor(rec, "stdin")

	if res := p.ProcessLine(`{"type":"response_time","name":"truncated","value":1`); res != nil {
		t.Fatalf("partial line result = %+v, want nil", res)
	}
	res := p.ProcessLine("response_time checkout 120 ms")
	if res == nil || !errors.Is(res.Err, ErrIncompletePayload) || res.Recorded() != 1 {
		t.Fatalf("first text line result = %+v", res)
	}
	for i := 0; i < 999; i++ {
		if res := p.ProcessLine("response_time checkout 120 ms"); res == nil || res.Err != nil || res.Recorded() != 1 {
			t.Fatalf("line %d result = %+v", i, res)
		}
	}

	st := p.Stats()
	if st.Recorded != 1000 || st.Failed != 1 {
		t.Fatalf("stats = %+v, want recorded=1000 failed=1", st)
	}
}

func TestProcessor_NewObjectSupersedesStaleObject(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := NewProcessor(rec, "tcp")

	p.ProcessEnvelope(model.IngestEnvelope{Remote: "a", Line: `{"type":"response_time","name":"lost",`})
	res := p.ProcessEnvelope(model.IngestEnvelope{Remote: "a", Line: `{"type":"cpu_usage","name":"cpu","value":5}`})
	if res == nil || !errors.Is(res.Err, ErrIncompletePayload) || res.Recorded() != 1 {
		t.Fatalf("result = %+v", res)
	}

	got := rec.all()
	if len(got) != 1 || got[0].Name != "cpu" {
		t.Fatalf("recorded = %+v", got)
	}
}

func TestProcessor_MultiLineArrayElementsAreNotSuperseding(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := NewProcessor(rec, "tcp")

	lines := []string{
		`{"metrics": [`,
		`  {"type":"cpu_usage","name":"a","value":1},`,
		`  {"type":"cpu_usage","name":"b","value":2}`,
		`]}`,
	}
	var last *ProcessResult
	for _, line := range lines {
		last = p.ProcessLine(line)
	}
	if last == nil || last.Err != nil || last.Recorded() != 2 {
		t.Fatalf("result = %+v", last)
	}
}

func TestProcessor_PendingPayloadIsCapped(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := NewProcessor(rec, "tcp")
	p.maxPending = 64

	p.ProcessLine(`{"type":"response_time",`)
	var res *ProcessResult
	for i := 0; i < 10 && res == nil; i++ {
		res = p.ProcessLine(`  "padding": "xxxxxxxxxxxxxxxx",`)
	}
	if res == nil || !errors.Is(res.Err, ErrPayloadTooLarge) {
		t.Fatalf("result = %+v, want ErrPayloadTooLarge", res)
	}

	p.mu.Lock()
	pending := len(p.pending)
	p.mu.Unlock()
	if pending != 0 {
		t.Fatalf("pending buffers = %d, want 0", pending)
	}
	if res := p.ProcessLine("response_time ok 1"); res == nil || res.Recorded() != 1 {
		t.Fatalf("next line result = %+v", res)
	}
}

func TestProcessor_ClosedEnvelopeReleasesPending(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	p := NewProcessor(rec, "tcp")

	p.ProcessEnvelope(model.IngestEnvelope{Remote: "a", Line: `{"type":"response_time",`})
	res := p.ProcessEnvelope(model.IngestEnvelope{Remote: "a", Closed: true})
	if res == nil || !errors.Is(res.Err, ErrIncompletePayload) {
		t.Fatalf("close result = %+v", res)
	}
	if res := p.ProcessEnvelope(model.IngestEnvelope{Remote: "a", Closed: true}); res != nil {
		t.Fatalf("second close result = %+v, want nil", res)
	}

	p.mu.Lock()
	pending := len(p.pending)
	p.mu.Unlock()
	if pending != 0 {
		t.Fatalf("pending buffers = %d, want 0", pending)
	}
	if st := p.Stats(); st.Lines != 1 || st.Failed != 1 {
		t.Fatalf("stats = %+v, want lines=1 failed=1", st)
	}
}
