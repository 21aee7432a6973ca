package journal

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/pulse/internal/model"
)

func sampleMetrics() []model.Metric {
	ts := time.Date(2024, 9, 1, 8, 30, 0, 123456789, time.UTC)
	return []model.Metric{
		{
			ID: "m-1", Type: model.ResponseTime, Name: "checkout", Value: 4000.25, Unit: "ms",
			Timestamp: ts, Tags: map[string]string{"route": "/pay"},
			Threshold: &model.Threshold{Warning: 1000, Critical: 3000},
		},
		{
			ID: "m-2", Type: model.MemoryUsage, Name: "rss", Value: 512.5, Unit: "MB",
			Timestamp: ts.Add(time.Second), Tags: map[string]string{"kind": "rss"},
		},
	}
}

func assertRoundTrip(t *testing.T, got []model.Metric) {
	t.Helper()
	want := sampleMetrics()
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Type != want[i].Type || got[i].Name != want[i].Name || got[i].Value != want[i].Value {
			t.Fatalf("metric %d = %+v, want %+v", i, got[i], want[i])
		}
		if !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Fatalf("metric %d timestamp = %v, want %v", i, got[i].Timestamp, want[i].Timestamp)
		}
	}
	if got[0].Threshold == nil || got[0].Threshold.Critical != 3000 {
		t.Fatalf("threshold = %+v, want critical 3000", got[0].Threshold)
	}
}

func TestEncodeDecodePlain(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleMetrics(), false); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"2024-09-01T08:30:00.123456789Z"`)) {
		t.Fatalf("expected RFC3339Nano timestamp in %q", buf.String())
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assertRoundTrip(t, got)
}

func TestEncodeDecodeCompressed(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleMetrics(), true); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), zstdMagic) {
		t.Fatalf("compressed output missing zstd header")
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assertRoundTrip(t, got)
}

func TestDecodeIgnoresPartialTrailingLine(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleMetrics(), false); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf.WriteString(`{"seq":3,"metric":{"id":"m-3"`)

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestDecodeRejectsMalformedLine(t *testing.T) {
	_, err := Decode(bytes.NewBufferString("not json\n"))
	if err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("Decode(empty) = %#v, want empty slice", got)
	}
}

func TestNewWriterNil(t *testing.T) {
	if _, err := NewWriter(nil, false); !errors.Is(err, ErrNilWriter) {
		t.Fatalf("NewWriter(nil) err = %v, want ErrNilWriter", err)
	}
}

func TestWriteFileReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metrics.jsonl.zst")
	if err := WriteFile(path, sampleMetrics(), true); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	assertRoundTrip(t, got)
}
