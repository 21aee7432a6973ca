package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("debug", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("hello", zap.String("k", "v"))
	Flush(l)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if entry["level"] != "INFO" {
		t.Fatalf("level = %v, want INFO", entry["level"])
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("entry = %v", entry)
	}
	if _, ok := entry["ts"].(string); !ok {
		t.Fatalf("ts = %v, want ISO8601 string", entry["ts"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("warn", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("dropped")
	l.Warn("kept")
	Flush(l)

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("output = %q", out)
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New("loud", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pulse.log")
	l, closeFn, err := Open("info", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Info("to file")
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Fatalf("file = %q", data)
	}
}

func TestContextRoundTrip(t *testing.T) {
	fallback := zap.NewNop()
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Fatal("expected fallback for empty context")
	}
	l := WithRequestID(zap.NewNop(), "r-1")
	if got := FromContext(WithContext(context.Background(), l), fallback); got != l {
		t.Fatal("expected stored logger")
	}
}
