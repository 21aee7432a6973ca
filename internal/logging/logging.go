// Package logging builds the structured zap loggers used across pulse.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a JSON logger writing to w at the given level.
// Accepted levels (case-insensitive): "debug", "info", "warn", "error".
// An empty level means "info".
func New(level string, w io.Writer) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	if w == nil {
		w = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zapLevel,
	)
	return zap.New(core, zap.AddCaller()), nil
}

// Open creates a logger that appends to path, or writes to stderr when path
// is empty. The returned close func syncs the logger and closes the file.
func Open(level, path string) (*zap.Logger, func(), error) {
	if path == "" {
		l, err := New(level, os.Stderr)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { Flush(l) }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l, err := New(level, f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return l, func() {
		Flush(l)
		f.Close()
	}, nil
}

type loggerKey struct{}

// WithContext returns a context carrying l.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or fallback.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// WithRequestID attaches a req_id field.
func WithRequestID(l *zap.Logger, reqID string) *zap.Logger {
	return l.With(zap.String("req_id", reqID))
}

// Flush writes any buffered entries. Sync errors on non-file outputs
// (stderr on some platforms) are ignored.
func Flush(l *zap.Logger) {
	_ = l.Sync()
}
