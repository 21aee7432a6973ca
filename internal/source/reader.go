package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	// DefaultBuffer is the default channel buffer size for reader lines.
	DefaultBuffer = 10_000

	// DefaultMaxLineSize is the default maximum size (in bytes) of a single line.
	DefaultMaxLineSize = 1024 * 1024 // 1MB
)

// ReaderConfig holds tunable parameters for reader sources.
type ReaderConfig struct {
	BufferSize  int
	MaxLineSize int
	Logger      *zap.Logger
}

// ReaderSource reads newline-delimited lines from an io.Reader.
type ReaderSource struct {
	name     string
	ch       chan model.IngestEnvelope
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewStdinSource reads from os.Stdin in a background goroutine.
func NewStdinSource(ctx context.Context, conf ...ReaderConfig) *ReaderSource {
	return NewReaderSource(ctx, "stdin", os.Stdin, conf...)
}

// NewReaderSource reads from r until EOF, error or Stop.
func NewReaderSource(ctx context.Context, name string, r io.Reader, conf ...ReaderConfig) *ReaderSource {
	bufferSize := DefaultBuffer
	maxLineSize := DefaultMaxLineSize
	logger := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
		if conf[0].Logger != nil {
			logger = conf[0].Logger
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &ReaderSource{
		name:   name,
		ch:     make(chan model.IngestEnvelope, bufferSize),
		cancel: cancel,
	}
	go s.read(ctx, r, maxLineSize, logger)
	return s
}

func (s *ReaderSource) read(ctx context.Context, r io.Reader, maxLineSize int, logger *zap.Logger) {
	defer close(s.ch)

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineSize)

	// A single goroutine does the blocking scan so cancellation is observed
	// without a goroutine per line.
	results := make(chan string)
	go func() {
		defer close(results)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case results <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				logger.Warn("line exceeded max size, stopping source",
					zap.String("source", s.name), zap.Int("max_line_size", maxLineSize))
				return
			}
			logger.Warn("scanner error", zap.String("source", s.name), zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-results:
			if !ok {
				if ctx.Err() == nil {
					select {
					case s.ch <- model.IngestEnvelope{Source: s.name, Closed: true}:
					case <-ctx.Done():
					}
				}
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.name, Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *ReaderSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *ReaderSource) Stop()                              { s.stopOnce.Do(s.cancel) }
func (s *ReaderSource) Name() string                       { return s.name }

// StdinIsPiped reports whether stdin is a pipe or file rather than a terminal.
func StdinIsPiped() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
