// Package journal encodes metric sets as JSON lines, optionally zstd
// compressed. It backs metric export, archives and import.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// ErrNilWriter is returned when a Writer is built over a nil io.Writer.
var ErrNilWriter = errors.New("journal: nil writer")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type entry struct {
	Seq    uint64       `json:"seq"`
	Metric model.Metric `json:"metric"`
}

// Writer streams metrics as one JSON entry per line.
type Writer struct {
	zw  *zstd.Encoder
	bw  *bufio.Writer
	enc *json.Encoder
	seq uint64
}

// NewWriter wraps w. With compress set the stream is zstd framed. Close
// must be called to flush buffered output; it does not close w.
func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	if w == nil {
		return nil, ErrNilWriter
	}
	out := &Writer{}
	if compress {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("journal: zstd writer: %w", err)
		}
		out.zw = zw
		w = zw
	}
	out.bw = bufio.NewWriter(w)
	out.enc = json.NewEncoder(out.bw)
	return out, nil
}

// Write appends one metric.
func (w *Writer) Write(m model.Metric) error {
	w.seq++
	if err := w.enc.Encode(entry{Seq: w.seq, Metric: m}); err != nil {
		return fmt.Errorf("journal: encode entry %d: %w", w.seq, err)
	}
	return nil
}

// Count returns how many metrics were written.
func (w *Writer) Count() int { return int(w.seq) }

// Close flushes buffered and compressed output.
func (w *Writer) Close() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			return fmt.Errorf("journal: zstd close: %w", err)
		}
	}
	return nil
}

// Encode writes every metric in order.
func Encode(w io.Writer, metrics []model.Metric, compress bool) error {
	jw, err := NewWriter(w, compress)
	if err != nil {
		return err
	}
	for _, m := range metrics {
		if err := jw.Write(m); err != nil {
			return err
		}
	}
	return jw.Close()
}

// Decode reads metrics written by Encode. Compression is detected from the
// stream header. A partially written trailing line is ignored.
func Decode(r io.Reader) ([]model.Metric, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("journal: zstd reader: %w", err)
		}
		defer zr.Close()
		br = bufio.NewReader(zr)
	}

	out := make([]model.Metric, 0)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("journal: read: %w", err)
		}
		if len(line) == 0 && errors.Is(err, io.EOF) {
			return out, nil
		}
		if !bytes.HasSuffix(line, []byte("\n")) {
			return out, nil
		}
		if len(bytes.TrimSpace(line)) > 0 {
			var e entry
			if uerr := json.Unmarshal(line, &e); uerr != nil {
				return nil, fmt.Errorf("journal: line %d: %w", lineNo, uerr)
			}
			out = append(out, e.Metric)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
	}
}

// WriteFile writes metrics to path atomically through a temp file.
func WriteFile(path string, metrics []model.Metric, compress bool) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return fmt.Errorf("journal: mkdir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("journal: open tmp: %w", err)
	}
	if err := Encode(f, metrics, compress); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: sync tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: close tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: rename: %w", err)
	}
	return nil
}

// ReadFile decodes the archive at path.
func ReadFile(path string) ([]model.Metric, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
