package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/pulse/internal/journal"
	"github.com/tinytelemetry/pulse/internal/model"
)

const (
	archivePrefix = "pulse-metrics-"
	archiveLayout = "20060102-150405.000000000"
	plainExt      = ".jsonl"
	zstdExt       = ".jsonl.zst"
)

// Manager writes metrics leaving memory to local archive files, uploads
// them when a bucket is configured and prunes old archives.
type Manager struct {
	cfg      Config
	uploader Uploader
	logger   *zap.Logger
	now      func() time.Time

	mu  sync.Mutex
	seq uint64
}

// NewManager returns nil when archiving is disabled.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, ErrNoLocalDir
	}
	if cfg.KeepLast < 0 {
		cfg.KeepLast = 0
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create local dir: %w", err)
	}

	var uploader Uploader
	if strings.TrimSpace(cfg.BucketURL) != "" {
		s3u, err := NewS3Uploader(S3Config{
			BucketURL:    cfg.BucketURL,
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			SessionToken: cfg.S3SessionToken,
			UseSSL:       cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("backup: init s3 uploader: %w", err)
		}
		uploader = s3u
	}

	m := &Manager{
		cfg:      cfg,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
	// Catch up on retention after downtime.
	if err := m.Prune(); err != nil {
		logger.Warn("startup prune failed", zap.Error(err))
	}
	return m, nil
}

// Archive writes metrics to a new archive file and returns how many were
// written. An empty slice writes nothing.
func (m *Manager) Archive(ctx context.Context, metrics []model.Metric) (int, error) {
	if len(metrics) == 0 {
		return 0, nil
	}

	path := m.nextPath()
	if err := journal.WriteFile(path, metrics, m.cfg.Compression); err != nil {
		return 0, fmt.Errorf("write archive: %w", err)
	}
	m.logger.Info("archived metrics", zap.String("path", path), zap.Int("metrics", len(metrics)))

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, path); err != nil {
			return len(metrics), fmt.Errorf("upload: %w", err)
		}
		m.logger.Info("uploaded archive", zap.String("file", filepath.Base(path)))
	}

	if err := m.Prune(); err != nil {
		return len(metrics), fmt.Errorf("prune archives: %w", err)
	}
	return len(metrics), nil
}

// List returns archive paths, newest first.
func (m *Manager) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.cfg.LocalDir, archivePrefix+"*"))
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, p := range matches {
		if strings.HasSuffix(p, plainExt) || strings.HasSuffix(p, zstdExt) {
			out = append(out, p)
		}
	}
	// The timestamp is embedded in the name so lexical order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// Prune deletes archives older than RetentionDays and any beyond KeepLast.
func (m *Manager) Prune() error {
	paths, err := m.List()
	if err != nil {
		return err
	}

	var cutoff time.Time
	if m.cfg.RetentionDays > 0 {
		cutoff = m.now().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
	}

	removed := 0
	for i, p := range paths {
		expired := !cutoff.IsZero() && archiveTime(p).Before(cutoff)
		overflow := m.cfg.KeepLast > 0 && i >= m.cfg.KeepLast
		if !expired && !overflow {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
	}
	if removed > 0 {
		m.logger.Debug("pruned archives", zap.Int("files", removed))
	}
	return nil
}

func (m *Manager) nextPath() string {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	ext := plainExt
	if m.cfg.Compression {
		ext = zstdExt
	}
	name := fmt.Sprintf("%s%s-%06d%s", archivePrefix, m.now().UTC().Format(archiveLayout), seq, ext)
	return filepath.Join(m.cfg.LocalDir, name)
}

// archiveTime parses the timestamp out of an archive name. Unparseable
// names report the zero time so retention treats them as expired.
func archiveTime(path string) time.Time {
	name := strings.TrimPrefix(filepath.Base(path), archivePrefix)
	if len(name) < len(archiveLayout) {
		return time.Time{}
	}
	ts, err := time.Parse(archiveLayout, name[:len(archiveLayout)])
	if err != nil {
		return time.Time{}
	}
	return ts
}
