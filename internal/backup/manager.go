package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/metrics"
)

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24
)

// ErrUnchanged is returned by RunOnce when the store has the same row counts
// as the newest snapshot on disk.
var ErrUnchanged = errors.New("backup: store unchanged since last snapshot")

// Manager snapshots the measurement store on an interval, writes a manifest
// per snapshot, optionally uploads both, and prunes old local pairs.
type Manager struct {
	store    Snapshotter
	cfg      Config
	uploader Uploader
	now      func() time.Time

	mu   sync.Mutex // serializes RunOnce
	last *Manifest

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager validates cfg, takes a startup snapshot and starts the loop.
// It returns nil, nil when backups are disabled.
func NewManager(store Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	m, err := newManager(store, cfg)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.S3.BucketURL) != "" {
		u, err := NewS3Uploader(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("backup: %w", err)
		}
		m.uploader = u
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	if _, err := m.RunOnce(m.ctx); err != nil && !errors.Is(err, ErrUnchanged) {
		logging.Warnf("backup: startup snapshot failed: %v", err)
	}
	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func newManager(store Snapshotter, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, errors.New("backup: store is in-memory, set db-path to enable backups")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("backup: local-dir is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create %s: %w", cfg.Dir, err)
	}

	last, err := latestManifest(cfg.Dir)
	if err != nil {
		logging.Warnf("backup: ignoring unreadable manifest in %s: %v", cfg.Dir, err)
		last = nil
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		last:  last,
	}, nil
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			_, err := m.RunOnce(m.ctx)
			switch {
			case errors.Is(err, ErrUnchanged):
				logging.Debugf("backup: %v", err)
			case err != nil && m.ctx.Err() == nil:
				logging.Warnf("backup: periodic snapshot failed: %v", err)
			}
		}
	}
}

// RunOnce takes one snapshot unless the store is unchanged, in which case it
// returns ErrUnchanged. The returned manifest describes the new snapshot.
func (m *Manager) RunOnce(ctx context.Context) (*Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts, err := m.store.TableRowCounts()
	if err != nil {
		// Still snapshot; the manifest just won't allow a later skip.
		logging.Warnf("backup: row counts unavailable: %v", err)
		counts = nil
	}
	if m.last.sameRows(counts) {
		if _, err := os.Stat(filepath.Join(m.cfg.Dir, m.last.Snapshot)); err == nil {
			metrics.RecordBackup("skipped", nil)
			return nil, ErrUnchanged
		}
	}

	man, err := m.snapshot(ctx, counts)
	metrics.RecordBackup("snapshot", err)
	if err != nil {
		return nil, err
	}
	m.last = man

	if n, err := prune(m.cfg.Dir, m.cfg.KeepLast); err != nil {
		return man, fmt.Errorf("prune: %w", err)
	} else if n > 0 {
		logging.Debugf("backup: pruned %d old snapshots", n)
	}
	return man, nil
}

func (m *Manager) snapshot(ctx context.Context, counts map[string]int64) (*Manifest, error) {
	createdAt := m.now().UTC()
	snapPath := filepath.Join(m.cfg.Dir, snapshotName(createdAt))

	size, sum, err := m.store.SnapshotTo(snapPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	man := &Manifest{
		Snapshot:  filepath.Base(snapPath),
		CreatedAt: createdAt,
		SizeBytes: size,
		SHA256:    sum,
		RowCounts: counts,
	}
	manPath := manifestPath(snapPath)
	if err := writeManifest(manPath, *man); err != nil {
		_ = os.Remove(snapPath)
		return nil, fmt.Errorf("manifest: %w", err)
	}
	logging.Infof("backup: snapshot %s (%d bytes, %d measurements)", man.Snapshot, size, counts["measurements"])

	if m.uploader == nil {
		return man, nil
	}
	// Manifest goes last so a remote manifest always has its snapshot.
	for _, p := range []string{snapPath, manPath} {
		if err := m.uploader.UploadFile(ctx, p); err != nil {
			return nil, fmt.Errorf("upload %s: %w", filepath.Base(p), err)
		}
	}
	logging.Infof("backup: uploaded %s", man.Snapshot)
	return man, nil
}

// Last returns the manifest of the newest snapshot, or nil.
func (m *Manager) Last() *Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stop ends the loop and cancels an in-flight upload.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
	})
}
