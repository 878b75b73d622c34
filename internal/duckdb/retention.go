package duckdb

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/metrics"
)

const (
	DefaultRetentionDays     = 30
	DefaultRetentionInterval = time.Hour
)

// RetentionConfig controls expiry. RetentionDays <= 0 disables it.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
}

// expirer is the slice of Store the cleaner needs.
type expirer interface {
	DeleteBefore(cutoff time.Time) (measurements, rejections int64, err error)
}

// RetentionCleaner removes measurements and rejections older than the
// retention window, once at startup and then every Interval.
type RetentionCleaner struct {
	target expirer
	keep   time.Duration
	every  time.Duration
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewRetentionCleaner starts a cleaner, or returns nil when retention is off.
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	c := RetentionConfig{RetentionDays: DefaultRetentionDays}
	if len(conf) > 0 {
		c = conf[0]
	}
	if c.RetentionDays <= 0 {
		return nil
	}
	if c.Interval <= 0 {
		c.Interval = DefaultRetentionInterval
	}
	rc := &RetentionCleaner{
		target: store,
		keep:   time.Duration(c.RetentionDays) * 24 * time.Hour,
		every:  c.Interval,
		now:    time.Now,
	}
	rc.RunOnce()

	ctx, cancel := context.WithCancel(context.Background())
	rc.cancel = cancel
	rc.done = make(chan struct{})
	go rc.loop(ctx)
	return rc
}

func (rc *RetentionCleaner) loop(ctx context.Context) {
	defer close(rc.done)
	t := time.NewTicker(rc.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rc.RunOnce()
		}
	}
}

// RunOnce deletes everything past the window and returns the row counts.
func (rc *RetentionCleaner) RunOnce() (measurements, rejections int64) {
	cutoff := rc.now().UTC().Add(-rc.keep)
	m, r, err := rc.target.DeleteBefore(cutoff)
	if err != nil {
		logging.Errorf("duckdb: retention: %v", err)
		return m, r
	}
	metrics.RecordExpired(m, r)
	if m+r > 0 {
		logging.Infof("duckdb: retention removed %d measurements and %d rejections before %s",
			m, r, cutoff.Format(time.RFC3339))
	}
	return m, r
}

// Stop ends the loop. Safe to call more than once.
func (rc *RetentionCleaner) Stop() {
	rc.once.Do(func() {
		if rc.cancel == nil {
			return
		}
		rc.cancel()
		<-rc.done
	})
}

// DeleteBefore removes measurements ingested, and rejections recorded, before
// cutoff.
func (s *Store) DeleteBefore(cutoff time.Time) (measurements, rejections int64, err error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var derr error
		if measurements, derr = deleteOlder(ctx, tx, "measurements", "ingested_at", cutoff); derr != nil {
			return derr
		}
		rejections, derr = deleteOlder(ctx, tx, "rejections", "rejected_at", cutoff)
		return derr
	})
	if err != nil {
		return 0, 0, err
	}
	return measurements, rejections, nil
}

func deleteOlder(ctx context.Context, tx *sql.Tx, table, column string, cutoff time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+column+" < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
