package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/tsnorm/internal/jsonx"
	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

const insertMeasurementSQL = `INSERT INTO measurements
	(name, timestamp_ms, ts, value, tags, series, format, source, doc_id, event_id, ingested_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// maxTimestampMs bounds the ts column to what TIMESTAMP can hold. Values
// outside it keep only timestamp_ms.
const maxTimestampMs = 1e14

// InsertMeasurementBatch stores records in one transaction. When that fails
// each record is retried alone and the ones that still fail are dropped with
// a warning, so one bad row cannot sink its neighbours.
func (s *Store) InsertMeasurementBatch(records []*model.MeasurementRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.inTx(ctx, insertRows(records)); err == nil {
		return nil
	}

	dropped := 0
	var lastErr error
	for _, r := range records {
		if err := s.inTx(ctx, insertRows([]*model.MeasurementRecord{r})); err != nil {
			dropped++
			lastErr = err
			logging.Warnf("duckdb: dropping measurement (series=%.120s): %v", r.SeriesKey(), err)
		}
	}
	// Nothing stored: report it so the caller keeps the journal uncommitted.
	if dropped == len(records) {
		return fmt.Errorf("insert batch: all %d records failed: %w", dropped, lastErr)
	}
	if dropped > 0 {
		logging.Warnf("duckdb: batch partially failed, %d/%d records dropped", dropped, len(records))
	}
	return nil
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertRows(records []*model.MeasurementRecord) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertMeasurementSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, measurementArgs(r)...); err != nil {
				return fmt.Errorf("measurement insert: %w", err)
			}
		}
		return nil
	}
}

func measurementArgs(r *model.MeasurementRecord) []any {
	tags := "{}"
	if len(r.Tags) > 0 {
		data, err := jsonx.Marshal(r.Tags)
		if err != nil {
			logging.Warnf("duckdb: tags not encodable, storing {}: %v", err)
		} else {
			tags = string(data)
		}
	}
	eventID := r.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	at := r.IngestedAt
	if at.IsZero() {
		at = time.Now()
	}
	return []any{
		r.Name, r.Timestamp, sqlTime(r.Measurement), r.Value, tags, r.SeriesKey(),
		r.Format, r.Source, r.DocID, eventID, at.UTC(),
	}
}

// sqlTime is the ts column value for m: nil when the timestamp does not fit.
func sqlTime(m model.Measurement) any {
	if math.IsNaN(m.Timestamp) || math.Abs(m.Timestamp) > maxTimestampMs {
		return nil
	}
	return m.Time()
}

// InsertRejection records a document or array element that failed to
// normalize.
func (s *Store) InsertRejection(r model.Rejection) error {
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	at := r.RejectedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rejections (source, doc_id, element_index, reason, payload, rejected_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Source, r.DocID, r.Index, r.Reason, r.Payload, at.UTC(),
	)
	return err
}
