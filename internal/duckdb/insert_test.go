package duckdb

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

func bufferRecord(i int) *MeasurementRecord {
	return &MeasurementRecord{
		Measurement: model.NewMeasurement("badge", float64(1457432331641+i), float64(i), map[string]string{"seq": fmt.Sprint(i % 3)}),
		Source:      "stdin",
		Format:      "simple",
		DocID:       "doc",
		IngestedAt:  time.Now().UTC(),
	}
}

func TestInsertBuffer_AddAndStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	for i := 0; i < 10; i++ {
		buf.Add(bufferRecord(i))
	}

	// Stop should flush all pending records
	buf.Stop()

	count, err := store.TotalMeasurementCount(QueryOpts{})
	if err != nil {
		t.Fatalf("TotalMeasurementCount: %v", err)
	}
	if count != 10 {
		t.Errorf("after Stop, TotalMeasurementCount = %d, want 10", count)
	}
}

func TestInsertBuffer_BatchThreshold(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 100})

	for i := 0; i < 250; i++ {
		buf.Add(bufferRecord(i))
	}
	buf.Stop()

	count, err := store.TotalMeasurementCount(QueryOpts{})
	if err != nil {
		t.Fatalf("TotalMeasurementCount: %v", err)
	}
	if count != 250 {
		t.Errorf("after batch insert, TotalMeasurementCount = %d, want 250", count)
	}
}

func TestInsertBuffer_ConcurrentAdd(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 50

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < recordsPerGoroutine; i++ {
				buf.Add(bufferRecord(i))
			}
		}()
	}

	wg.Wait()
	buf.Stop()

	expected := int64(numGoroutines * recordsPerGoroutine)
	count, err := store.TotalMeasurementCount(QueryOpts{})
	if err != nil {
		t.Fatalf("TotalMeasurementCount: %v", err)
	}
	if count != expected {
		t.Errorf("concurrent insert TotalMeasurementCount = %d, want %d", count, expected)
	}
}

func TestInsertBuffer_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	buf.Add(bufferRecord(0))
	buf.Add(nil)

	buf.Stop()
	buf.Stop()

	count, err := store.TotalMeasurementCount(QueryOpts{})
	if err != nil {
		t.Fatalf("TotalMeasurementCount: %v", err)
	}
	if count != 1 {
		t.Errorf("after double Stop, TotalMeasurementCount = %d, want 1", count)
	}
}

func TestInsertBuffer_AssignsEventID(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	rec := bufferRecord(0)
	buf.Add(rec)
	buf.Stop()

	if rec.EventID == "" {
		t.Fatal("Add must assign an event id")
	}
}

type fakeJournal struct {
	mu        sync.Mutex
	appended  int
	committed uint64
	closed    bool
}

func (j *fakeJournal) Append(*model.MeasurementRecord) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appended++
	return uint64(j.appended), nil
}

func (j *fakeJournal) Commit(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if seq > j.committed {
		j.committed = seq
	}
	return nil
}

func (j *fakeJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

type failingWriter struct{}

func (failingWriter) InsertMeasurementBatch([]*model.MeasurementRecord) error {
	return errors.New("disk full")
}

func TestInsertBuffer_CommitsJournalAfterFlush(t *testing.T) {
	store := newTestStore(t)
	j := &fakeJournal{}
	buf := NewInsertBuffer(store, InsertBufferConfig{Journal: j})

	for i := 0; i < 5; i++ {
		buf.Add(bufferRecord(i))
	}
	buf.Stop()

	if j.appended != 5 || j.committed != 5 {
		t.Fatalf("journal appended=%d committed=%d, want 5/5", j.appended, j.committed)
	}
	if !j.closed {
		t.Fatal("Stop must close the journal")
	}
}

func TestInsertBuffer_FailedFlushLeavesJournalUncommitted(t *testing.T) {
	j := &fakeJournal{}
	buf := NewInsertBuffer(failingWriter{}, InsertBufferConfig{Journal: j})

	buf.Add(bufferRecord(0))
	buf.Stop()

	if j.appended != 1 || j.committed != 0 {
		t.Fatalf("journal appended=%d committed=%d, want 1/0", j.appended, j.committed)
	}
}

func TestInsertBuffer_StoreDownLeavesJournalUncommitted(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.db.Exec("DROP TABLE measurements"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	j := &fakeJournal{}
	buf := NewInsertBuffer(store, InsertBufferConfig{Journal: j})

	for i := 0; i < 3; i++ {
		buf.Add(bufferRecord(i))
	}
	buf.Stop()

	if j.appended != 3 || j.committed != 0 {
		t.Fatalf("journal appended=%d committed=%d, want 3/0", j.appended, j.committed)
	}
}

func TestSQLTime(t *testing.T) {
	tests := []struct {
		ts      float64
		wantNil bool
	}{
		{1457432331641, false},
		{0, false},
		{2e14, true},
		{-2e14, true},
	}
	for _, tt := range tests {
		got := sqlTime(model.NewMeasurement("m", tt.ts, 0, nil))
		if (got == nil) != tt.wantNil {
			t.Errorf("sqlTime(%v) = %v, wantNil %v", tt.ts, got, tt.wantNil)
		}
	}
}

func TestInsertBuffer_AddAfterStopDoesNotPanic(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 2, FlushInterval: time.Hour})
	buf.Add(bufferRecord(0))
	if buf.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", buf.Pending())
	}
	buf.Stop()

	buf.Add(bufferRecord(1))
	buf.Add(bufferRecord(2))

	count, err := store.TotalMeasurementCount(QueryOpts{})
	if err != nil {
		t.Fatalf("TotalMeasurementCount: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3 (late full batch written inline)", count)
	}
}
