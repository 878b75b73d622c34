package main

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/duckdb"
	"github.com/tinytelemetry/tsnorm/internal/ingest"
	"github.com/tinytelemetry/tsnorm/internal/journal"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

type captureSink struct {
	records []*model.MeasurementRecord
}

func (s *captureSink) Add(record *model.MeasurementRecord) {
	s.records = append(s.records, record)
}

func TestReplayUncommittedJournal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ingest.journal")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	defer j.Close()

	for i := 0; i < 5; i++ {
		rec := &model.MeasurementRecord{
			Measurement: model.NewMeasurement("sys.disk", float64(1457350114593+i), float64(i), map[string]string{"direction": "read"}),
			Source:      "tcp",
			Format:      "collectd",
			DocID:       "doc",
			EventID:     fmt.Sprintf("doc-%d", i),
			IngestedAt:  time.Now().UTC(),
		}
		if _, err := j.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if err := replayUncommittedJournal(j, store, 2); err != nil {
		t.Fatalf("replay: %v", err)
	}
	count, err := store.TotalMeasurementCount(model.QueryOpts{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Fatalf("replayed %d records, want 5", count)
	}

	// Everything is committed now; a second replay is a no-op.
	if err := replayUncommittedJournal(j, store, 2); err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if count, _ := store.TotalMeasurementCount(model.QueryOpts{}); count != 5 {
		t.Fatalf("after second replay count = %d, want 5", count)
	}
}

func TestReplayUncommittedJournal_NilJournal(t *testing.T) {
	t.Parallel()
	if err := replayUncommittedJournal(nil, nil, 0); err != nil {
		t.Fatalf("nil journal: %v", err)
	}
}

func TestRunIngestLoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	processor := ingest.NewProcessor(ingest.NewNormalizer(nil, sink, ingest.WithRejectSink(ingest.MultiRejectSink{})), "")

	lines := make(chan model.IngestEnvelope, 16)
	for _, env := range []model.IngestEnvelope{
		{Source: "tcp", Stream: "c1", Line: `{"measurement":"badge",`},
		{Source: "tcp", Stream: "c2", Line: `{"measurement":"badge","time":1457432331641,"value":7}`},
		{Source: "tcp", Stream: "c1", Line: `"time":1457432331641,"value":100}`},
		{Source: "stdin", Line: `not json`},
		{Source: "stdin", Line: `[{"measurement":"a","time":1,"value":1}`},
	} {
		lines <- env
	}
	close(lines)

	docs, failed := runIngestLoop(lines, processor)
	if docs != 4 || failed != 2 {
		t.Fatalf("docs = %d, failed = %d, want 4 and 2", docs, failed)
	}
	if len(sink.records) != 2 {
		t.Fatalf("records = %d, want 2", len(sink.records))
	}
	if sink.records[0].Value != 7 || sink.records[1].Value != 100 {
		t.Fatalf("values = %v, %v", sink.records[0].Value, sink.records[1].Value)
	}
}
