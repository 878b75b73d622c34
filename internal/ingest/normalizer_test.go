package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/convert"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

var errTest = errors.New("test failure")

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer(mode BatchMode) (*Normalizer, *recordingSink, *recordingRejects) {
	sink := &recordingSink{}
	rejects := &recordingRejects{}
	n := NewNormalizer(nil, sink,
		WithRejectSink(rejects),
		WithBatchMode(mode),
		WithClock(func() time.Time { return fixedNow }),
	)
	return n, sink, rejects
}

func TestParseBatchMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    BatchMode
		wantErr bool
	}{
		{"", BatchAbort, false},
		{"abort", BatchAbort, false},
		{" SKIP ", BatchSkip, false},
		{"partial", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBatchMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseBatchMode(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestIngest_Collectd(t *testing.T) {
	t.Parallel()

	n, sink, rejects := newTestNormalizer(BatchAbort)
	payload := `{"values":[0,0],"dstypes":["derive","derive"],"dsnames":["read","write"],"time":1457350114.593,"interval":60.000,"host":"macvlid00497.xmp.net.intra","plugin":"disk","plugin_instance":"rootvg-swap","type":"disk_merged","type_instance":"","meta":{"tsdb_tag_pluginInstance":"name","tsdb_metric":"sys.disk","tsdb_tag_dsname":"direction","tsdb_tag_add_collector":"collectd"}}`

	res, err := n.Ingest("http", []byte(payload))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Format != convert.FormatCollectd || len(res.Records) != 2 {
		t.Fatalf("result = %+v", res)
	}
	records := sink.snapshot()
	if len(records) != 2 {
		t.Fatalf("sink records = %d, want 2", len(records))
	}
	for i, rec := range records {
		if rec.DocID != res.DocID || rec.Source != "http" || rec.Format != convert.FormatCollectd {
			t.Fatalf("record[%d] = %+v", i, rec)
		}
		if !rec.IngestedAt.Equal(fixedNow) {
			t.Fatalf("record[%d] ingested at %v, want %v", i, rec.IngestedAt, fixedNow)
		}
	}
	if records[0].EventID == records[1].EventID {
		t.Fatal("event ids must be unique per record")
	}
	if records[0].Tags["direction"] != "read" || records[1].Tags["direction"] != "write" {
		t.Fatalf("direction tags = %q, %q", records[0].Tags["direction"], records[1].Tags["direction"])
	}
	if len(rejects.snapshot()) != 0 {
		t.Fatalf("unexpected rejections: %+v", rejects.snapshot())
	}
}

func TestIngest_RejectsWholeDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"malformed", `{"measurement":`, convert.ErrMalformedInput},
		{"unrecognized", `{"foo":"bar"}`, convert.ErrInvalidDocument},
		{"structural", `{"values":[1,2],"dstypes":["gauge"],"dsnames":["value"],"time":1,"interval":10,"host":"h","plugin":"p","plugin_instance":"","type":"t","type_instance":"ti","meta":{"tsdb_tag_add_collector":"collectd"}}`, convert.ErrStructuralViolation},
		{"bad array element aborts", `[{"measurement":"a","time":1,"value":1},{"measurement":"b"}]`, convert.ErrInvalidDocument},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n, sink, rejects := newTestNormalizer(BatchAbort)
			res, err := n.Ingest("tcp", []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if res == nil || res.DocID == "" {
				t.Fatal("expected a result with a doc id")
			}
			if got := len(sink.snapshot()); got != 0 {
				t.Fatalf("sink records = %d, want 0", got)
			}
			rejs := rejects.snapshot()
			if len(rejs) != 1 {
				t.Fatalf("rejections = %d, want 1", len(rejs))
			}
			if rejs[0].Index != -1 || rejs[0].DocID != res.DocID || rejs[0].Payload != tt.payload || rejs[0].Source != "tcp" {
				t.Fatalf("rejection = %+v", rejs[0])
			}
		})
	}
}

func TestIngest_SkipMode(t *testing.T) {
	t.Parallel()

	n, sink, rejects := newTestNormalizer(BatchSkip)
	payload := `[{"measurement":"a","time":1,"value":1},{"measurement":"b","value":2},{"measurement":"c","time":3,"value":3}]`
	res, err := n.Ingest("http", []byte(payload))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Rejected != 1 || len(res.Records) != 2 {
		t.Fatalf("result = %+v, want 2 records and 1 rejection", res)
	}
	records := sink.snapshot()
	if records[0].Name != "a" || records[1].Name != "c" {
		t.Fatalf("records = %v, %v", records[0].Measurement, records[1].Measurement)
	}
	rejs := rejects.snapshot()
	if len(rejs) != 1 || rejs[0].Index != 1 {
		t.Fatalf("rejections = %+v", rejs)
	}
	if !strings.Contains(rejs[0].Payload, `"measurement":"b"`) {
		t.Fatalf("rejected payload = %q", rejs[0].Payload)
	}
}

func TestIngest_SkipModeLeavesObjectsAlone(t *testing.T) {
	t.Parallel()

	n, _, _ := newTestNormalizer(BatchSkip)
	if _, err := n.Ingest("http", []byte(`{"measurement":"a"}`)); !errors.Is(err, convert.ErrInvalidDocument) {
		t.Fatalf("error = %v, want ErrInvalidDocument", err)
	}
}

func TestIngest_TruncatesRejectedPayload(t *testing.T) {
	t.Parallel()

	n, _, rejects := newTestNormalizer(BatchAbort)
	payload := `{"x":"` + strings.Repeat("a", DefaultMaxRejectPayload*2) + `"}`
	if _, err := n.Ingest("http", []byte(payload)); err == nil {
		t.Fatal("expected error")
	}
	if got := len(rejects.snapshot()[0].Payload); got != DefaultMaxRejectPayload {
		t.Fatalf("payload length = %d, want %d", got, DefaultMaxRejectPayload)
	}
}

func TestNormalizerConvert_DryRun(t *testing.T) {
	t.Parallel()

	n, sink, rejects := newTestNormalizer(BatchAbort)
	format, ms, err := n.Convert([]byte(`{"measurement":"badge","time":1457432331641,"value":100}`))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if format != convert.FormatSimple || len(ms) != 1 || !ms[0].Equal(model.NewMeasurement("badge", 1457432331641, 100, nil)) {
		t.Fatalf("Convert = %s %v", format, ms)
	}
	if len(sink.snapshot()) != 0 || len(rejects.snapshot()) != 0 {
		t.Fatal("dry run must not reach sinks")
	}
}
