package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/tinytelemetry/tsnorm/internal/convert"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

func TestCountJSONDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want int
	}{
		{`{`, 1},
		{`}`, -1},
		{`{"a":[1,2]}`, 0},
		{`"values":[`, 1},
		{`{"s":"{[not counted"}`, 0},
		{`{"s":"escaped \" quote {"`, 1},
		{`],`, -1},
	}
	for _, tt := range tests {
		if got := CountJSONDepth(tt.line); got != tt.want {
			t.Errorf("CountJSONDepth(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}

func TestProcessor_MultiLineCollectd(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(NewNormalizer(nil, sink), "stdin")
	lines := strings.Split(`   {
      "values":[
         253870080
      ],
      "dstypes":[
         "gauge"
      ],
      "dsnames":[
         "value"
      ],
      "time":1457444699.028,
      "interval":60.000,
      "host":"macvlii00970.xmp.net.intra",
      "plugin":"memory",
      "plugin_instance":"",
      "type":"memory",
      "type_instance":"used",
      "meta":{
         "tsdb_tag_type":"",
         "tsdb_tag_typeInstance":"category1",
         "tsdb_tag_add_storage":"RAM",
         "tsdb_prefix":"sys.",
         "tsdb_metric":"sys.memory",
         "tsdb_tag_add_unit":"bytes",
         "tsdb_tag_add_collector":"collectd"
      }
   }`, "\n")

	var results []*ProcessResult
	for _, line := range lines {
		if r := p.ProcessLine(line); r != nil {
			results = append(results, r)
		}
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("process error: %v", results[0].Err)
	}
	if p.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", p.Pending())
	}

	records := sink.snapshot()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	want := model.NewMeasurement("sys.memory", 1457444699028, 253870080, map[string]string{
		"fqdn":      "macvlii00970.xmp.net.intra",
		"category1": "used",
		"collector": "collectd",
		"storage":   "RAM",
		"unit":      "bytes",
	})
	if !records[0].Measurement.Equal(want) {
		t.Fatalf("measurement = %v, want %v", records[0].Measurement, want)
	}
}

func TestProcessor_MultiLineArray(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(NewNormalizer(nil, sink), "tcp")
	for _, line := range []string{
		`[`,
		`  {"measurement":"badge1","time":1457432331641,"value":100},`,
		`  {"measurement":"badge2","time":1457432331555,"value":200}`,
		`]`,
	} {
		p.ProcessLine(line)
	}
	if got := len(sink.snapshot()); got != 2 {
		t.Fatalf("records = %d, want 2", got)
	}
}

func TestProcessor_InterleavedSources(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(NewNormalizer(nil, sink), "stdin")

	steps := []model.IngestEnvelope{
		{Source: "a", Line: `{"measurement":"from-a",`},
		{Source: "b", Line: `{"measurement":"from-b","time":2,"value":2}`},
		{Source: "a", Line: `"time":1,"value":1}`},
	}
	for _, env := range steps {
		p.ProcessEnvelope(env)
	}
	records := sink.snapshot()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Name != "from-b" || records[0].Source != "b" {
		t.Fatalf("first record = %+v", records[0])
	}
	if records[1].Name != "from-a" || records[1].Source != "a" {
		t.Fatalf("second record = %+v", records[1])
	}
}

func TestProcessor_PlainTextIsRejected(t *testing.T) {
	t.Parallel()

	rejects := &recordingRejects{}
	p := NewProcessor(NewNormalizer(nil, nil, WithRejectSink(rejects)), "stdin")

	if r := p.ProcessLine("   "); r != nil {
		t.Fatalf("blank line result = %+v, want nil", r)
	}
	r := p.ProcessLine("hello world")
	if r == nil || !errors.Is(r.Err, convert.ErrMalformedInput) {
		t.Fatalf("result = %+v, want malformed error", r)
	}
	if got := len(rejects.snapshot()); got != 1 {
		t.Fatalf("rejections = %d, want 1", got)
	}
}

func TestProcessor_FlushAndSizeCap(t *testing.T) {
	t.Parallel()

	rejects := &recordingRejects{}
	p := NewProcessor(NewNormalizer(nil, nil, WithRejectSink(rejects)), "stdin")
	if r := p.ProcessLine(`{"measurement":"never closed",`); r != nil {
		t.Fatal("expected accumulation")
	}
	results := p.Flush()
	if len(results) != 1 || !errors.Is(results[0].Err, convert.ErrMalformedInput) {
		t.Fatalf("flush results = %+v", results)
	}

	p.maxBytes = 64
	var got *ProcessResult
	for i := 0; i < 10 && got == nil; i++ {
		if i == 0 {
			got = p.ProcessLine(`{`)
			continue
		}
		got = p.ProcessLine(`"k":"` + strings.Repeat("x", 16) + `",`)
	}
	if got == nil {
		t.Fatal("size cap did not force the document out")
	}
	if p.Pending() != 0 {
		t.Fatalf("pending = %d after cap", p.Pending())
	}
}

func TestProcessor_StreamsOfOneSource(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewProcessor(NewNormalizer(nil, sink), "tcp")

	steps := []model.IngestEnvelope{
		{Source: "tcp", Stream: "10.0.0.1:5000", Line: `{"measurement":"first",`},
		{Source: "tcp", Stream: "10.0.0.2:5000", Line: `{"measurement":"second",`},
		{Source: "tcp", Stream: "10.0.0.2:5000", Line: `"time":2,"value":2}`},
		{Source: "tcp", Stream: "10.0.0.1:5000", Line: `"time":1,"value":1}`},
	}
	for _, env := range steps {
		if r := p.ProcessEnvelope(env); r != nil && r.Err != nil {
			t.Fatalf("ProcessEnvelope: %v", r.Err)
		}
	}
	records := sink.snapshot()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Name != "second" || records[1].Name != "first" {
		t.Fatalf("records = %v, %v", records[0].Measurement, records[1].Measurement)
	}
	for _, r := range records {
		if r.Source != "tcp" {
			t.Fatalf("source = %q, want tcp", r.Source)
		}
	}
}
