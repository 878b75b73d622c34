package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/tsnorm/internal/convert"
	"github.com/tinytelemetry/tsnorm/internal/document"
	"github.com/tinytelemetry/tsnorm/internal/jsonx"
	"github.com/tinytelemetry/tsnorm/internal/metrics"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// BatchMode selects how an array payload with bad elements is handled.
type BatchMode string

const (
	// BatchAbort rejects the whole array when any element is invalid.
	BatchAbort BatchMode = "abort"
	// BatchSkip stores the valid elements and rejects the others one by one.
	BatchSkip BatchMode = "skip"
)

// DefaultMaxRejectPayload bounds the payload text kept with a rejection.
const DefaultMaxRejectPayload = 4096

// ParseBatchMode validates a batch mode name. Empty means BatchAbort.
func ParseBatchMode(s string) (BatchMode, error) {
	switch BatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", BatchAbort:
		return BatchAbort, nil
	case BatchSkip:
		return BatchSkip, nil
	default:
		return "", fmt.Errorf("invalid batch mode %q (want abort or skip)", s)
	}
}

// Result describes one ingested payload.
type Result struct {
	DocID    string
	Format   string
	Records  []*model.MeasurementRecord
	Rejected int
}

// Normalizer parses raw payloads, converts them with a convert.Router and
// hands the resulting records to a sink.
type Normalizer struct {
	router     *convert.Router
	sink       RecordSink
	rejects    RejectSink
	mode       BatchMode
	now        func() time.Time
	maxPayload int
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithRejectSink sets where rejections go. The default logs them.
func WithRejectSink(s RejectSink) Option {
	return func(n *Normalizer) { n.rejects = s }
}

// WithBatchMode sets the array policy. The default is BatchAbort.
func WithBatchMode(m BatchMode) Option {
	return func(n *Normalizer) { n.mode = m }
}

// WithClock overrides the ingest timestamp source.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// NewNormalizer creates a Normalizer. A nil router uses the built-in
// converters; a nil sink discards records.
func NewNormalizer(router *convert.Router, sink RecordSink, opts ...Option) *Normalizer {
	if router == nil {
		router = convert.NewRouter()
	}
	n := &Normalizer{
		router:     router,
		sink:       sink,
		rejects:    LogRejectSink{},
		mode:       BatchAbort,
		now:        time.Now,
		maxPayload: DefaultMaxRejectPayload,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Mode returns the configured batch mode.
func (n *Normalizer) Mode() BatchMode { return n.mode }

// Convert is a dry run: it parses and converts payload without touching any
// sink.
func (n *Normalizer) Convert(payload []byte) (string, []model.Measurement, error) {
	return convert.ConvertBytes(n.router, payload)
}

// Ingest normalizes one payload from source. The returned Result is non-nil
// even on error and carries the document id used for the rejection.
func (n *Normalizer) Ingest(source string, payload []byte) (*Result, error) {
	res := &Result{DocID: uuid.NewString()}
	ingestedAt := n.now().UTC()

	doc, err := document.Parse(payload)
	if err != nil {
		n.reject(res, source, -1, err, string(payload), ingestedAt)
		metrics.RecordDocument("", outcomeFor(err))
		return res, err
	}

	if n.mode == BatchSkip && doc.Kind() == document.Array {
		return n.ingestEach(res, source, doc, ingestedAt)
	}

	format, ms, err := n.router.Route(doc)
	res.Format = format
	if err != nil {
		n.reject(res, source, -1, err, string(payload), ingestedAt)
		metrics.RecordDocument(format, outcomeFor(err))
		return res, err
	}

	n.emit(res, source, ms, ingestedAt)
	metrics.RecordDocument(format, metrics.OutcomeOK)
	return res, nil
}

func (n *Normalizer) ingestEach(res *Result, source string, doc document.Value, ingestedAt time.Time) (*Result, error) {
	res.Format = convert.FormatSimple
	results, err := convert.SimpleConverter{}.ConvertEach(doc)
	if err != nil {
		return res, err
	}
	items, _ := doc.Array()
	good := make([]model.Measurement, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			n.reject(res, source, r.Index, r.Err, elementText(items[r.Index]), ingestedAt)
			metrics.RejectedElementsTotal.Inc()
			continue
		}
		good = append(good, r.Measurement)
	}
	n.emit(res, source, good, ingestedAt)

	outcome := metrics.OutcomeOK
	if res.Rejected > 0 {
		outcome = metrics.OutcomePartial
	}
	metrics.RecordDocument(res.Format, outcome)
	return res, nil
}

func (n *Normalizer) emit(res *Result, source string, ms []model.Measurement, ingestedAt time.Time) {
	res.Records = make([]*model.MeasurementRecord, 0, len(ms))
	for i, m := range ms {
		rec := &model.MeasurementRecord{
			Measurement: m,
			Source:      source,
			Format:      res.Format,
			DocID:       res.DocID,
			EventID:     res.DocID + "-" + strconv.Itoa(i),
			IngestedAt:  ingestedAt,
		}
		res.Records = append(res.Records, rec)
		if n.sink != nil {
			n.sink.Add(rec)
		}
	}
	metrics.RecordMeasurements(res.Format, len(ms))
}

func (n *Normalizer) reject(res *Result, source string, index int, err error, payload string, at time.Time) {
	res.Rejected++
	if n.rejects == nil {
		return
	}
	if n.maxPayload > 0 && len(payload) > n.maxPayload {
		payload = payload[:n.maxPayload]
	}
	n.rejects.Reject(model.Rejection{
		Source:     source,
		DocID:      res.DocID,
		Index:      index,
		Reason:     err.Error(),
		Payload:    payload,
		RejectedAt: at,
	})
}

func elementText(v document.Value) string {
	data, err := jsonx.Marshal(v.Raw())
	if err != nil {
		return ""
	}
	return string(data)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, convert.ErrMalformedInput):
		return metrics.OutcomeMalformed
	case errors.Is(err, convert.ErrStructuralViolation):
		return metrics.OutcomeStructural
	default:
		return metrics.OutcomeInvalid
	}
}
