package ingest

import (
	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// RecordSink receives normalized records. Implementations must not block for
// long; the insert buffer and forwarders queue internally.
type RecordSink interface {
	Add(record *model.MeasurementRecord)
}

// RejectSink receives documents, or array elements, that failed to normalize.
type RejectSink interface {
	Reject(r model.Rejection)
}

// FanoutSink hands every record to each of its sinks in order.
type FanoutSink []RecordSink

func (f FanoutSink) Add(record *model.MeasurementRecord) {
	for _, s := range f {
		if s != nil {
			s.Add(record)
		}
	}
}

// StoreRejectSink persists rejections through a model.RejectionWriter. Write
// failures are logged and otherwise ignored.
type StoreRejectSink struct {
	Writer model.RejectionWriter
}

func (s StoreRejectSink) Reject(r model.Rejection) {
	if s.Writer == nil {
		return
	}
	if err := s.Writer.InsertRejection(r); err != nil {
		logging.Warnf("ingest: store rejection for doc %s: %v", r.DocID, err)
	}
}

// LogRejectSink logs each rejection at warn level.
type LogRejectSink struct{}

func (LogRejectSink) Reject(r model.Rejection) {
	if r.Index >= 0 {
		logging.Warnf("ingest: rejected element %d of doc %s from %s: %s", r.Index, r.DocID, r.Source, r.Reason)
		return
	}
	logging.Warnf("ingest: rejected doc %s from %s: %s", r.DocID, r.Source, r.Reason)
}

// MultiRejectSink hands every rejection to each of its sinks in order.
type MultiRejectSink []RejectSink

func (m MultiRejectSink) Reject(r model.Rejection) {
	for _, s := range m {
		if s != nil {
			s.Reject(r)
		}
	}
}
