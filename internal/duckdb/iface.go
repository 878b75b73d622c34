package duckdb

import "github.com/tinytelemetry/tsnorm/internal/model"

// Type aliases re-export model types so callers that only deal with storage
// can import duckdb alone.
type (
	QueryOpts          = model.QueryOpts
	MeasurementRecord  = model.MeasurementRecord
	Rejection          = model.Rejection
	MeasurementQuerier = model.MeasurementQuerier
	SchemaQuerier      = model.SchemaQuerier
	MeasurementWriter  = model.MeasurementWriter
	ReadAPI            = model.ReadAPI
)

var (
	_ model.ReadAPI           = (*Store)(nil)
	_ model.MeasurementWriter = (*Store)(nil)
	_ model.RejectionWriter   = (*Store)(nil)
)
