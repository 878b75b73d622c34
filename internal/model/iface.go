package model

// QueryOpts holds optional filters applied to most queries.
type QueryOpts struct {
	Name   string // empty = all measurement names
	Format string // empty = all formats
}

// MeasurementQuerier provides read-only queries on stored measurements.
type MeasurementQuerier interface {
	TotalMeasurementCount(opts QueryOpts) (int64, error)
	TopMeasurementNames(limit int, opts QueryOpts) ([]NameCount, error)
	TopSeries(limit int, opts QueryOpts) ([]SeriesCount, error)
	TopTagKeys(limit int, opts QueryOpts) ([]TagKeyStat, error)
	TagKeyValues(key string, limit int) (map[string]int64, error)
	FormatCounts() (map[string]int64, error)
	CountsByMinute(opts QueryOpts) ([]MinuteCount, error)
	RecentMeasurements(limit int, opts QueryOpts) ([]MeasurementRecord, error)
	RecentRejections(limit int) ([]Rejection, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// MeasurementWriter provides append-oriented write operations.
type MeasurementWriter interface {
	InsertMeasurementBatch(records []*MeasurementRecord) error
}

// RejectionWriter records documents that failed normalization.
type RejectionWriter interface {
	InsertRejection(r Rejection) error
}

// ReadAPI is the unified read contract for read surfaces (HTTP and socket RPC).
type ReadAPI interface {
	MeasurementQuerier
	SchemaQuerier
}
