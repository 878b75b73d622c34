package model

import "time"

// MeasurementRecord is a Measurement as stored and served: the normalized
// value plus where it came from. It is the canonical type for storage,
// transport (socket RPC) and display.
type MeasurementRecord struct {
	Measurement
	Source     string    // "tcp", "stdin", "http"
	Format     string    // converter that produced it: "simple", "collectd"
	DocID      string    // shared by every record derived from one input document
	EventID    string    // unique per record
	IngestedAt time.Time // wall clock when the record entered the pipeline
}

// Rejection describes an input document (or one array element of it) that
// could not be normalized.
type Rejection struct {
	Source     string
	DocID      string
	Index      int // array element index, -1 for the whole document
	Reason     string
	Payload    string
	RejectedAt time.Time
}

// NameCount is a measurement name and the number of stored records for it.
type NameCount struct {
	Name  string
	Count int64
}

// SeriesCount is a series key and the number of stored records for it.
type SeriesCount struct {
	Series string
	Count  int64
}

// TagKeyStat is aggregate usage of one tag key.
type TagKeyStat struct {
	Key          string
	UniqueValues int
	TotalCount   int64
}

// MinuteCount is the number of records ingested during one minute, split by
// the converter that produced them.
type MinuteCount struct {
	Minute   time.Time
	Simple   int64
	Collectd int64
	Total    int64
}
