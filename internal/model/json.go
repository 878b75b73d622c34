package model

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Float is a float64 that survives JSON: NaN and the infinities encode as the
// strings "NaN", "+Inf" and "-Inf" instead of failing to marshal.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("model: invalid float %q: %w", string(data), err)
	}
	*f = Float(v)
	return nil
}

// MeasurementJSON is the wire form of a Measurement.
type MeasurementJSON struct {
	Name      string            `json:"name"`
	Timestamp Float             `json:"timestamp"`
	Value     Float             `json:"value"`
	Tags      map[string]string `json:"tags"`
}

// ToJSON converts m to its wire form.
func (m Measurement) ToJSON() MeasurementJSON {
	tags := m.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return MeasurementJSON{Name: m.Name, Timestamp: Float(m.Timestamp), Value: Float(m.Value), Tags: tags}
}

// Measurement converts the wire form back.
func (j MeasurementJSON) Measurement() Measurement {
	return NewMeasurement(j.Name, float64(j.Timestamp), float64(j.Value), j.Tags)
}

// RecordJSON is the wire form of a MeasurementRecord.
type RecordJSON struct {
	MeasurementJSON
	Source     string    `json:"source"`
	Format     string    `json:"format"`
	DocID      string    `json:"doc_id"`
	EventID    string    `json:"event_id"`
	IngestedAt time.Time `json:"ingested_at"`
}

// ToJSON converts r to its wire form.
func (r MeasurementRecord) ToJSON() RecordJSON {
	return RecordJSON{
		MeasurementJSON: r.Measurement.ToJSON(),
		Source:          r.Source,
		Format:          r.Format,
		DocID:           r.DocID,
		EventID:         r.EventID,
		IngestedAt:      r.IngestedAt,
	}
}

// Record converts the wire form back.
func (j RecordJSON) Record() MeasurementRecord {
	return MeasurementRecord{
		Measurement: j.MeasurementJSON.Measurement(),
		Source:      j.Source,
		Format:      j.Format,
		DocID:       j.DocID,
		EventID:     j.EventID,
		IngestedAt:  j.IngestedAt,
	}
}

// RecordsToJSON converts a slice of records to wire form.
func RecordsToJSON(records []MeasurementRecord) []RecordJSON {
	out := make([]RecordJSON, len(records))
	for i, r := range records {
		out[i] = r.ToJSON()
	}
	return out
}
