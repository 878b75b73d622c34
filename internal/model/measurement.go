package model

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Measurement is the canonical normalized record produced by every converter.
// Timestamp is in milliseconds since the Unix epoch and may carry a
// sub-millisecond fraction. Tags is never nil on values built with
// NewMeasurement.
type Measurement struct {
	Name      string            `json:"name"`
	Timestamp float64           `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags"`
}

// NewMeasurement builds a Measurement that owns a private copy of tags.
func NewMeasurement(name string, timestamp, value float64, tags map[string]string) Measurement {
	return Measurement{
		Name:      name,
		Timestamp: timestamp,
		Value:     value,
		Tags:      CloneTags(tags),
	}
}

// CloneTags copies tags. A nil or empty input yields an empty, non-nil map.
func CloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// Equal reports structural equality over name, timestamp, value and tag
// contents. A nil tag map equals an empty one. Floats compare like
// Double.compare: NaN equals NaN and -0 differs from +0.
func (m Measurement) Equal(other Measurement) bool {
	if m.Name != other.Name {
		return false
	}
	if !floatEqual(m.Timestamp, other.Timestamp) || !floatEqual(m.Value, other.Value) {
		return false
	}
	if len(m.Tags) != len(other.Tags) {
		return false
	}
	for k, v := range m.Tags {
		ov, ok := other.Tags[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

func floatEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b && math.Signbit(a) == math.Signbit(b)
}

// SeriesKey identifies the time series a measurement belongs to: the name
// followed by the tag pairs in key order, e.g. "sys.disk,direction=read,fqdn=h1".
func (m Measurement) SeriesKey() string {
	var b strings.Builder
	b.WriteString(m.Name)
	for _, k := range SortedTagKeys(m.Tags) {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m.Tags[k])
	}
	return b.String()
}

// Key is a canonical string over all four fields. Two measurements have the
// same Key exactly when Equal reports true, so it can stand in for a hash.
func (m Measurement) Key() string {
	return m.SeriesKey() + " " + formatFloat(m.Timestamp) + " " + formatFloat(m.Value)
}

// Time converts the millisecond timestamp to a time.Time, keeping the
// sub-millisecond fraction.
func (m Measurement) Time() time.Time {
	ms := math.Floor(m.Timestamp)
	frac := m.Timestamp - ms
	return time.UnixMilli(int64(ms)).Add(time.Duration(frac * float64(time.Millisecond))).UTC()
}

func (m Measurement) String() string {
	return m.Name + " " + formatFloat(m.Timestamp) + " " + formatFloat(m.Value) + " " + formatTags(m.Tags)
}

// SortedTagKeys returns the keys of tags in ascending order.
func SortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatTags(tags map[string]string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range SortedTagKeys(tags) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
