// Package jsonx wraps the sonic JSON codec with the frozen configurations
// used across tsnorm.
package jsonx

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.Config{
	EscapeHTML:       true,
	CompactMarshaler: true,
}.Froze()

// numberAPI keeps JSON numbers as json.Number so integer literals can be told
// apart from fractional ones after decoding.
var numberAPI = sonic.Config{
	UseNumber: true,
}.Froze()

// Marshal encodes v.
func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// UnmarshalNumber decodes data into v, preserving number literals.
func UnmarshalNumber(data []byte, v interface{}) error {
	return numberAPI.Unmarshal(data, v)
}

// Valid reports whether data is a syntactically valid JSON value.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// NewEncoder returns a streaming encoder writing to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}
