// Package convert turns decoded monitoring payloads into model.Measurement
// values. Converters are stateless and safe for concurrent use.
package convert

import (
	"github.com/tinytelemetry/tsnorm/internal/document"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// Format names reported by the built-in converters.
const (
	FormatSimple   = "simple"
	FormatCollectd = "collectd"
)

// Parser recognizes one input format and converts documents of that format.
// Accept never fails; Convert returns ErrInvalidDocument when Accept would
// have returned false.
type Parser interface {
	Name() string
	Accept(doc document.Value) bool
	Convert(doc document.Value) ([]model.Measurement, error)
}
