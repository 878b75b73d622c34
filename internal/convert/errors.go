package convert

import (
	"errors"

	"github.com/tinytelemetry/tsnorm/internal/document"
)

var (
	// ErrMalformedInput is returned when raw input is not valid JSON.
	ErrMalformedInput = document.ErrMalformed

	// ErrInvalidDocument is returned when a document does not have the shape
	// a converter requires, or when no converter recognizes it.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrStructuralViolation is returned when a collectd envelope carries
	// values and dsnames arrays of different lengths.
	ErrStructuralViolation = errors.New("structural violation")
)
