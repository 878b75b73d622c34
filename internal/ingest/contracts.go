package ingest

import "github.com/tinytelemetry/tsnorm/internal/model"

// ProcessorNameJSON names the line-oriented JSON document processor.
const ProcessorNameJSON = "json"

// EnvelopeProcessor turns source-tagged lines into normalized documents.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
	// Flush finishes documents still being accumulated, at end of input.
	Flush() []*ProcessResult
}

// NewEnvelopeProcessor returns the JSON processor. sourceName stamps lines
// that arrive without one; maxDocumentBytes <= 0 keeps the default cap.
func NewEnvelopeProcessor(normalizer *Normalizer, sourceName string, maxDocumentBytes int) EnvelopeProcessor {
	p := NewProcessor(normalizer, sourceName)
	p.SetMaxDocumentBytes(maxDocumentBytes)
	return p
}
