package convert

import (
	"fmt"

	"github.com/tinytelemetry/tsnorm/internal/document"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// Router dispatches documents to the first registered parser that accepts
// them. Arrays always go to the simple converter's batch path.
type Router struct {
	simple  SimpleConverter
	parsers []Parser
}

// NewRouter returns a Router over parsers, tried in order. With no parsers it
// registers the simple and collectd converters.
func NewRouter(parsers ...Parser) *Router {
	if len(parsers) == 0 {
		parsers = []Parser{SimpleConverter{}, CollectdConverter{}}
	}
	return &Router{parsers: parsers}
}

// Parsers returns the registered parsers in dispatch order.
func (r *Router) Parsers() []Parser {
	out := make([]Parser, len(r.parsers))
	copy(out, r.parsers)
	return out
}

// Detect returns the parser that would handle doc.
func (r *Router) Detect(doc document.Value) (Parser, bool) {
	switch doc.Kind() {
	case document.Array:
		return r.simple, true
	case document.Object:
		for _, p := range r.parsers {
			if p.Accept(doc) {
				return p, true
			}
		}
	}
	return nil, false
}

// Route converts doc with the parser Detect selects. It returns the parser
// name alongside the measurements.
func (r *Router) Route(doc document.Value) (string, []model.Measurement, error) {
	p, ok := r.Detect(doc)
	if !ok {
		return "", nil, fmt.Errorf("%w: no converter accepts document of kind %s", ErrInvalidDocument, doc.Kind())
	}
	if doc.Kind() == document.Array {
		ms, err := r.simple.ConvertAll(doc)
		return p.Name(), ms, err
	}
	ms, err := p.Convert(doc)
	return p.Name(), ms, err
}

// ConvertBytes parses raw JSON text and routes the result. Invalid JSON fails
// with ErrMalformedInput; unrecognized documents with ErrInvalidDocument.
func ConvertBytes(r *Router, raw []byte) (string, []model.Measurement, error) {
	doc, err := document.Parse(raw)
	if err != nil {
		return "", nil, err
	}
	return r.Route(doc)
}
