package convert

import (
	"fmt"

	"github.com/tinytelemetry/tsnorm/internal/document"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// Field names of the simple envelope.
const (
	fieldMeasurement = "measurement"
	fieldTime        = "time"
	fieldValue       = "value"
	fieldTags        = "tags"
)

// SimpleConverter handles envelopes already shaped like a measurement:
//
//	{"measurement":"badge","time":1457432331641,"value":100,"tags":{"color":"GREEN"}}
//
// and arrays of them.
type SimpleConverter struct{}

// ElementError reports the failure of one array element.
type ElementError struct {
	Index int
	Err   error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("element %d: %v", e.Index, e.Err)
}

func (e *ElementError) Unwrap() error { return e.Err }

// ElementResult is the outcome of converting one array element.
type ElementResult struct {
	Index       int
	Measurement model.Measurement
	Err         error
}

func (SimpleConverter) Name() string { return FormatSimple }

// Accept reports whether doc is a simple envelope: a string measurement, an
// integer time, a numeric value and, when present and not null, an object of
// tags.
func (SimpleConverter) Accept(doc document.Value) bool {
	name, ok := doc.Get(fieldMeasurement)
	if !ok || name.Kind() != document.String {
		return false
	}
	ts, ok := doc.Get(fieldTime)
	if !ok {
		return false
	}
	if _, isInt := ts.Integer(); !isInt {
		return false
	}
	value, ok := doc.Get(fieldValue)
	if !ok || value.Kind() != document.Number {
		return false
	}
	if tags, ok := doc.Get(fieldTags); ok && !tags.IsNull() && tags.Kind() != document.Object {
		return false
	}
	return true
}

// ExtractTags keeps the string-valued members of tags and drops the rest.
func (SimpleConverter) ExtractTags(tags document.Value) map[string]string {
	out := make(map[string]string)
	fields, _ := tags.Fields()
	for _, f := range fields {
		if s, ok := f.Value.StringValue(); ok {
			out[f.Name] = s
		}
	}
	return out
}

// ConvertOne converts a single envelope.
func (c SimpleConverter) ConvertOne(doc document.Value) (model.Measurement, error) {
	if !c.Accept(doc) {
		return model.Measurement{}, fmt.Errorf("%w: not a valid simple metric", ErrInvalidDocument)
	}
	name, _ := doc.Get(fieldMeasurement)
	ts, _ := doc.Get(fieldTime)
	value, _ := doc.Get(fieldValue)

	nameStr, _ := name.StringValue()
	millis, _ := ts.Integer()
	v, _ := value.Number()

	var tags map[string]string
	if tagsDoc, ok := doc.Get(fieldTags); ok {
		tags = c.ExtractTags(tagsDoc)
	}
	return model.NewMeasurement(nameStr, float64(millis), v, tags), nil
}

// ConvertAll converts every element of an array in order. The first element
// that fails aborts the whole batch and no measurements are returned.
func (c SimpleConverter) ConvertAll(doc document.Value) ([]model.Measurement, error) {
	items, ok := doc.Array()
	if !ok {
		return nil, fmt.Errorf("%w: expected an array of simple metrics", ErrInvalidDocument)
	}
	out := make([]model.Measurement, 0, len(items))
	for i, item := range items {
		m, err := c.ConvertOne(item)
		if err != nil {
			return nil, &ElementError{Index: i, Err: err}
		}
		out = append(out, m)
	}
	return out, nil
}

// ConvertEach converts every element of an array independently and reports
// one result per element, in order.
func (c SimpleConverter) ConvertEach(doc document.Value) ([]ElementResult, error) {
	items, ok := doc.Array()
	if !ok {
		return nil, fmt.Errorf("%w: expected an array of simple metrics", ErrInvalidDocument)
	}
	out := make([]ElementResult, len(items))
	for i, item := range items {
		m, err := c.ConvertOne(item)
		out[i] = ElementResult{Index: i, Measurement: m, Err: err}
	}
	return out, nil
}

// Convert converts an object to one measurement and an array with ConvertAll.
func (c SimpleConverter) Convert(doc document.Value) ([]model.Measurement, error) {
	if doc.Kind() == document.Array {
		return c.ConvertAll(doc)
	}
	m, err := c.ConvertOne(doc)
	if err != nil {
		return nil, err
	}
	return []model.Measurement{m}, nil
}
