// Package document is a read-only view over a decoded JSON value. Accessors
// report absence or a type mismatch through a boolean instead of failing, so
// format predicates can be written as short-circuiting conjunctions.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tinytelemetry/tsnorm/internal/jsonx"
)

// ErrMalformed is returned by Parse when the input is not valid JSON.
var ErrMalformed = errors.New("malformed JSON input")

// Kind is the JSON type of a Value.
type Kind int

const (
	// Invalid is the kind of a missing value.
	Invalid Kind = iota
	Null
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "missing"
	}
}

// Value is one node of a JSON document. The zero Value is missing.
type Value struct {
	raw   interface{}
	valid bool
}

// Field is a named member of an object.
type Field struct {
	Name  string
	Value Value
}

// Parse decodes raw JSON text. Integer literals are kept distinct from
// fractional ones.
func Parse(data []byte) (Value, error) {
	if !jsonx.Valid(data) {
		return Value{}, ErrMalformed
	}
	var raw interface{}
	if err := jsonx.UnmarshalNumber(data, &raw); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return From(raw), nil
}

// From wraps an already decoded tree. Maps must be map[string]interface{} and
// slices []interface{}; unsupported leaf types yield a missing Value.
func From(raw interface{}) Value {
	switch v := raw.(type) {
	case nil, bool, string, json.Number, float64, int64, []interface{}, map[string]interface{}:
		return Value{raw: v, valid: true}
	case Value:
		return v
	case float32:
		return Value{raw: float64(v), valid: true}
	case int:
		return Value{raw: int64(v), valid: true}
	case int32:
		return Value{raw: int64(v), valid: true}
	case uint32:
		return Value{raw: int64(v), valid: true}
	case map[string]string:
		m := make(map[string]interface{}, len(v))
		for k, s := range v {
			m[k] = s
		}
		return Value{raw: m, valid: true}
	default:
		return Value{}
	}
}

// Kind reports the JSON type of v.
func (v Value) Kind() Kind {
	if !v.valid {
		return Invalid
	}
	switch v.raw.(type) {
	case nil:
		return Null
	case bool:
		return Bool
	case json.Number, float64, int64:
		return Number
	case string:
		return String
	case []interface{}:
		return Array
	case map[string]interface{}:
		return Object
	default:
		return Invalid
	}
}

// Exists reports whether v is present (possibly null).
func (v Value) Exists() bool { return v.valid }

// IsNull reports whether v is an explicit JSON null.
func (v Value) IsNull() bool { return v.Kind() == Null }

// Get returns the named field of an object. ok is false when v is not an
// object or the field is absent; a field holding null is present.
func (v Value) Get(name string) (Value, bool) {
	m, isObj := v.raw.(map[string]interface{})
	if !v.valid || !isObj {
		return Value{}, false
	}
	child, ok := m[name]
	if !ok {
		return Value{}, false
	}
	return From(child), true
}

// StringValue returns the string held by v.
func (v Value) StringValue() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok && v.valid
}

// Number returns v as a float64 when v is a JSON number.
func (v Value) Number() (float64, bool) {
	if !v.valid {
		return 0, false
	}
	switch n := v.raw.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, false
		}
		return f, true
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Integer returns v when it is an integer literal that fits in an int64.
// Fractional and exponent literals are not integers, even when their value is
// whole.
func (v Value) Integer() (int64, bool) {
	if !v.valid {
		return 0, false
	}
	switch n := v.raw.(type) {
	case json.Number:
		if strings.ContainsAny(string(n), ".eE") {
			return 0, false
		}
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// Array returns the elements of v when it is an array.
func (v Value) Array() ([]Value, bool) {
	items, ok := v.raw.([]interface{})
	if !v.valid || !ok {
		return nil, false
	}
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = From(item)
	}
	return out, true
}

// Fields returns the members of v, sorted by name, when it is an object.
func (v Value) Fields() ([]Field, bool) {
	m, ok := v.raw.(map[string]interface{})
	if !v.valid || !ok {
		return nil, false
	}
	out := make([]Field, 0, len(m))
	for name, child := range m {
		out = append(out, Field{Name: name, Value: From(child)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, true
}

// Len is the number of elements of an array or members of an object, and 0
// for anything else.
func (v Value) Len() int {
	switch c := v.raw.(type) {
	case []interface{}:
		return len(c)
	case map[string]interface{}:
		return len(c)
	default:
		return 0
	}
}

// Text renders a scalar as text: strings verbatim, numbers as their literal,
// booleans as true/false and null as "null". Containers and missing values
// render as "".
func (v Value) Text() string {
	if !v.valid {
		return ""
	}
	switch x := v.raw.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

// Float coerces a scalar to a float64: numbers as-is, numeric strings parsed,
// booleans as 1 or 0. Everything else, including unparsable strings, is 0.
func (v Value) Float() float64 {
	switch x := v.raw.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		f, _ := v.Number()
		return f
	}
}

// Raw returns the underlying decoded value.
func (v Value) Raw() interface{} { return v.raw }
