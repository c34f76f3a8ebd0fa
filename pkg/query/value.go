// Package query implements the AQL-like query engine: lexer, parser,
// DNF-backed source compilation, and the stage-processor pipeline
// (spec §4.7, §4.8).
package query

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Kind discriminates a Value's payload.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
	KindError
)

// Value is the query engine's runtime value: every expression evaluates to
// one, including an in-band error (spec §4.8 "Error inbandness" — type
// mismatch, missing property and division by zero are values, not panics).
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	Arr  []Value
	Obj  map[string]Value
	Err  error
}

func Null() Value               { return Value{Kind: KindNull} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value    { return Value{Kind: KindNumber, Num: n} }
func String(s string) Value     { return Value{Kind: KindString, Str: s} }
func Array(vs []Value) Value    { return Value{Kind: KindArray, Arr: vs} }
func Object(m map[string]Value) Value { return Value{Kind: KindObject, Obj: m} }

// Error wraps an evaluation error as an in-band value.
func Error(err error) Value { return Value{Kind: KindError, Err: err} }

// Errorf builds an in-band error value.
func Errorf(format string, args ...any) Value { return Error(fmt.Errorf(format, args...)) }

// IsError reports whether v is an in-band error.
func (v Value) IsError() bool { return v.Kind == KindError }

// Truthy follows JS-like coercion: false, null, 0, "", empty array/object are
// falsy; everything else (including errors, so a stray error does not
// silently vanish under FILTER) is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0
	case KindString:
		return v.Str != ""
	case KindArray:
		return len(v.Arr) != 0
	case KindObject:
		return len(v.Obj) != 0
	default:
		return true
	}
}

// Equal reports deep structural equality. Errors are never equal to
// anything, including another error, matching the "errors propagate rather
// than compare" stance used throughout evaluation.
func (a Value) Equal(b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindNumber:
		return a.Num == b.Num
	case KindString:
		return a.Str == b.Str
	case KindArray:
		if len(a.Arr) != len(b.Arr) {
			return false
		}
		for i := range a.Arr {
			if !a.Arr[i].Equal(b.Arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Obj) != len(b.Obj) {
			return false
		}
		for k, av := range a.Obj {
			bv, ok := b.Obj[k]
			if !ok || !av.Equal(bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromCBOR decodes a payload (spec: "opaque CBOR value") into a Value tree.
func FromCBOR(data []byte) Value {
	if len(data) == 0 {
		return Null()
	}
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return Errorf("query: payload not CBOR-decodable: %w", err)
	}
	return fromAny(v)
}

// FromAny builds a Value from a plain decoded Go value (e.g. the output of
// encoding/json unmarshaling into `any`), for callers that need to turn a
// JSON request body into a Value tree without round-tripping through CBOR.
func FromAny(v any) Value { return fromAny(v) }

func fromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case uint64:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = fromAny(e)
		}
		return Array(out)
	case map[any]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = fromAny(e)
		}
		return Object(out)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = fromAny(e)
		}
		return Object(out)
	default:
		return Errorf("query: unsupported CBOR value of type %T", v)
	}
}

// ToCBOR encodes v back to CBOR, for SELECT/AGGREGATE outputs returned to
// the HTTP layer as an event payload.
func ToCBOR(v Value) ([]byte, error) {
	return cbor.Marshal(toAny(v))
}

// ToJSON converts v to a plain Go value (nil/bool/float64/string/[]any/
// map[string]any) that encoding/json can marshal directly, for responses
// that return query results as JSON rather than as stored CBOR payloads.
func ToJSON(v Value) any { return toAny(v) }

func toAny(v Value) any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindArray:
		out := make([]any, len(v.Arr))
		for i, e := range v.Arr {
			out[i] = toAny(e)
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Obj))
		for k, e := range v.Obj {
			out[k] = toAny(e)
		}
		return out
	case KindError:
		return map[string]any{"error": v.Err.Error()}
	default:
		return nil
	}
}
