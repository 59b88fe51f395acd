package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// ArrayReader reads typed fields out of a wire array. The first failure is
// kept and every later read returns a zero value, so codecs can read all
// fields and check Err once.
type ArrayReader struct {
	class string
	arr   []any
	err   error
}

// NewArrayReader returns a reader over arr. class names the message class in errors.
func NewArrayReader(class string, arr []any, minLen int) *ArrayReader {
	r := &ArrayReader{class: class, arr: arr}
	if len(arr) < minLen {
		r.err = &MalformedMessageError{
			Class:  class,
			Reason: fmt.Sprintf("expected at least %d fields, got %d", minLen, len(arr)),
		}
	}
	return r
}

// Err returns the first read failure
func (r *ArrayReader) Err() error {
	return r.err
}

func (r *ArrayReader) fail(index int, name, format string, args ...any) {
	if r.err != nil {
		return
	}
	r.err = &MalformedMessageError{
		Class:  r.class,
		Reason: fmt.Sprintf("field %d (%s): %s", index, name, fmt.Sprintf(format, args...)),
	}
}

func (r *ArrayReader) at(index int, name string) (any, bool) {
	if r.err != nil {
		return nil, false
	}
	if index >= len(r.arr) {
		r.fail(index, name, "missing")
		return nil, false
	}
	return r.arr[index], true
}

// IsNull reports whether the field is absent or null
func (r *ArrayReader) IsNull(index int) bool {
	return index >= len(r.arr) || r.arr[index] == nil
}

// Int reads an integral number
func (r *ArrayReader) Int(index int, name string) int64 {
	v, ok := r.at(index, name)
	if !ok {
		return 0
	}
	n, ok := ToInt64(v)
	if !ok {
		r.fail(index, name, "expected integer, got %T(%v)", v, v)
		return 0
	}
	return n
}

// NonNegativeInt reads an integral number that must be >= 0
func (r *ArrayReader) NonNegativeInt(index int, name string) int64 {
	n := r.Int(index, name)
	if n < 0 {
		r.fail(index, name, "must not be negative, got %d", n)
		return 0
	}
	return n
}

// String reads a string; null is rejected
func (r *ArrayReader) String(index int, name string) string {
	v, ok := r.at(index, name)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(index, name, "expected string, got %T", v)
		return ""
	}
	return s
}

// NullableString reads a string; null (or a missing trailing field) becomes ""
func (r *ArrayReader) NullableString(index int, name string) string {
	if r.err != nil || r.IsNull(index) {
		return ""
	}
	return r.String(index, name)
}

// Array reads a nested array; null is rejected
func (r *ArrayReader) Array(index int, name string) []any {
	v, ok := r.at(index, name)
	if !ok {
		return nil
	}
	a, ok := v.([]any)
	if !ok {
		r.fail(index, name, "expected array, got %T", v)
		return nil
	}
	return a
}

// NullableArray reads a nested array; null becomes nil
func (r *ArrayReader) NullableArray(index int, name string) []any {
	if r.err != nil || r.IsNull(index) {
		return nil
	}
	return r.Array(index, name)
}

// Wrap records err (for nested decoding) as the failure of field index
func (r *ArrayReader) Wrap(index int, name string, err error) {
	if err == nil || r.err != nil {
		return
	}
	r.err = &MalformedMessageError{
		Class:  r.class,
		Reason: fmt.Sprintf("field %d (%s)", index, name),
		Err:    err,
	}
}

// ToInt64 converts the numeric representations produced by JSON decoding
// (float64 or json.Number) and by in-process encoding into an int64.
// Non-integral values are rejected.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}
