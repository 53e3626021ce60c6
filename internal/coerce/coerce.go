// Package coerce converts loosely typed request and config values into Go
// scalars. None of the helpers fail: unusable input yields the default.
//
// Accepted shapes are a value of the target type, a string encoding of it,
// or a single-element slice wrapping either of those (form fields arrive as
// []string, JSON arrays as []any).
package coerce

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Int returns v as an int, or def. Floats must be integral and in range.
func Int(v any, def int) int {
	if n, ok := integer(v); ok {
		if int64(int(n)) != n {
			return def
		}
		return int(n)
	}
	switch x := v.(type) {
	case float64:
		n, ok := integral(x)
		if !ok || int64(int(n)) != n {
			return def
		}
		return int(n)
	case float32:
		return Int(float64(x), def)
	case json.Number:
		return Int(string(x), def)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return def
		}
		return n
	}
	if e, ok := sole(v); ok {
		return Int(e, def)
	}
	return def
}

// Float returns v as a float64, or def. NaN is treated as unusable.
func Float(v any, def float64) float64 {
	var f float64
	if n, ok := number(v); ok {
		return n
	}
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case json.Number:
		return Float(string(x), def)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return def
		}
		f = p
	default:
		if e, ok := sole(v); ok {
			return Float(e, def)
		}
		return def
	}
	if math.IsNaN(f) {
		return def
	}
	return f
}

// Bool returns v as a bool, or def. Strings are true when they are one of
// 1, true, yes or on (case-insensitive) and false otherwise.
func Bool(v any, def bool) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	case float64:
		return x != 0
	case float32:
		return x != 0
	}
	if n, ok := number(v); ok {
		return n != 0
	}
	if e, ok := sole(v); ok {
		return Bool(e, def)
	}
	return def
}

// ID returns a token id from a generation-config style value: a number,
// a numeric string, or a list whose first element is one. ok is false for
// nil or anything unparseable.
func ID(v any) (id int64, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return integral(x)
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	if n, ok := integer(v); ok {
		return n, true
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() > 0 {
		return ID(rv.Index(0).Interface())
	}
	return 0, false
}

// String returns the trimmed string form of v, unwrapping a one-element
// slice, or def when v is empty or not a string.
func String(v any, def string) string {
	if s, ok := v.(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return def
	}
	if e, ok := sole(v); ok {
		return String(e, def)
	}
	return def
}

func sole(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Len() != 1 {
		return nil, false
	}
	return rv.Index(0).Interface(), true
}

// integer returns v as an int64 when v has an integer kind that fits.
func integer(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u), true
		}
	}
	return 0, false
}

// number returns v as a float64 when v has any integer kind.
func number(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	}
	return 0, false
}

// integral converts f to an int64 when it is a whole number inside the
// int64 range. NaN and infinities are rejected.
func integral(f float64) (int64, bool) {
	const limit = 1 << 63
	if f != math.Trunc(f) || f < -limit || f >= limit {
		return 0, false
	}
	return int64(f), true
}
