package coerce

import (
	"encoding/json"
	"math"
	"testing"
)

func TestInt(t *testing.T) {
	cases := []struct {
		in   any
		def  int
		want int
	}{
		{[]string{"7"}, 0, 7},
		{"not-a-number", 5, 5},
		{" 12 ", 0, 12},
		{42, 0, 42},
		{float64(3), 0, 3},
		{3.5, 9, 9},
		{[]any{float64(8)}, 0, 8},
		{[]any{"1", "2"}, 4, 4},
		{[][]string{{"6"}}, 0, 6},
		{nil, 11, 11},
		{map[string]int{}, 2, 2},
		{json.Number("15"), 0, 15},
		{1e30, 512, 512},
		{-1e30, 512, 512},
		{math.Inf(1), 7, 7},
		{math.NaN(), 7, 7},
		{float32(6), 0, 6},
		{uint8(3), 0, 3},
		{int32(-4), 0, -4},
		{uint64(math.MaxUint64), 9, 9},
	}
	for _, c := range cases {
		if got := Int(c.in, c.def); got != c.want {
			t.Fatalf("Int(%#v, %d) = %d, want %d", c.in, c.def, got, c.want)
		}
	}
}

func TestFloat(t *testing.T) {
	cases := []struct {
		in   any
		def  float64
		want float64
	}{
		{"0.25", 0, 0.25},
		{[]string{"1.5"}, 0, 1.5},
		{7, 0, 7},
		{"nan", 0.6, 0.6},
		{"x", 0.9, 0.9},
		{[]string{}, 0.9, 0.9},
		{uint8(3), 0, 3},
		{int32(3), 0, 3},
		{int16(-2), 0, -2},
		{uint64(1 << 40), 0, 1 << 40},
	}
	for _, c := range cases {
		if got := Float(c.in, c.def); got != c.want {
			t.Fatalf("Float(%#v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestBool(t *testing.T) {
	if !Bool(true, false) {
		t.Fatalf("bool true must pass through")
	}
	for _, s := range []string{"1", "TRUE", " yes", "On"} {
		if !Bool(s, false) {
			t.Fatalf("Bool(%q) should be true", s)
		}
	}
	if Bool("nope", true) {
		t.Fatalf("unrecognised strings are false")
	}
	if !Bool([]string{"on"}, false) || !Bool(2, false) || Bool(0.0, true) {
		t.Fatalf("wrapped and numeric forms misparsed")
	}
	for _, v := range []any{int32(1), uint8(1), int8(-1), uint64(5), float32(0.5)} {
		if !Bool(v, false) {
			t.Fatalf("Bool(%#v) should be true", v)
		}
	}
	if Bool(int32(0), true) || Bool(uint(0), true) {
		t.Fatalf("zero integers are false")
	}
	if !Bool(struct{}{}, true) {
		t.Fatalf("unsupported types fall back to default")
	}
}

func TestID(t *testing.T) {
	if id, ok := ID([]any{float64(128009), float64(128001)}); !ok || id != 128009 {
		t.Fatalf("list ids take the first element, got %d %v", id, ok)
	}
	if _, ok := ID(nil); ok {
		t.Fatalf("nil must not resolve")
	}
	if _, ok := ID([]any{}); ok {
		t.Fatalf("empty list must not resolve")
	}
	if id, ok := ID("5"); !ok || id != 5 {
		t.Fatalf("string id: %d %v", id, ok)
	}
	if _, ok := ID(1.5); ok {
		t.Fatalf("fractional ids are rejected")
	}
	if _, ok := ID(1e30); ok {
		t.Fatalf("out of range ids are rejected")
	}
	if id, ok := ID(int32(7)); !ok || id != 7 {
		t.Fatalf("int32 id: %d %v", id, ok)
	}
}

func TestString(t *testing.T) {
	if got := String([]string{"  gpu "}, "cpu"); got != "gpu" {
		t.Fatalf("got %q", got)
	}
	if got := String("   ", "int8"); got != "int8" {
		t.Fatalf("blank falls back, got %q", got)
	}
	if got := String(3, "x"); got != "x" {
		t.Fatalf("non-string falls back, got %q", got)
	}
}
