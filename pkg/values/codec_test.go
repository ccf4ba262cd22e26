package values

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func TestToSQL(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{name: "nil", in: nil, want: Null()},
		{name: "true", in: true, want: Integer(1)},
		{name: "false", in: false, want: Integer(0)},
		{name: "integer number", in: json.Number("42"), want: Integer(42)},
		{name: "negative number", in: json.Number("-7"), want: Integer(-7)},
		{name: "fractional number", in: json.Number("1.5"), want: Real(1.5)},
		{name: "integral with fraction", in: json.Number("1.0"), want: Real(1)},
		{name: "exponent number", in: json.Number("1e3"), want: Real(1000)},
		{name: "beyond int64", in: json.Number("18446744073709551615"), want: Real(18446744073709551615)},
		{name: "invalid number", in: json.Number("abc"), want: Null()},
		{name: "string", in: "hello", want: Text("hello")},
		{name: "empty string", in: "", want: Text("")},
		{name: "go int", in: 7, want: Integer(7)},
		{name: "go int64", in: int64(math.MinInt64), want: Integer(math.MinInt64)},
		{name: "go uint64 max", in: uint64(math.MaxUint64), want: Real(float64(math.MaxUint64))},
		{name: "go float", in: 2.25, want: Real(2.25)},
		{name: "bytes", in: []byte{1, 2}, want: Blob([]byte{1, 2})},
		{name: "external bytes", in: Bytes{3}, want: Blob([]byte{3})},
		{name: "array", in: []any{json.Number("1"), "a", nil}, want: Text(`[1,"a",null]`)},
		{name: "object sorted keys", in: map[string]any{"b": true, "a": "<x>"}, want: Text(`{"a":"<x>","b":true}`)},
		{name: "array keeps markup characters", in: []any{"a<b && c>d", json.Number("1")}, want: Text(`["a<b && c>d",1]`)},
		{name: "value passthrough", in: Text("t"), want: Text("t")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToSQL(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("ToSQL(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestToExternal(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want any
	}{
		{name: "null", in: Null(), want: nil},
		{name: "integer", in: Integer(9), want: int64(9)},
		{name: "real", in: Real(0.5), want: 0.5},
		{name: "infinite real", in: Real(math.Inf(1)), want: nil},
		{name: "text", in: Text("x"), want: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToExternal(tt.in); got != tt.want {
				t.Errorf("ToExternal(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}

	blob := ToExternal(Blob([]byte{0, 255}))
	b, ok := blob.(Bytes)
	if !ok {
		t.Fatalf("ToExternal(blob) type = %T, want Bytes", blob)
	}
	encoded, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal blob: %v", err)
	}
	if string(encoded) != "[0,255]" {
		t.Errorf("blob JSON = %s, want [0,255]", encoded)
	}
}

// Numbers, strings and null survive the round trip; booleans and composites
// come back as integers and text.
func TestRoundTrip(t *testing.T) {
	exact := []any{nil, "", "héllo", json.Number("0"), json.Number("-12"), json.Number("3.25")}
	for _, in := range exact {
		out := ToExternal(ToSQL(in))
		if !sameExternal(in, out) {
			t.Errorf("round trip of %#v gave %#v", in, out)
		}
	}

	if got := ToExternal(ToSQL(true)); got != int64(1) {
		t.Errorf("round trip of true = %#v, want int64(1)", got)
	}
	if got := ToExternal(ToSQL(false)); got != int64(0) {
		t.Errorf("round trip of false = %#v, want int64(0)", got)
	}
	if got := ToExternal(ToSQL([]any{"a"})); got != `["a"]` {
		t.Errorf("round trip of array = %#v, want text", got)
	}
}

func sameExternal(in, out any) bool {
	switch x := in.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return false
		}
		switch y := out.(type) {
		case int64:
			return float64(y) == f
		case float64:
			return y == f
		}
		return false
	default:
		return in == out
	}
}

func TestFromDriver(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{name: "nil", in: nil, want: Null()},
		{name: "int64", in: int64(5), want: Integer(5)},
		{name: "float64", in: 1.25, want: Real(1.25)},
		{name: "string", in: "s", want: Text("s")},
		{name: "bytes", in: []byte("ab"), want: Blob([]byte("ab"))},
		{name: "bool", in: true, want: Integer(1)},
		{name: "utc time", in: ts, want: Text("2024-03-01 10:30:00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromDriver(tt.in); !got.Equal(tt.want) {
				t.Errorf("FromDriver(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}

	zoned := time.Date(2024, 3, 1, 10, 30, 0, 500, time.FixedZone("X", 3600))
	if got := FromDriver(zoned).Text(); !strings.HasPrefix(got, "2024-03-01T10:30:00.0000005+01:00") {
		t.Errorf("FromDriver(zoned time) = %q", got)
	}
}

func TestDriverBinding(t *testing.T) {
	if Null().Driver() != nil {
		t.Error("null should bind as nil")
	}
	if Integer(3).Driver() != int64(3) {
		t.Error("integer should bind as int64")
	}
	if b, ok := Blob(nil).Driver().([]byte); !ok || b == nil {
		t.Error("nil blob should bind as an empty, non-nil byte slice")
	}
	if KindBlob.String() != "blob" {
		t.Errorf("KindBlob.String() = %q", KindBlob.String())
	}
}
