package values

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
)

// sqliteTimeLayout is the text layout SQLite's datetime() produces.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// ToSQL converts an external value to a SQL value. It never fails.
//
// Numbers become integers when they carry no fraction or exponent and fit in
// 64 bits, reals otherwise. Booleans become 1 or 0. Arrays, objects and any
// other unknown type become the text of their compact JSON encoding.
func ToSQL(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		if x {
			return Integer(1)
		}
		return Integer(0)
	case json.Number:
		return numberToSQL(string(x))
	case string:
		return Text(x)
	case int:
		return Integer(int64(x))
	case int8:
		return Integer(int64(x))
	case int16:
		return Integer(int64(x))
	case int32:
		return Integer(int64(x))
	case int64:
		return Integer(x)
	case uint:
		return unsignedToSQL(uint64(x))
	case uint8:
		return Integer(int64(x))
	case uint16:
		return Integer(int64(x))
	case uint32:
		return Integer(int64(x))
	case uint64:
		return unsignedToSQL(x)
	case float32:
		return Real(float64(x))
	case float64:
		return Real(x)
	case Bytes:
		return Blob([]byte(x))
	case []byte:
		return Blob(x)
	default:
		return Text(compositeText(v))
	}
}

// ToExternal converts a SQL value to its external form: nil, int64, float64,
// string or Bytes. Non-finite reals have no JSON form and become nil.
func ToExternal(v Value) any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil
		}
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		if v.b == nil {
			return Bytes{}
		}
		return Bytes(v.b)
	default:
		return nil
	}
}

// ToSQLAll converts args in order.
func ToSQLAll(args []any) []Value {
	out := make([]Value, len(args))
	for i, a := range args {
		out[i] = ToSQL(a)
	}
	return out
}

// FromDriver converts a value scanned by database/sql into a Value.
func FromDriver(src any) Value {
	switch x := src.(type) {
	case nil:
		return Null()
	case int64:
		return Integer(x)
	case float64:
		return Real(x)
	case string:
		return Text(x)
	case []byte:
		return Blob(x)
	case bool:
		if x {
			return Integer(1)
		}
		return Integer(0)
	case time.Time:
		return Text(formatTime(x))
	default:
		return ToSQL(src)
	}
}

func numberToSQL(s string) Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Integer(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Real(f)
	}
	return Null()
}

func unsignedToSQL(u uint64) Value {
	if u <= math.MaxInt64 {
		return Integer(int64(u))
	}
	return Real(float64(u))
}

func compositeText(v any) string {
	b, err := gojson.MarshalWithOption(v, gojson.DisableHTMLEscape())
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// formatTime renders driver-parsed timestamps back in the layout SQLite wrote
// them in when nothing would be lost, RFC 3339 otherwise.
func formatTime(t time.Time) string {
	if t.Location() == time.UTC && t.Nanosecond() == 0 {
		return t.Format(sqliteTimeLayout)
	}
	return t.Format(time.RFC3339Nano)
}
