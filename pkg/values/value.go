// Package values maps between the schema-less values spoken at the JSON
// boundary and the typed value model of the SQL engine.
//
// The mapping is intentionally lossy in two places: booleans are stored as
// integers and composite values (arrays, objects) are stored as their JSON
// text. Neither is restored on the way back out.
package values

import (
	"fmt"
	"strconv"
)

// Kind is the storage class of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// String returns the SQLite storage class name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single SQL value: null, integer, real, text or blob.
// The zero Value is null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Null returns the null value.
func Null() Value { return Value{} }

// Integer returns a 64-bit signed integer value.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Real returns a 64-bit float value.
func Real(f float64) Value { return Value{kind: KindReal, f: f} }

// Text returns a UTF-8 text value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Blob returns a byte sequence value.
func Blob(b []byte) Value { return Value{kind: KindBlob, b: b} }

// Kind returns the storage class.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int64 returns the integer payload. Zero unless Kind is KindInteger.
func (v Value) Int64() int64 { return v.i }

// Float64 returns the real payload. Zero unless Kind is KindReal.
func (v Value) Float64() float64 { return v.f }

// Text returns the text payload. Empty unless Kind is KindText.
func (v Value) Text() string { return v.s }

// Bytes returns the blob payload. Nil unless Kind is KindBlob.
func (v Value) Bytes() []byte { return v.b }

// Driver returns the value in the form database/sql binds as a parameter.
func (v Value) Driver() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		if v.b == nil {
			return []byte{}
		}
		return v.b
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindReal:
		return v.f == o.f
	case KindText:
		return v.s == o.s
	case KindBlob:
		return string(v.b) == string(o.b)
	default:
		return true
	}
}

// GoString renders the value for test failure output.
func (v Value) GoString() string {
	switch v.kind {
	case KindInteger:
		return fmt.Sprintf("Integer(%d)", v.i)
	case KindReal:
		return fmt.Sprintf("Real(%g)", v.f)
	case KindText:
		return fmt.Sprintf("Text(%q)", v.s)
	case KindBlob:
		return fmt.Sprintf("Blob(%v)", v.b)
	default:
		return "Null"
	}
}

// Bytes is the external form of a blob. It marshals to a JSON array of byte
// values instead of the base64 string encoding/json uses for []byte.
type Bytes []byte

// MarshalJSON encodes the bytes as an array of numbers.
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	out := make([]byte, 0, len(b)*4+2)
	out = append(out, '[')
	for i, c := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(c), 10)
	}
	out = append(out, ']')
	return out, nil
}
