// Package value implements the tagged parameter type bound by statements
// replayed against a Database Adapter.
package value

import (
	"fmt"
	"time"
)

// Kind identifies which arm of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindText
	KindBytes
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a closed sum type over the parameter kinds a Database Adapter
// must be able to bind: Null, Int, Float, Bool, Text, Bytes, Timestamp.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	by   []byte
	t    time.Time
}

func Null() Value                    { return Value{kind: KindNull} }
func Int(v int64) Value              { return Value{kind: KindInt, i: v} }
func Float(v float64) Value          { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value              { return Value{kind: KindBool, b: v} }
func Text(v string) Value            { return Value{kind: KindText, s: v} }
func Bytes(v []byte) Value           { return Value{kind: KindBytes, by: v} }
func Timestamp(v time.Time) Value    { return Value{kind: KindTimestamp, t: v} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Int() (int64, bool)           { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool)       { return v.f, v.kind == KindFloat }
func (v Value) Bool() (bool, bool)           { return v.b, v.kind == KindBool }
func (v Value) Text() (string, bool)         { return v.s, v.kind == KindText }
func (v Value) Bytes() ([]byte, bool)        { return v.by, v.kind == KindBytes }
func (v Value) Timestamp() (time.Time, bool) { return v.t, v.kind == KindTimestamp }

// Native returns the Go-native representation, suitable for binding into
// database/sql driver arguments or for map-based row inspection.
func (v Value) Native() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindText:
		return v.s
	case KindBytes:
		return v.by
	case KindTimestamp:
		return v.t
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBytes:
		return fmt.Sprintf("0x%x", v.by)
	default:
		return fmt.Sprintf("%v", v.Native())
	}
}

// FromNative wraps a Go value from application code into a Value,
// classifying it by its dynamic type. Unrecognized types fall back to
// their fmt.Sprintf representation as Text.
func FromNative(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case bool:
		return Bool(t)
	case string:
		return Text(t)
	case []byte:
		return Bytes(t)
	case time.Time:
		return Timestamp(t)
	default:
		return Text(fmt.Sprintf("%v", t))
	}
}
