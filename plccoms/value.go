package plccoms

import (
	"strconv"
	"strings"
)

// Kind identifies the semantic type of a Value.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindReal
	KindString
)

func (kind Kind) String() string {
	switch kind {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the value types carried by the protocol:
// boolean, integer, floating point and string. The zero Value is
// boolean false.
type Value struct {
	kind    Kind
	boolVal bool
	intVal  int64
	realVal float64
	strVal  string
}

// Bool returns a boolean Value.
func Bool(value bool) Value { return Value{kind: KindBool, boolVal: value} }

// Int returns an integer Value.
func Int(value int64) Value { return Value{kind: KindInt, intVal: value} }

// Real returns a floating-point Value.
func Real(value float64) Value { return Value{kind: KindReal, realVal: value} }

// String returns a string Value.
func String(value string) Value { return Value{kind: KindString, strVal: value} }

// Kind returns the semantic type of the value.
func (value Value) Kind() Kind { return value.kind }

// AsBool returns the boolean content and whether the value is a boolean.
func (value Value) AsBool() (bool, bool) {
	return value.boolVal, value.kind == KindBool
}

// AsInt returns the integer content and whether the value is an integer.
func (value Value) AsInt() (int64, bool) {
	return value.intVal, value.kind == KindInt
}

// AsReal returns the floating-point content and whether the value is a
// floating-point number.
func (value Value) AsReal() (float64, bool) {
	return value.realVal, value.kind == KindReal
}

// AsString returns the string content and whether the value is a string.
func (value Value) AsString() (string, bool) {
	return value.strVal, value.kind == KindString
}

// Float returns a numeric view of the value: integers and reals convert
// directly, booleans map to 0/1, strings report false.
func (value Value) Float() (float64, bool) {
	switch value.kind {
	case KindInt:
		return float64(value.intVal), true
	case KindReal:
		return value.realVal, true
	case KindBool:
		if value.boolVal {
			return 1, true
		}
		return 0, true
	case KindString:
		return 0, false
	default:
		return 0, false
	}
}

// Equal reports whether two values have the same kind and content.
func (value Value) Equal(other Value) bool {
	return value == other
}

// ParseValue parses raw protocol text into a Value. Precedence: quoted
// string, case-insensitive true/false, floating point when the text
// contains a dot, integer, and finally the trimmed raw text as a string.
func ParseValue(raw string) Value {
	raw = strings.TrimSpace(raw)

	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		return String(raw[1 : len(raw)-1])
	}

	switch strings.ToLower(raw) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}

	if strings.Contains(raw, ".") {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			return Real(parsed)
		}
		return String(raw)
	}

	if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Int(parsed)
	}

	return String(raw)
}

// Format renders the value in wire form for a SET command: booleans as
// true/false, strings quoted, numbers as decimal text.
func (value Value) Format() string {
	switch value.kind {
	case KindBool:
		if value.boolVal {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(value.intVal, 10)
	case KindReal:
		return strconv.FormatFloat(value.realVal, 'g', -1, 64)
	case KindString:
		return `"` + value.strVal + `"`
	default:
		return ""
	}
}

// String renders the value for display, without wire quoting.
func (value Value) String() string {
	if value.kind == KindString {
		return value.strVal
	}
	return value.Format()
}
