package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical wire format for date values.
const DateLayout = "2006-01-02"

// Value is a typed field value. Exactly one of the payload fields is
// meaningful, selected by Kind. Raw strings from the vision model are parsed
// into a Value at the normalization boundary and never trusted past it.
type Value struct {
	Kind   DataType  `json:"kind"`
	Number float64   `json:"number,omitempty"`
	Text   string    `json:"text,omitempty"`
	Date   time.Time `json:"date,omitempty"`
}

// NumberValue constructs a numeric Value.
func NumberValue(n float64) Value {
	return Value{Kind: TypeNumeric, Number: n}
}

// TextValue constructs a free-text Value.
func TextValue(s string) Value {
	return Value{Kind: TypeText, Text: s}
}

// EnumValue constructs an enum Value.
func EnumValue(s string) Value {
	return Value{Kind: TypeEnum, Text: s}
}

// DateValue constructs a date Value truncated to day precision.
func DateValue(t time.Time) Value {
	return Value{Kind: TypeDate, Date: t.Truncate(24 * time.Hour)}
}

// IsZero reports whether the Value is the zero value (no kind set).
func (v Value) IsZero() bool {
	return v.Kind == ""
}

// String renders the value in the representation written to the form:
// numerics without trailing zeros, dates as YYYY-MM-DD, text as-is.
func (v Value) String() string {
	switch v.Kind {
	case TypeNumeric:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case TypeDate:
		return v.Date.Format(DateLayout)
	default:
		return v.Text
	}
}

// Equal compares two values of the same kind. Numerics compare within the
// given relative tolerance, dates at day precision, enums case-insensitively,
// and text exactly.
func (v Value) Equal(other Value, tolerance float64) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case TypeNumeric:
		return NumbersAgree(v.Number, other.Number, tolerance)
	case TypeDate:
		return v.Date.Format(DateLayout) == other.Date.Format(DateLayout)
	case TypeEnum:
		return strings.EqualFold(v.Text, other.Text)
	default:
		return v.Text == other.Text
	}
}

// NumbersAgree reports whether a and b differ by at most the given relative
// tolerance. Values near zero fall back to an absolute comparison so a
// tolerance of 0.01 does not reject 0 vs 0.001.
func NumbersAgree(a, b, tolerance float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff <= tolerance
	}
	return diff <= tolerance*scale
}
