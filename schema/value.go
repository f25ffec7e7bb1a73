package schema

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Value is a typed field value. The set of implementations is closed.
type Value interface {
	// String renders the value for diagnostics and cache keys.
	String() string
	value()
}

type (
	// Text is a text or nvarchar value.
	Text string
	// Int is an integral numeric value.
	Int int64
	// Decimal is a fixed-point numeric value.
	Decimal struct{ decimal.Decimal }
	// Bool is a boolean value.
	Bool bool
	// Time is a timestamp value.
	Time struct{ time.Time }
	// Geometry is a well-known-binary geometry payload.
	Geometry []byte
	// Blob is an opaque binary payload.
	Blob []byte
	// MultiText is a multi-value text field.
	MultiText []string
	// Label is a code-list entry: the stored key plus its translated text.
	Label struct {
		Key  string
		Text string
	}
	// Null is the absent value.
	Null struct{}
)

func (Text) value()      {}
func (Int) value()       {}
func (Decimal) value()   {}
func (Bool) value()      {}
func (Time) value()      {}
func (Geometry) value()  {}
func (Blob) value()      {}
func (MultiText) value() {}
func (Label) value()     {}
func (Null) value()      {}

func (v Text) String() string    { return string(v) }
func (v Int) String() string     { return strconv.FormatInt(int64(v), 10) }
func (v Decimal) String() string { return v.Decimal.String() }
func (v Bool) String() string    { return strconv.FormatBool(bool(v)) }
func (v Time) String() string    { return v.Time.UTC().Format(time.RFC3339Nano) }
func (v Geometry) String() string {
	return fmt.Sprintf("geometry(%d bytes)", len(v))
}
func (v Blob) String() string      { return fmt.Sprintf("blob(%d bytes)", len(v)) }
func (v MultiText) String() string { return strings.Join(v, ",") }
func (v Label) String() string     { return v.Key }
func (Null) String() string        { return "<null>" }

// NewDecimal wraps d as a Value.
func NewDecimal(d decimal.Decimal) Decimal { return Decimal{d} }

// NewTime wraps t as a Value normalized to UTC microseconds, the finest
// precision every supported dialect round-trips.
func NewTime(t time.Time) Time { return Time{t.UTC().Truncate(time.Microsecond)} }

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal compares two values structurally.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch x := a.(type) {
	case Text:
		y, ok := b.(Text)
		return ok && x == y
	case Int:
		switch y := b.(type) {
		case Int:
			return x == y
		case Decimal:
			return y.Equal(decimal.NewFromInt(int64(x)))
		}
		return false
	case Decimal:
		switch y := b.(type) {
		case Decimal:
			return x.Equal(y.Decimal)
		case Int:
			return x.Equal(decimal.NewFromInt(int64(y)))
		}
		return false
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Time:
		y, ok := b.(Time)
		return ok && x.Equal(y.Time)
	case Geometry:
		y, ok := b.(Geometry)
		return ok && bytes.Equal(x, y)
	case Blob:
		y, ok := b.(Blob)
		return ok && bytes.Equal(x, y)
	case MultiText:
		y, ok := b.(MultiText)
		return ok && slices.Equal(x, y)
	case Label:
		y, ok := b.(Label)
		return ok && x.Key == y.Key
	}
	return false
}

// CloneValue returns a deep copy of v.
func CloneValue(v Value) Value {
	switch x := v.(type) {
	case Geometry:
		return Geometry(bytes.Clone(x))
	case Blob:
		return Blob(bytes.Clone(x))
	case MultiText:
		return MultiText(slices.Clone(x))
	}
	return v
}

// Coerce checks v against f and returns the value in its canonical form.
// Numeric fields with a scale receive Decimal, integral numerics with a
// fractional part are rejected. Null is accepted only for nullable fields.
func Coerce(f FieldDescriptor, v Value) (Value, error) {
	if v == nil {
		v = Null{}
	}
	if IsNull(v) {
		if !f.Nullable {
			return nil, mismatch(f, v, "field is not nullable")
		}
		return Null{}, nil
	}
	switch f.Type {
	case FieldText, FieldNVarchar:
		switch x := v.(type) {
		case Text:
			if f.Size > 0 && utf8.RuneCountInString(string(x)) > f.Size {
				return nil, mismatch(f, v, fmt.Sprintf("exceeds size %d", f.Size))
			}
			return x, nil
		case Label:
			if f.CodeList == "" && !f.Label {
				return nil, mismatch(f, v, "field is not a code list")
			}
			return x, nil
		}
	case FieldNumeric:
		switch x := v.(type) {
		case Int:
			if f.Scale > 0 {
				return Decimal{decimal.NewFromInt(int64(x))}, nil
			}
			return x, nil
		case Decimal:
			if f.Scale == 0 {
				if !x.IsInteger() {
					return nil, mismatch(f, v, "fractional value for integral field")
				}
				return Int(x.IntPart()), nil
			}
			if !x.Equal(x.Round(int32(f.Scale))) {
				return nil, mismatch(f, v, fmt.Sprintf("exceeds scale %d", f.Scale))
			}
			return x, nil
		}
	case FieldBoolean:
		if x, ok := v.(Bool); ok {
			return x, nil
		}
	case FieldTimestamp:
		if x, ok := v.(Time); ok {
			return NewTime(x.Time), nil
		}
	case FieldGeometry:
		if x, ok := v.(Geometry); ok {
			if err := ValidateWKB(x); err != nil {
				return nil, mismatch(f, v, err.Error())
			}
			return x, nil
		}
	case FieldBlob:
		if x, ok := v.(Blob); ok {
			return x, nil
		}
	case FieldMultiText:
		switch x := v.(type) {
		case MultiText:
			if slices.Contains(x, "") {
				return nil, mismatch(f, v, "empty element")
			}
			return x, nil
		case Text:
			if x == "" {
				return nil, mismatch(f, v, "empty element")
			}
			return MultiText{string(x)}, nil
		}
	}
	return nil, mismatch(f, v, fmt.Sprintf("%T is not a %s value", v, f.Type))
}

func mismatch(f FieldDescriptor, v Value, reason string) error {
	return fmt.Errorf("%w: %s=%v: %s", ErrValueMismatch, f.Name, v, reason)
}
