package schema_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/strata/schema"
)

var point = schema.Geometry{0x01, 0x01, 0x00, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

func TestCoerce(t *testing.T) {
	amount := schema.FieldDescriptor{Name: "amount", Type: schema.FieldNumeric, Scale: 2}
	count := schema.FieldDescriptor{Name: "count", Type: schema.FieldNumeric}
	code := schema.FieldDescriptor{Name: "code", Type: schema.FieldText, Size: 3}
	tags := schema.FieldDescriptor{Name: "tags", Type: schema.FieldMultiText}
	paid := schema.FieldDescriptor{Name: "paid", Type: schema.FieldBoolean, Nullable: true}
	area := schema.FieldDescriptor{Name: "area", Type: schema.FieldGeometry}

	t.Run("int widens to decimal for scaled numeric", func(t *testing.T) {
		v, err := schema.Coerce(amount, schema.Int(5))
		require.NoError(t, err)
		assert.IsType(t, schema.Decimal{}, v)
		assert.True(t, schema.Equal(v, schema.Int(5)))
	})

	t.Run("decimal beyond scale rejected", func(t *testing.T) {
		_, err := schema.Coerce(amount, schema.NewDecimal(decimal.RequireFromString("1.234")))
		assert.ErrorIs(t, err, schema.ErrValueMismatch)
	})

	t.Run("integral decimal narrows to int", func(t *testing.T) {
		v, err := schema.Coerce(count, schema.NewDecimal(decimal.NewFromInt(7)))
		require.NoError(t, err)
		assert.Equal(t, schema.Int(7), v)
	})

	t.Run("text over size", func(t *testing.T) {
		_, err := schema.Coerce(code, schema.Text("ABCD"))
		assert.ErrorIs(t, err, schema.ErrValueMismatch)
		_, err = schema.Coerce(code, schema.Text("ÄÖÜ"))
		assert.NoError(t, err, "size counts runes")
	})

	t.Run("null on non-nullable", func(t *testing.T) {
		_, err := schema.Coerce(code, nil)
		assert.ErrorIs(t, err, schema.ErrValueMismatch)
		v, err := schema.Coerce(paid, schema.Null{})
		require.NoError(t, err)
		assert.True(t, schema.IsNull(v))
	})

	t.Run("wrong kind", func(t *testing.T) {
		_, err := schema.Coerce(paid, schema.Text("yes"))
		assert.ErrorIs(t, err, schema.ErrValueMismatch)
	})

	t.Run("single text into multi text", func(t *testing.T) {
		v, err := schema.Coerce(tags, schema.Text("a"))
		require.NoError(t, err)
		assert.Equal(t, schema.MultiText{"a"}, v)
	})

	t.Run("empty multi text element rejected", func(t *testing.T) {
		for _, in := range []schema.Value{schema.MultiText{"a", ""}, schema.MultiText{""}, schema.Text("")} {
			if _, err := schema.Coerce(tags, in); !errors.Is(err, schema.ErrValueMismatch) {
				t.Errorf("Coerce(tags, %#v) error = %v, want ErrValueMismatch", in, err)
			}
		}
	})

	t.Run("geometry header checked", func(t *testing.T) {
		_, err := schema.Coerce(area, point)
		assert.NoError(t, err)
		_, err = schema.Coerce(area, schema.Geometry{0x05, 0, 0})
		assert.ErrorIs(t, err, schema.ErrValueMismatch)
	})

	t.Run("timestamps normalized", func(t *testing.T) {
		loc := time.FixedZone("X", 3600)
		in := time.Date(2024, 3, 1, 10, 0, 0, 123456789, loc)
		v, err := schema.Coerce(schema.FieldDescriptor{Name: "due", Type: schema.FieldTimestamp}, schema.Time{Time: in})
		require.NoError(t, err)
		got := v.(schema.Time).Time
		assert.Equal(t, time.UTC, got.Location())
		assert.Equal(t, 123456000, got.Nanosecond())
	})
}

func TestEqualAndClone(t *testing.T) {
	assert.True(t, schema.Equal(nil, schema.Null{}))
	assert.False(t, schema.Equal(schema.Text("a"), schema.Null{}))
	assert.True(t, schema.Equal(schema.Label{Key: "A", Text: "x"}, schema.Label{Key: "A", Text: "y"}))

	orig := schema.MultiText{"a", "b"}
	cp := schema.CloneValue(orig).(schema.MultiText)
	cp[0] = "z"
	assert.Equal(t, "a", orig[0])
}

func TestValidateWKB(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		ok   bool
	}{
		{"point little endian", point, true},
		{"polygon z iso", []byte{0x00, 0x00, 0x00, 0x03, 0xEB}, true},
		{"ewkb with srid", []byte{0x01, 0x01, 0x00, 0x00, 0x20, 0xE6, 0x10, 0x00, 0x00}, true},
		{"too short", []byte{0x01, 0x01}, false},
		{"bad order", []byte{0x02, 0x01, 0, 0, 0}, false},
		{"unknown type", []byte{0x01, 0x09, 0, 0, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.ValidateWKB(tt.in)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
