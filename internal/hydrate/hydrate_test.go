package hydrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/object"
	"github.com/pthm/strata/schema"
)

var wkbPoint = []byte{0x01, 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

var invoice = &schema.TypeDescriptor{
	ID:   2,
	Name: "INVOICE",
	Fields: []schema.FieldDescriptor{
		{Name: "number", Type: schema.FieldText},
		{Name: "amount", Type: schema.FieldNumeric, Scale: 2},
		{Name: "lines", Type: schema.FieldNumeric},
		{Name: "paid", Type: schema.FieldBoolean},
		{Name: "due", Type: schema.FieldTimestamp},
		{Name: "area", Type: schema.FieldGeometry},
		{Name: "data", Type: schema.FieldBlob},
		{Name: "tags", Type: schema.FieldMultiText},
		{Name: "state", Type: schema.FieldText, CodeList: "invoice_state"},
	},
}

var inserted = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func metaColumns(prefix string) []string {
	cols := make([]string, len(sqlgen.MetaColumns))
	for i, c := range sqlgen.MetaColumns {
		cols[i] = prefix + c
	}
	return cols
}

func metaValues(typ int64) []any {
	return []any{int64(11), int64(10), inserted, object.MaxSentinel, nil, typ, int64(0), int64(4)}
}

type upperTranslator struct{ locale language.Tag }

func (u *upperTranslator) Translate(_ context.Context, list, key string, locale language.Tag) (string, error) {
	u.locale = locale
	if key == "missing" {
		return "", errors.New("no such key")
	}
	return list + ":" + key, nil
}

func TestHydrateAllFieldTypes(t *testing.T) {
	tr := &upperTranslator{}
	h := New(dialect.MustGet(dialect.Oracle), WithTranslator(tr), WithSeparator("|"))

	cols := append(metaColumns("T0_"),
		"T0_number", "T0_amount", "T0_lines", "T0_paid", "T0_due", "T0_area", "T0_data", "T0_tags", "T0_state")
	vals := append(metaValues(2),
		"INV-1", []byte("12.50"), float64(3), "Y", []byte("2024-03-04 05:06:07"), wkbPoint, []byte{9}, "a|b", "open")

	ctx := WithLocale(context.Background(), language.German)
	o, err := h.Hydrate(ctx, Row{Columns: cols, Values: vals}, invoice, "T0_")
	require.NoError(t, err)

	assert.Equal(t, int64(11), o.PhysicalKey)
	assert.Equal(t, int64(10), o.LogicalID)
	assert.Equal(t, int64(0), o.ParentID)
	assert.Equal(t, int64(4), o.OwnerID)
	assert.True(t, o.IsCurrent())

	assert.Equal(t, schema.Text("INV-1"), o.Get("number"))
	assert.True(t, schema.Equal(schema.NewDecimal(decimal.RequireFromString("12.5")), o.Get("amount")))
	assert.Equal(t, schema.Int(3), o.Get("lines"))
	assert.Equal(t, schema.Bool(true), o.Get("paid"))
	assert.Equal(t, schema.NewTime(time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)), o.Get("due"))
	assert.Equal(t, schema.Geometry(wkbPoint), o.Get("area"))
	assert.Equal(t, schema.Blob{9}, o.Get("data"))
	assert.Equal(t, schema.MultiText{"a", "b"}, o.Get("tags"))
	assert.Equal(t, schema.Label{Key: "open", Text: "invoice_state:open"}, o.Get("state"))
	assert.Equal(t, language.German, tr.locale)
}

func TestHydrateUpperCaseColumns(t *testing.T) {
	h := New(dialect.MustGet(dialect.Oracle))
	cols := []string{"T1_REPO_PK", "T1_REPO_ID", "T1_REPO_INSERTED", "T1_REPO_DELETED", "T1_REPO_PARENT", "T1_REPO_TYPE", "T1_REPO_STATUS", "T1_REPO_OWNER", "T1_NUMBER", "RN__"}
	vals := append(metaValues(2), "X", int64(1))

	o, err := h.Hydrate(context.Background(), Row{Columns: cols, Values: vals}, invoice, "T1_")
	require.NoError(t, err)
	assert.Equal(t, schema.Text("X"), o.Get("number"))
	assert.Len(t, o.Values, 1)
}

func TestHydrateNullsAndOuterJoin(t *testing.T) {
	h := New(dialect.MustGet(dialect.Postgres))
	cols := append(metaColumns("T0_"), "T0_number", "T0_paid")

	vals := append(metaValues(2), nil, nil)
	o, err := h.Hydrate(context.Background(), Row{Columns: cols, Values: vals}, invoice, "T0_")
	require.NoError(t, err)
	assert.True(t, schema.IsNull(o.Get("number")))
	assert.True(t, schema.IsNull(o.Get("paid")))

	unmatched := make([]any, len(cols))
	o, err = h.Hydrate(context.Background(), Row{Columns: cols, Values: unmatched}, invoice, "T0_")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestHydrateDecodeFailure(t *testing.T) {
	h := New(dialect.MustGet(dialect.Postgres))
	tests := []struct {
		name  string
		field string
		raw   any
	}{
		{"bad bool", "paid", "maybe"},
		{"fractional int", "lines", float64(2.5)},
		{"bad decimal", "amount", "abc"},
		{"bad geometry", "area", []byte{7, 7}},
		{"geometry type", "area", "POINT(0 0)"},
		{"bad time", "due", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols := append(metaColumns("T0_"), "T0_"+tt.field)
			vals := append(metaValues(2), tt.raw)
			_, err := h.Hydrate(context.Background(), Row{Columns: cols, Values: vals}, invoice, "T0_")
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeDecodeFailure))

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.field, de.Field)
			assert.Equal(t, tt.raw, de.Raw)
		})
	}
}

func TestHydrateLayoutErrors(t *testing.T) {
	h := New(dialect.MustGet(dialect.Postgres))

	_, err := h.Hydrate(context.Background(), Row{Columns: []string{"T0_number"}, Values: []any{"x"}}, invoice, "T0_")
	assert.True(t, apperr.HasCode(err, apperr.CodeDecodeFailure))

	cols := append(metaColumns("T0_"), "T0_bogus")
	_, err = h.Hydrate(context.Background(), Row{Columns: cols, Values: append(metaValues(2), "x")}, invoice, "T0_")
	assert.True(t, apperr.HasCode(err, apperr.CodeMetadataNotFound))
	assert.True(t, schema.IsNotFoundErr(err))

	_, err = h.Hydrate(context.Background(), Row{Columns: metaColumns("T0_"), Values: metaValues(9)}, invoice, "T0_")
	assert.True(t, apperr.HasCode(err, apperr.CodeDecodeFailure), "type mismatch")
}

func TestHydrateTranslatorError(t *testing.T) {
	h := New(dialect.MustGet(dialect.Postgres), WithTranslator(&upperTranslator{}))
	cols := append(metaColumns("T0_"), "T0_state")
	_, err := h.Hydrate(context.Background(), Row{Columns: cols, Values: append(metaValues(2), "missing")}, invoice, "T0_")
	assert.True(t, apperr.HasCode(err, apperr.CodeDecodeFailure))
}

func TestLocaleDefault(t *testing.T) {
	assert.Equal(t, language.Und, LocaleFrom(context.Background()))
}
