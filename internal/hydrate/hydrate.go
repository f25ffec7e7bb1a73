// Package hydrate turns result rows into objects.
//
// A Layout is computed once per statement from the column names: metadata
// columns are located positionally from the node's repo_pk column, field
// columns by stripping the node's alias prefix. Column names are matched
// case-insensitively because some databases upper-case unquoted aliases.
package hydrate

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/object"
	"github.com/pthm/strata/schema"
)

// Translator resolves code-list keys into display text.
type Translator interface {
	Translate(ctx context.Context, codeList, key string, locale language.Tag) (string, error)
}

// Row is one result row with its column names.
type Row struct {
	Columns []string
	Values  []any
}

type localeKey struct{}

// WithLocale attaches the locale used for label resolution.
func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, localeKey{}, tag)
}

// LocaleFrom returns the locale attached to ctx, or language.Und.
func LocaleFrom(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(localeKey{}).(language.Tag); ok {
		return tag
	}
	return language.Und
}

// Hydrator decodes rows for one dialect.
type Hydrator struct {
	d   dialect.Dialect
	sep string
	tr  Translator
}

// Option configures a Hydrator.
type Option func(*Hydrator)

// WithSeparator sets the multi-value text separator.
func WithSeparator(sep string) Option {
	return func(h *Hydrator) {
		if sep != "" {
			h.sep = sep
		}
	}
}

// WithTranslator sets the label translator. Without one, labels carry their
// key as text.
func WithTranslator(tr Translator) Option {
	return func(h *Hydrator) { h.tr = tr }
}

// New returns a Hydrator.
func New(d dialect.Dialect, opts ...Option) *Hydrator {
	h := &Hydrator{d: d, sep: sqlgen.DefaultSeparator}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Layout is the column positions of one node in a result set.
type Layout struct {
	Type   *schema.TypeDescriptor
	meta   int
	fields []fieldPos
}

type fieldPos struct {
	idx   int
	field schema.FieldDescriptor
}

// Plan computes the layout of the node with the given alias prefix.
func Plan(columns []string, td *schema.TypeDescriptor, prefix string) (*Layout, error) {
	l := &Layout{Type: td, meta: -1}
	first := prefix + sqlgen.ColPK
	for i, c := range columns {
		if strings.EqualFold(c, first) {
			l.meta = i
			break
		}
	}
	if l.meta < 0 || l.meta+len(sqlgen.MetaColumns) > len(columns) {
		return nil, apperr.New(apperr.CodeDecodeFailure, "result has no metadata columns for prefix %s", prefix)
	}
	for j, m := range sqlgen.MetaColumns {
		if !strings.EqualFold(columns[l.meta+j], prefix+m) {
			return nil, apperr.New(apperr.CodeDecodeFailure, "column %d is %s, want %s%s", l.meta+j, columns[l.meta+j], prefix, m)
		}
	}

	byLower := make(map[string]schema.FieldDescriptor, len(td.Fields))
	for _, f := range td.Fields {
		byLower[strings.ToLower(f.Name)] = f
	}
	for i, c := range columns {
		if i >= l.meta && i < l.meta+len(sqlgen.MetaColumns) {
			continue
		}
		if len(c) <= len(prefix) || !strings.EqualFold(c[:len(prefix)], prefix) {
			continue
		}
		name := strings.ToLower(c[len(prefix):])
		f, ok := byLower[name]
		if !ok {
			return nil, apperr.Wrap(apperr.CodeMetadataNotFound,
				fmt.Errorf("%w: field %s.%s", schema.ErrNotFound, td.Name, c[len(prefix):]))
		}
		l.fields = append(l.fields, fieldPos{idx: i, field: f})
	}
	return l, nil
}

// Hydrate decodes the node with the given prefix from row.
func (h *Hydrator) Hydrate(ctx context.Context, row Row, td *schema.TypeDescriptor, prefix string) (*object.Object, error) {
	l, err := Plan(row.Columns, td, prefix)
	if err != nil {
		return nil, err
	}
	return h.Decode(ctx, row.Values, l)
}

// Decode decodes one row's values using a precomputed layout. It returns
// nil, nil when the node's key is NULL, which happens for unmatched outer
// joins.
func (h *Hydrator) Decode(ctx context.Context, values []any, l *Layout) (*object.Object, error) {
	if values[l.meta] == nil {
		return nil, nil
	}
	o := &object.Object{Type: l.Type.ID, Values: make(map[string]schema.Value, len(l.fields))}
	ints := []*int64{&o.PhysicalKey, &o.LogicalID}
	for j, dst := range ints {
		v, err := decodeInt(values[l.meta+j])
		if err != nil {
			return nil, decodeErr(sqlgen.MetaColumns[j], values[l.meta+j], err)
		}
		*dst = v
	}
	var err error
	if o.InsertedAt, err = h.d.DecodeTime(values[l.meta+2]); err != nil {
		return nil, decodeErr(sqlgen.ColInserted, values[l.meta+2], err)
	}
	if o.DeletedAt, err = h.d.DecodeTime(values[l.meta+3]); err != nil {
		return nil, decodeErr(sqlgen.ColDeleted, values[l.meta+3], err)
	}
	tail := []*int64{&o.ParentID, nil, nil, &o.OwnerID}
	for j, dst := range tail {
		idx := l.meta + 4 + j
		if values[idx] == nil {
			continue
		}
		v, err := decodeInt(values[idx])
		if err != nil {
			return nil, decodeErr(sqlgen.MetaColumns[4+j], values[idx], err)
		}
		switch {
		case dst != nil:
			*dst = v
		case j == 1 && schema.TypeID(v) != l.Type.ID:
			return nil, decodeErr(sqlgen.ColType, values[idx], fmt.Errorf("row of type %d decoded as %s", v, l.Type.Name))
		case j == 2:
			o.Status = int(v)
		}
	}

	for _, fp := range l.fields {
		v, err := h.value(ctx, fp.field, values[fp.idx])
		if err != nil {
			return nil, decodeErr(fp.field.Name, values[fp.idx], err)
		}
		o.Values[fp.field.Name] = v
	}
	return o, nil
}

// value decodes one raw driver value for field f.
func (h *Hydrator) value(ctx context.Context, f schema.FieldDescriptor, raw any) (schema.Value, error) {
	if raw == nil {
		return schema.Null{}, nil
	}
	switch f.Type {
	case schema.FieldText, schema.FieldNVarchar:
		s, err := text(raw)
		if err != nil {
			return nil, err
		}
		if f.CodeList != "" || f.Label {
			return h.label(ctx, f, s)
		}
		return schema.Text(s), nil
	case schema.FieldNumeric:
		if f.Scale == 0 {
			v, err := decodeInt(raw)
			return schema.Int(v), err
		}
		d, err := decodeDecimal(raw)
		return schema.NewDecimal(d), err
	case schema.FieldBoolean:
		b, err := h.d.DecodeBool(raw)
		return schema.Bool(b), err
	case schema.FieldTimestamp:
		t, err := h.d.DecodeTime(raw)
		return schema.NewTime(t), err
	case schema.FieldGeometry:
		b, ok := raw.([]byte)
		if !ok {
			return nil, fmt.Errorf("geometry as %T", raw)
		}
		if err := schema.ValidateWKB(b); err != nil {
			return nil, err
		}
		return schema.Geometry(append([]byte(nil), b...)), nil
	case schema.FieldBlob:
		b, ok := raw.([]byte)
		if !ok {
			return nil, fmt.Errorf("blob as %T", raw)
		}
		return schema.Blob(append([]byte(nil), b...)), nil
	case schema.FieldMultiText:
		s, err := text(raw)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return schema.MultiText{}, nil
		}
		return schema.MultiText(strings.Split(s, h.sep)), nil
	}
	return nil, fmt.Errorf("unhandled field type %s", f.Type)
}

func (h *Hydrator) label(ctx context.Context, f schema.FieldDescriptor, key string) (schema.Value, error) {
	l := schema.Label{Key: key, Text: key}
	if h.tr == nil {
		return l, nil
	}
	list := f.CodeList
	if list == "" {
		list = f.Name
	}
	txt, err := h.tr.Translate(ctx, list, key, LocaleFrom(ctx))
	if err != nil {
		return nil, fmt.Errorf("translating %s/%s: %w", list, key, err)
	}
	l.Text = txt
	return l, nil
}

// DecodeError names the field and raw value that failed to decode.
type DecodeError struct {
	Field string
	Raw   any
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("field %s: raw value %#v: %v", e.Field, e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(field string, raw any, err error) error {
	return apperr.Wrap(apperr.CodeDecodeFailure, &DecodeError{Field: field, Raw: raw, Err: err})
}

func text(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", fmt.Errorf("text as %T", raw)
}

func decodeInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("fractional value %v", v)
		}
		return int64(v), nil
	case []byte:
		return parseInt(string(v))
	case string:
		return parseInt(v)
	case fmt.Stringer:
		return parseInt(v.String())
	}
	return 0, fmt.Errorf("integer as %T", raw)
}

func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("fractional value %s", s)
	}
	return d.IntPart(), nil
}

func decodeDecimal(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case []byte:
		return decimal.NewFromString(string(v))
	case string:
		return decimal.NewFromString(v)
	case fmt.Stringer:
		return decimal.NewFromString(v.String())
	}
	return decimal.Decimal{}, fmt.Errorf("decimal as %T", raw)
}
