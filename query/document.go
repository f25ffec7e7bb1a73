package query

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"sigs.k8s.io/yaml"

	"github.com/pthm/strata/schema"
)

// Document is the YAML form of a query. Types and fields are referenced by
// name and values are literals converted against the catalog.
//
//	includeGeometry: false
//	root:
//	  type: INVOICE
//	  where:
//	    - {field: amount, op: ">", value: 100, next: or}
//	    - group:
//	        - {field: paid, op: "=", value: true}
//	  children:
//	    - type: CUSTOMER
//	      return: true
//	      join: {kind: foreignKey, parentField: customer, childField: code}
type Document struct {
	IncludeGeometry bool       `json:"includeGeometry,omitempty"`
	AsOf            *time.Time `json:"asOf,omitempty"`
	History         bool       `json:"history,omitempty"`
	Root            NodeDoc    `json:"root"`
}

// NodeDoc is the YAML form of a Node.
type NodeDoc struct {
	Type     string     `json:"type"`
	Return   *bool      `json:"return,omitempty"`
	Join     JoinDoc    `json:"join,omitempty"`
	Where    []ItemDoc  `json:"where,omitempty"`
	OrderBy  []OrderDoc `json:"orderBy,omitempty"`
	Children []NodeDoc  `json:"children,omitempty"`
}

// JoinDoc is the YAML form of a Join.
type JoinDoc struct {
	Kind        string `json:"kind,omitempty"`
	ParentField string `json:"parentField,omitempty"`
	ChildField  string `json:"childField,omitempty"`
	Link        string `json:"link,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

// OrderDoc is the YAML form of an Order.
type OrderDoc struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// ItemDoc is one expression item: a criterion, a nested group or a sub-query.
type ItemDoc struct {
	Field    string            `json:"field,omitempty"`
	Op       string            `json:"op,omitempty"`
	Value    json.RawMessage   `json:"value,omitempty"`
	Values   []json.RawMessage `json:"values,omitempty"`
	Group    []ItemDoc         `json:"group,omitempty"`
	Subquery *SubqueryDoc      `json:"subquery,omitempty"`
	Next     string            `json:"next,omitempty"`
}

// SubqueryDoc is the YAML form of a Subquery.
type SubqueryDoc struct {
	Type   string    `json:"type"`
	Column string    `json:"column"`
	Where  []ItemDoc `json:"where,omitempty"`
}

// Parse reads a YAML query document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing query: %w", err)
	}
	return &doc, nil
}

// ParseFile reads a YAML query document from path.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query %s: %w", path, err)
	}
	return Parse(data)
}

// Build resolves names against cat and returns the Query.
func (d *Document) Build(cat *schema.Catalog) (*Query, error) {
	root, err := buildNode(cat, d.Root, true)
	if err != nil {
		return nil, err
	}
	q := &Query{Root: root, IncludeGeometry: d.IncludeGeometry, History: d.History}
	if d.AsOf != nil {
		t := d.AsOf.UTC()
		q.AsOf = &t
	}
	return q, nil
}

func buildNode(cat *schema.Catalog, nd NodeDoc, root bool) (*Node, error) {
	td, err := cat.TypeByName(nd.Type)
	if err != nil {
		return nil, err
	}
	n := &Node{Type: td.ID, Return: root}
	if nd.Return != nil {
		n.Return = *nd.Return
	}
	if n.Join, err = buildJoin(nd.Join); err != nil {
		return nil, fmt.Errorf("node %s: %w", nd.Type, err)
	}
	if len(nd.Where) > 0 {
		if n.Where, err = buildExpression(cat, td, nd.Where); err != nil {
			return nil, fmt.Errorf("node %s: %w", nd.Type, err)
		}
	}
	for _, o := range nd.OrderBy {
		if _, err := td.MustField(o.Field); err != nil {
			return nil, err
		}
		n.OrderBy = append(n.OrderBy, Order(o))
	}
	for _, cd := range nd.Children {
		c, err := buildNode(cat, cd, false)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}

func buildJoin(jd JoinDoc) (Join, error) {
	j := Join{ParentField: jd.ParentField, ChildField: jd.ChildField, Link: jd.Link, Optional: jd.Optional}
	switch strings.ToLower(jd.Kind) {
	case "", "inner":
		j.Kind = JoinInner
	case "outer":
		j.Kind = JoinOuter
	case "foreignkey", "fk":
		j.Kind = JoinForeignKey
	case "link":
		j.Kind = JoinLink
		if jd.Link == "" {
			return j, fmt.Errorf("link join needs a link name")
		}
	default:
		return j, fmt.Errorf("unknown join kind %q", jd.Kind)
	}
	return j, nil
}

func buildExpression(cat *schema.Catalog, td *schema.TypeDescriptor, items []ItemDoc) (*Expression, error) {
	e := &Expression{Items: make([]Item, 0, len(items))}
	for _, it := range items {
		p, err := buildItem(cat, td, it)
		if err != nil {
			return nil, err
		}
		next := And
		switch strings.ToLower(it.Next) {
		case "", "and":
		case "or":
			next = Or
		default:
			return nil, fmt.Errorf("unknown conjunction %q", it.Next)
		}
		e.Items = append(e.Items, Item{Pred: p, Next: next})
	}
	return e, nil
}

func buildItem(cat *schema.Catalog, td *schema.TypeDescriptor, it ItemDoc) (Predicate, error) {
	switch {
	case len(it.Group) > 0:
		return buildExpression(cat, td, it.Group)
	case it.Subquery != nil:
		sub, err := cat.TypeByName(it.Subquery.Type)
		if err != nil {
			return nil, err
		}
		if _, err := td.MustField(it.Field); err != nil {
			return nil, err
		}
		sq := Subquery{Field: it.Field, Type: sub.ID, Column: it.Subquery.Column}
		if len(it.Subquery.Where) > 0 {
			w, err := buildExpression(cat, sub, it.Subquery.Where)
			if err != nil {
				return nil, err
			}
			sq.Where = w
		}
		return sq, nil
	}

	f, err := td.MustField(it.Field)
	if err != nil {
		return nil, err
	}
	op, err := ParseOperator(it.Op)
	if err != nil {
		return nil, err
	}
	c := Criterion{Field: f.Name, Op: op}
	switch {
	case op.Unary():
	case op == In:
		for _, raw := range it.Values {
			v, err := literal(f, raw)
			if err != nil {
				return nil, err
			}
			c.Values = append(c.Values, v)
		}
	default:
		if c.Value, err = literal(f, it.Value); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// literal converts a JSON literal into a value of the field's type.
func literal(f schema.FieldDescriptor, raw json.RawMessage) (schema.Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return schema.Null{}, nil
	}
	bad := func(err error) error {
		return fmt.Errorf("field %s: literal %s: %w", f.Name, string(raw), err)
	}
	switch f.Type {
	case schema.FieldText, schema.FieldNVarchar, schema.FieldMultiText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, bad(err)
		}
		return schema.Text(s), nil
	case schema.FieldNumeric:
		d, err := decimal.NewFromString(strings.Trim(string(raw), `"`))
		if err != nil {
			return nil, bad(err)
		}
		if f.Scale == 0 && d.IsInteger() {
			return schema.Int(d.IntPart()), nil
		}
		return schema.NewDecimal(d), nil
	case schema.FieldBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, bad(err)
		}
		return schema.Bool(b), nil
	case schema.FieldTimestamp:
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, bad(err)
		}
		return schema.NewTime(t), nil
	case schema.FieldGeometry, schema.FieldBlob:
		var b []byte
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, bad(err)
		}
		if f.Type == schema.FieldGeometry {
			return schema.Geometry(b), nil
		}
		return schema.Blob(b), nil
	}
	return nil, bad(fmt.Errorf("unsupported field type %s", f.Type))
}
