package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/strata/query"
	"github.com/pthm/strata/schema"
)

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	cat, err := schema.NewBuilder().
		Type(schema.TypeDescriptor{ID: 1, Name: "CUSTOMER", Table: "customer", ConfigTable: true, UniqueColumn: "code",
			Fields: []schema.FieldDescriptor{{Name: "code", Type: schema.FieldText, Unique: true}}}).
		Type(schema.TypeDescriptor{ID: 2, Name: "INVOICE", Table: "invoice",
			Fields: []schema.FieldDescriptor{
				{Name: "number", Type: schema.FieldText},
				{Name: "customer", Type: schema.FieldText},
				{Name: "amount", Type: schema.FieldNumeric, Scale: 2},
				{Name: "lines", Type: schema.FieldNumeric},
				{Name: "paid", Type: schema.FieldBoolean, Nullable: true},
			}}).
		Build()
	require.NoError(t, err)
	return cat
}

func TestExpressionKeepsOrder(t *testing.T) {
	e := query.Where(query.C("a", query.Eq, schema.Int(1))).
		Or(query.C("b", query.Eq, schema.Int(2))).
		And(query.C("c", query.Eq, schema.Int(3)))

	require.Len(t, e.Items, 3)
	assert.Equal(t, query.Or, e.Items[0].Next)
	assert.Equal(t, query.And, e.Items[1].Next)
	assert.Equal(t, []string{"a", "b", "c"}, query.Fields(e))
}

func TestConjoinWraps(t *testing.T) {
	orig := query.AnyOf(query.C("a", query.Eq, schema.Int(1)), query.C("b", query.Eq, schema.Int(2)))
	added := query.C("c", query.IsNull, nil)

	got := query.Conjoin(orig, added).(*query.Expression)
	require.Len(t, got.Items, 2)
	assert.Same(t, orig, got.Items[0].Pred)
	assert.Equal(t, query.And, got.Items[0].Next)
	assert.Len(t, orig.Items, 2, "original untouched")

	assert.Equal(t, added, query.Conjoin(nil, added))
	assert.Equal(t, added, query.Conjoin(&query.Expression{}, added))
}

func TestParseOperator(t *testing.T) {
	tests := map[string]query.Operator{
		"=":            query.Eq,
		"!=":           query.Ne,
		"<=":           query.Le,
		"like":         query.Like,
		"in":           query.In,
		"is  not null": query.IsNotNull,
	}
	for in, want := range tests {
		got, err := query.ParseOperator(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := query.ParseOperator("~")
	assert.Error(t, err)
}

func TestWalkPreOrderAndClone(t *testing.T) {
	q := query.New(2)
	a := q.Root.Child(query.NewNode(1), query.Join{Kind: query.JoinForeignKey, ParentField: "customer", ChildField: "code"})
	a.Child(&query.Node{Type: 3}, query.Join{Kind: query.JoinOuter})
	q.Root.Child(&query.Node{Type: 4}, query.Join{Kind: query.JoinInner})

	var types []schema.TypeID
	for _, n := range q.Nodes() {
		types = append(types, n.Type)
	}
	assert.Equal(t, []schema.TypeID{2, 1, 3, 4}, types)
	assert.Len(t, q.Returns(), 2)

	cp := q.Clone()
	cp.Root.Children[0].Children = nil
	cp.Root.Filter(query.C("x", query.Eq, schema.Int(1)))
	assert.Len(t, q.Root.Children[0].Children, 1)
	assert.Nil(t, q.Root.Where)
}

const invoiceQuery = `
root:
  type: INVOICE
  where:
    - {field: amount, op: ">", value: 10.5, next: or}
    - group:
        - {field: paid, op: "=", value: true}
        - {field: lines, op: in, values: [1, 2]}
    - field: customer
      subquery:
        type: CUSTOMER
        column: code
        where:
          - {field: code, op: like, value: "A%"}
  orderBy: [{field: number, desc: true}]
  children:
    - type: CUSTOMER
      return: true
      join: {kind: foreignKey, parentField: customer, childField: code, optional: true}
`

func TestDocumentBuild(t *testing.T) {
	cat := testCatalog(t)
	doc, err := query.Parse([]byte(invoiceQuery))
	require.NoError(t, err)

	q, err := doc.Build(cat)
	require.NoError(t, err)

	assert.Equal(t, schema.TypeID(2), q.Root.Type)
	assert.True(t, q.Root.Return)
	assert.Equal(t, []query.Order{{Field: "number", Desc: true}}, q.Root.OrderBy)

	e := q.Root.Where.(*query.Expression)
	require.Len(t, e.Items, 3)
	amount := e.Items[0].Pred.(query.Criterion)
	assert.Equal(t, query.Gt, amount.Op)
	assert.IsType(t, schema.Decimal{}, amount.Value)
	assert.Equal(t, "10.5", amount.Value.String())
	assert.Equal(t, query.Or, e.Items[0].Next)

	group := e.Items[1].Pred.(*query.Expression)
	in := group.Items[1].Pred.(query.Criterion)
	assert.Equal(t, []schema.Value{schema.Int(1), schema.Int(2)}, in.Values)

	sq := e.Items[2].Pred.(query.Subquery)
	assert.Equal(t, schema.TypeID(1), sq.Type)
	assert.Equal(t, "code", sq.Column)

	child := q.Root.Children[0]
	assert.Equal(t, query.JoinForeignKey, child.Join.Kind)
	assert.True(t, child.Join.Outer())
}

func TestDocumentBuildErrors(t *testing.T) {
	cat := testCatalog(t)
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown type", "root: {type: NOPE}"},
		{"unknown field", "root: {type: INVOICE, where: [{field: nope, op: '=', value: 1}]}"},
		{"bad literal", "root: {type: INVOICE, where: [{field: paid, op: '=', value: maybe}]}"},
		{"bad join", "root: {type: INVOICE, children: [{type: CUSTOMER, join: {kind: sideways}}]}"},
		{"link without name", "root: {type: INVOICE, children: [{type: CUSTOMER, join: {kind: link}}]}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := query.Parse([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = doc.Build(cat)
			assert.Error(t, err)
		})
	}
}
