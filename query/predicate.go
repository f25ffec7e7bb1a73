// Package query is the abstract query model: a tree of per-type nodes joined
// to their parents, each carrying an optional predicate tree.
//
// Predicate trees preserve their exact shape. An Expression is an ordered list
// of items where each item carries the conjunction that joins it to the next
// item, and the compiler renders the list verbatim inside parentheses. Nothing
// in strata reorders or flattens a caller's predicate; rewrites only wrap it.
package query

import (
	"fmt"
	"strings"

	"github.com/pthm/strata/schema"
)

// Operator is a comparison operator of a Criterion.
type Operator int

const (
	Eq Operator = iota
	Ne
	Lt
	Le
	Gt
	Ge
	Like
	In
	IsNull
	IsNotNull
)

var operatorText = map[Operator]string{
	Eq:        "=",
	Ne:        "<>",
	Lt:        "<",
	Le:        "<=",
	Gt:        ">",
	Ge:        ">=",
	Like:      "LIKE",
	In:        "IN",
	IsNull:    "IS NULL",
	IsNotNull: "IS NOT NULL",
}

// SQL returns the operator's SQL token.
func (o Operator) SQL() string { return operatorText[o] }

func (o Operator) String() string { return o.SQL() }

// Unary reports whether the operator takes no operand.
func (o Operator) Unary() bool { return o == IsNull || o == IsNotNull }

// ParseOperator parses an operator token, case-insensitively.
func ParseOperator(s string) (Operator, error) {
	s = strings.ToUpper(strings.Join(strings.Fields(s), " "))
	switch s {
	case "==":
		return Eq, nil
	case "!=":
		return Ne, nil
	}
	for op, text := range operatorText {
		if text == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

// Conjunction joins an expression item to the item that follows it.
type Conjunction int

const (
	And Conjunction = iota
	Or
)

func (c Conjunction) SQL() string {
	if c == Or {
		return "OR"
	}
	return "AND"
}

// Predicate is a node of a predicate tree: Criterion, Subquery or Expression.
type Predicate interface {
	predicate()
}

// Criterion is a leaf comparison of one field against a value.
// In uses Values; the unary operators use neither.
type Criterion struct {
	Field  string
	Op     Operator
	Value  schema.Value
	Values []schema.Value
}

// Subquery restricts Field to the values of Column among current rows of Type
// matching Where.
type Subquery struct {
	Field  string
	Type   schema.TypeID
	Column string
	Where  Predicate
}

// Item is one element of an Expression.
type Item struct {
	Pred Predicate
	// Next joins this item to the following one. Ignored on the last item.
	Next Conjunction
}

// Expression is an ordered, parenthesized group of predicates.
type Expression struct {
	Items []Item
}

func (Criterion) predicate()   {}
func (Subquery) predicate()    {}
func (*Expression) predicate() {}

// C builds a Criterion.
func C(field string, op Operator, v schema.Value) Criterion {
	return Criterion{Field: field, Op: op, Value: v}
}

// CIn builds an IN Criterion.
func CIn(field string, values ...schema.Value) Criterion {
	return Criterion{Field: field, Op: In, Values: values}
}

// Where starts an Expression with p.
func Where(p Predicate) *Expression {
	return &Expression{Items: []Item{{Pred: p}}}
}

// AllOf returns an Expression of preds joined by AND.
func AllOf(preds ...Predicate) *Expression { return join(And, preds) }

// AnyOf returns an Expression of preds joined by OR.
func AnyOf(preds ...Predicate) *Expression { return join(Or, preds) }

func join(c Conjunction, preds []Predicate) *Expression {
	e := &Expression{Items: make([]Item, 0, len(preds))}
	for _, p := range preds {
		if p != nil {
			e.Items = append(e.Items, Item{Pred: p, Next: c})
		}
	}
	return e
}

// And appends p joined by AND.
func (e *Expression) And(p Predicate) *Expression { return e.append(And, p) }

// Or appends p joined by OR.
func (e *Expression) Or(p Predicate) *Expression { return e.append(Or, p) }

func (e *Expression) append(c Conjunction, p Predicate) *Expression {
	if n := len(e.Items); n > 0 {
		e.Items[n-1].Next = c
	}
	e.Items = append(e.Items, Item{Pred: p})
	return e
}

// Empty reports whether the expression has no items.
func (e *Expression) Empty() bool { return e == nil || len(e.Items) == 0 }

// Conjoin returns a predicate requiring both a and b. a is wrapped, never
// modified, so its internal grouping is kept exactly.
func Conjoin(a, b Predicate) Predicate {
	switch {
	case isEmpty(a):
		return b
	case isEmpty(b):
		return a
	}
	return &Expression{Items: []Item{{Pred: a, Next: And}, {Pred: b}}}
}

func isEmpty(p Predicate) bool {
	if p == nil {
		return true
	}
	e, ok := p.(*Expression)
	return ok && e.Empty()
}

// Fields returns every field name referenced by p in visit order, not
// descending into sub-queries.
func Fields(p Predicate) []string {
	var out []string
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch x := p.(type) {
		case Criterion:
			out = append(out, x.Field)
		case Subquery:
			out = append(out, x.Field)
		case *Expression:
			if x == nil {
				return
			}
			for _, it := range x.Items {
				walk(it.Pred)
			}
		}
	}
	walk(p)
	return out
}
