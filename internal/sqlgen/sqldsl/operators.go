package sqldsl

import (
	"strings"
)

// Comparison operators

// Eq represents an equality comparison (=).
type Eq struct {
	Left  Expr
	Right Expr
}

func (e Eq) SQL() string { return e.Left.SQL() + " = " + e.Right.SQL() }

// Lte represents a less-than-or-equal comparison (<=).
type Lte struct {
	Left  Expr
	Right Expr
}

func (l Lte) SQL() string { return l.Left.SQL() + " <= " + l.Right.SQL() }

// Gt represents a greater-than comparison (>).
type Gt struct {
	Left  Expr
	Right Expr
}

func (g Gt) SQL() string { return g.Left.SQL() + " > " + g.Right.SQL() }

// Cmp is a binary comparison with an explicit operator token such as "<>",
// ">=" or "LIKE".
type Cmp struct {
	Left  Expr
	Op    string
	Right Expr
}

func (c Cmp) SQL() string { return c.Left.SQL() + " " + c.Op + " " + c.Right.SQL() }

// In represents an IN list of expressions.
type In struct {
	Expr   Expr
	Values []Expr
}

func (i In) SQL() string {
	if len(i.Values) == 0 {
		return "1 = 0"
	}
	parts := make([]string, len(i.Values))
	for j, v := range i.Values {
		parts[j] = v.SQL()
	}
	return i.Expr.SQL() + " IN (" + strings.Join(parts, ", ") + ")"
}

// InQuery represents expr IN (subquery).
type InQuery struct {
	Expr  Expr
	Query SQLer
}

func (i InQuery) SQL() string {
	return i.Expr.SQL() + " IN (\n" + IndentLines(i.Query.SQL(), "    ") + "\n)"
}

// Logical operators

// filterNilExprs removes nil expressions from the slice.
func filterNilExprs(exprs []Expr) []Expr {
	filtered := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// joinExprs renders expressions joined by a separator, wrapped in parentheses if more than one.
// The empty values are comparisons rather than TRUE/FALSE so they parse on
// databases without a boolean literal.
func joinExprs(exprs []Expr, sep, emptyVal string) string {
	switch len(exprs) {
	case 0:
		return emptyVal
	case 1:
		return exprs[0].SQL()
	default:
		parts := make([]string, len(exprs))
		for i, e := range exprs {
			parts[i] = e.SQL()
		}
		return "(" + strings.Join(parts, sep) + ")"
	}
}

// AndExpr represents a logical AND of multiple expressions.
type AndExpr struct {
	Exprs []Expr
}

func (a AndExpr) SQL() string { return joinExprs(a.Exprs, " AND ", "1 = 1") }

// And creates an AND expression from multiple expressions.
func And(exprs ...Expr) AndExpr {
	return AndExpr{Exprs: filterNilExprs(exprs)}
}

// OrExpr represents a logical OR of multiple expressions.
type OrExpr struct {
	Exprs []Expr
}

func (o OrExpr) SQL() string { return joinExprs(o.Exprs, " OR ", "1 = 0") }

// Or creates an OR expression from multiple expressions.
func Or(exprs ...Expr) OrExpr {
	return OrExpr{Exprs: filterNilExprs(exprs)}
}

// Term is one element of a Seq: an expression and the keyword that joins it
// to the next term.
type Term struct {
	Expr Expr
	Next string
}

// Seq renders terms with their own connectives, in order, inside parentheses.
// It preserves mixed AND/OR chains exactly as written.
type Seq struct {
	Terms []Term
}

func (s Seq) SQL() string {
	switch len(s.Terms) {
	case 0:
		return "1 = 1"
	case 1:
		return "(" + s.Terms[0].Expr.SQL() + ")"
	}
	var sb strings.Builder
	sb.WriteString("(")
	for i, t := range s.Terms {
		if i > 0 {
			sb.WriteString(" " + s.Terms[i-1].Next + " ")
		}
		sb.WriteString(t.Expr.SQL())
	}
	sb.WriteString(")")
	return sb.String()
}

// NotExpr represents a logical NOT of an expression.
type NotExpr struct {
	Expr Expr
}

func (n NotExpr) SQL() string { return "NOT (" + n.Expr.SQL() + ")" }

// Not creates a NOT expression.
func Not(expr Expr) NotExpr { return NotExpr{Expr: expr} }

// IsNull represents IS NULL check.
type IsNull struct {
	Expr Expr
}

func (i IsNull) SQL() string { return i.Expr.SQL() + " IS NULL" }

// IsNotNull represents IS NOT NULL check.
type IsNotNull struct {
	Expr Expr
}

func (i IsNotNull) SQL() string { return i.Expr.SQL() + " IS NOT NULL" }
