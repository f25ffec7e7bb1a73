package sqldsl

import (
	"fmt"
	"strings"
)

// Sqlf formats SQL with automatic dedenting and blank line removal.
// The SQL shape is visible in the format string.
func Sqlf(format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	lines := strings.Split(s, "\n")

	// Find minimum indentation (ignoring empty lines)
	minIndent := 1000
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if indent < minIndent {
			minIndent = indent
		}
	}

	// Remove common indent and empty lines
	var result []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) >= minIndent {
			result = append(result, line[minIndent:])
		} else {
			result = append(result, strings.TrimLeft(line, " \t"))
		}
	}

	return strings.Join(result, "\n")
}

// Optf returns formatted string if condition is true, empty string otherwise.
// Useful for optional SQL clauses.
func Optf(cond bool, format string, args ...any) string {
	if !cond {
		return ""
	}
	return fmt.Sprintf(format, args...)
}

// SQLer is an interface for types that can render SQL.
type SQLer interface {
	SQL() string
}

// JoinClause represents a SQL JOIN clause.
type JoinClause struct {
	Type      string // "INNER", "LEFT"
	TableExpr TableExpr
	On        Expr
}

// SQL renders the JOIN clause.
func (j JoinClause) SQL() string {
	if j.On == nil {
		return "CROSS JOIN " + j.TableExpr.TableSQL()
	}
	return j.Type + " JOIN " + j.TableExpr.TableSQL() + " ON " + j.On.SQL()
}

// OrderTerm is one ORDER BY element.
type OrderTerm struct {
	Expr Expr
	Desc bool
}

// SQL renders the order term.
func (o OrderTerm) SQL() string {
	if o.Desc {
		return o.Expr.SQL() + " DESC"
	}
	return o.Expr.SQL()
}

// SelectStmt represents a SELECT query. Row limiting is dialect specific and
// applied by the caller around or after the rendered statement.
type SelectStmt struct {
	Distinct    bool
	ColumnExprs []Expr
	FromExpr    TableExpr
	Joins       []JoinClause
	Where       Expr
	OrderBy     []OrderTerm
}

// SQL renders the SELECT statement.
func (s SelectStmt) SQL() string {
	return clauses(
		"SELECT "+Optf(s.Distinct, "DISTINCT ")+s.columnsSQL(),
		s.fromSQL(),
		s.joinsSQL(),
		s.whereSQL(),
		s.orderSQL(),
	)
}

// clauses joins the non-empty clauses with newlines. Unlike Sqlf it leaves
// multi-line clauses (nested sub-queries) untouched.
func clauses(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func (s SelectStmt) columnsSQL() string {
	if len(s.ColumnExprs) == 0 {
		return "1"
	}
	parts := make([]string, len(s.ColumnExprs))
	for i, e := range s.ColumnExprs {
		parts[i] = e.SQL()
	}
	return strings.Join(parts, ", ")
}

func (s SelectStmt) fromSQL() string {
	if s.FromExpr == nil {
		return ""
	}
	return "FROM " + s.FromExpr.TableSQL()
}

func (s SelectStmt) joinsSQL() string {
	if len(s.Joins) == 0 {
		return ""
	}
	parts := make([]string, len(s.Joins))
	for i, j := range s.Joins {
		parts[i] = j.SQL()
	}
	return strings.Join(parts, "\n")
}

func (s SelectStmt) whereSQL() string {
	if s.Where == nil {
		return ""
	}
	return "WHERE " + s.Where.SQL()
}

func (s SelectStmt) orderSQL() string {
	if len(s.OrderBy) == 0 {
		return ""
	}
	parts := make([]string, len(s.OrderBy))
	for i, o := range s.OrderBy {
		parts[i] = o.SQL()
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

// InsertStmt represents a single-row INSERT.
type InsertStmt struct {
	Table   string
	Columns []string
	Values  []Expr
}

// SQL renders the INSERT statement.
func (i InsertStmt) SQL() string {
	vals := make([]string, len(i.Values))
	for j, v := range i.Values {
		vals[j] = v.SQL()
	}
	return clauses(
		"INSERT INTO "+i.Table+" ("+strings.Join(i.Columns, ", ")+")",
		"VALUES ("+strings.Join(vals, ", ")+")",
	)
}

// Assign is one SET element of an UPDATE.
type Assign struct {
	Column string
	Value  Expr
}

// UpdateStmt represents an UPDATE without joins.
type UpdateStmt struct {
	Table string
	Set   []Assign
	Where Expr
}

// SQL renders the UPDATE statement.
func (u UpdateStmt) SQL() string {
	sets := make([]string, len(u.Set))
	for i, a := range u.Set {
		sets[i] = a.Column + " = " + a.Value.SQL()
	}
	return clauses(
		"UPDATE "+u.Table,
		"SET "+strings.Join(sets, ", "),
		Optf(u.Where != nil, "WHERE %s", exprSQL(u.Where)),
	)
}

// DeleteStmt represents a DELETE.
type DeleteStmt struct {
	Table string
	Where Expr
}

// SQL renders the DELETE statement.
func (d DeleteStmt) SQL() string {
	return clauses(
		"DELETE FROM "+d.Table,
		Optf(d.Where != nil, "WHERE %s", exprSQL(d.Where)),
	)
}

func exprSQL(e Expr) string {
	if e == nil {
		return ""
	}
	return e.SQL()
}

// IndentLines adds the given indent prefix to each line of input.
func IndentLines(input, indent string) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(input), "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
