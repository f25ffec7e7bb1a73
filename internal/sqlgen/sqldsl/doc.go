// Package sqldsl provides a typed DSL for building the SQL strata emits.
//
// # Overview
//
// Rather than constructing SQL strings through concatenation, this package
// provides typed building blocks that compose into complete statements. The
// output is dialect-neutral: identifiers are emitted as given, table aliases
// are written without AS (which Oracle rejects), and bind parameters are
// rendered as opaque tokens that Bind later rewrites into the dialect's
// placeholder syntax.
//
// # Core Interfaces
//
//   - Expr: SQL expressions (columns, bind arguments, operators, functions)
//   - SQLer: complete statements (SELECT, INSERT, UPDATE)
//   - TableExpr: sources in FROM and JOIN clauses
//
// # Bind Arguments
//
// Values never appear in SQL text. A Binder hands out argument expressions:
//
//	var b Binder
//	where := Eq{Left: Col{Table: "T0", Column: "repo_id"}, Right: b.Arg(int64(7))}
//	sql, args := b.Bind(stmt.SQL(), dialect.Placeholder)
//
// Bind numbers placeholders in the order they appear in the final text and
// orders args to match, so however a statement is assembled or wrapped the
// parameter list always lines up with the placeholders.
//
// # Statement Types
//
//	SelectStmt{
//	    ColumnExprs: []Expr{Alias{Expr: Col{Table: "T0", Column: "repo_id"}, Name: "T0_repo_id"}},
//	    FromExpr:    TableAs("app.invoice", "T0"),
//	    Where:       And(cond1, cond2),
//	    OrderBy:     []OrderTerm{{Expr: Col{Table: "T0", Column: "number"}}},
//	}
//
// InsertStmt and UpdateStmt cover the write path.
package sqldsl
