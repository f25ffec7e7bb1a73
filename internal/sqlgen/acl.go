package sqlgen

import "github.com/pthm/strata/internal/sqlgen/sqldsl"

// GroupMemberships builds the lookup of a principal's groups. Columns:
// group_id, name, security_type, is_default.
func (c *Compiler) GroupMemberships(principalID string) *Statement {
	var b sqldsl.Binder
	stmt := sqldsl.SelectStmt{
		ColumnExprs: []sqldsl.Expr{
			sqldsl.Col{Table: "g", Column: "group_id"},
			sqldsl.Col{Table: "g", Column: "name"},
			sqldsl.Col{Table: "g", Column: "security_type"},
			sqldsl.Col{Table: "m", Column: "is_default"},
		},
		FromExpr: sqldsl.TableAs(TableGroupMember, "m"),
		Joins: []sqldsl.JoinClause{{
			Type:      "INNER",
			TableExpr: sqldsl.TableAs(TableGroup, "g"),
			On:        sqldsl.Eq{Left: sqldsl.Col{Table: "g", Column: "group_id"}, Right: sqldsl.Col{Table: "m", Column: "group_id"}},
		}},
		Where:   sqldsl.Eq{Left: sqldsl.Col{Table: "m", Column: "principal_id"}, Right: b.Arg(principalID)},
		OrderBy: []sqldsl.OrderTerm{{Expr: sqldsl.Col{Table: "g", Column: "group_id"}}},
	}
	text, args := b.Bind(stmt.SQL(), c.d.Placeholder)
	return &Statement{SQL: text, Args: args}
}

// ACLEntries builds the lookup of permission entries granted to any of
// subjects. Columns: subject_id, type_id, config_uid, access_level.
func (c *Compiler) ACLEntries(subjects []string) *Statement {
	var b sqldsl.Binder
	values := make([]sqldsl.Expr, len(subjects))
	for i, s := range subjects {
		values[i] = b.Arg(s)
	}
	stmt := sqldsl.SelectStmt{
		ColumnExprs: []sqldsl.Expr{
			sqldsl.Col{Column: "subject_id"},
			sqldsl.Col{Column: "type_id"},
			sqldsl.Col{Column: "config_uid"},
			sqldsl.Col{Column: "access_level"},
		},
		FromExpr: sqldsl.TableRef{Name: TableACL},
		Where:    sqldsl.In{Expr: sqldsl.Col{Column: "subject_id"}, Values: values},
	}
	text, args := b.Bind(stmt.SQL(), c.d.Placeholder)
	return &Statement{SQL: text, Args: args}
}
