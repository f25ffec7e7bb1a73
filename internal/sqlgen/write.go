package sqlgen

import (
	"fmt"
	"time"

	"github.com/pthm/strata/internal/sqlgen/sqldsl"
	"github.com/pthm/strata/object"
	"github.com/pthm/strata/schema"
)

// System tables shared by every dialect.
const (
	TableSequence    = "strata_sequence"
	TableACL         = "strata_acl"
	TableGroup       = "strata_group"
	TableGroupMember = "strata_group_member"
)

// Sequences allocated through TableSequence.
const (
	SeqPhysical = "repo_pk"
	SeqLogical  = "repo_id"
)

// Insert builds the INSERT of one object version. Fields without a value are
// written as NULL.
func (c *Compiler) Insert(td *schema.TypeDescriptor, o *object.Object) (*Statement, error) {
	var b sqldsl.Binder
	stmt := sqldsl.InsertStmt{Table: c.d.Ident(td.QualifiedTable())}

	meta := []any{o.PhysicalKey, o.LogicalID, o.InsertedAt.UTC(), o.DeletedAt.UTC(), o.ParentID, int64(td.ID), int64(o.Status), o.OwnerID}
	for i, col := range MetaColumns {
		stmt.Columns = append(stmt.Columns, col)
		stmt.Values = append(stmt.Values, b.Arg(meta[i]))
	}
	for _, f := range td.Fields {
		v, err := c.DriverValue(f, o.Get(f.Name))
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, c.d.Ident(f.Name))
		if f.Type == schema.FieldGeometry && v != nil {
			stmt.Values = append(stmt.Values, b.ArgWrapped(v, c.d.BindGeometry))
			continue
		}
		stmt.Values = append(stmt.Values, b.Arg(v))
	}
	text, args := b.Bind(stmt.SQL(), c.d.Placeholder)
	return &Statement{SQL: text, Args: args}, nil
}

// CloseVersion builds the UPDATE that closes the current version with
// physical key pk at time at. It matches no row if the version was already
// closed.
func (c *Compiler) CloseVersion(td *schema.TypeDescriptor, pk int64, at time.Time) *Statement {
	var b sqldsl.Binder
	stmt := sqldsl.UpdateStmt{
		Table: c.d.Ident(td.QualifiedTable()),
		Set:   []sqldsl.Assign{{Column: ColDeleted, Value: b.Arg(at.UTC())}},
		Where: sqldsl.And(
			sqldsl.Eq{Left: sqldsl.Col{Column: ColPK}, Right: b.Arg(pk)},
			sqldsl.Eq{Left: sqldsl.Col{Column: ColDeleted}, Right: b.Arg(object.MaxSentinel)},
		),
	}
	text, args := b.Bind(stmt.SQL(), c.d.Placeholder)
	return &Statement{SQL: text, Args: args}
}

// CurrentPK builds the lookup of the current physical key of a logical id.
func (c *Compiler) CurrentPK(td *schema.TypeDescriptor, logicalID int64) *Statement {
	var b sqldsl.Binder
	stmt := sqldsl.SelectStmt{
		ColumnExprs: []sqldsl.Expr{c.col("T0", ColPK)},
		FromExpr:    sqldsl.TableAs(c.d.Ident(td.QualifiedTable()), "T0"),
		Where: sqldsl.And(
			sqldsl.Eq{Left: c.col("T0", ColID), Right: b.Arg(logicalID)},
			sqldsl.Eq{Left: c.col("T0", ColDeleted), Right: b.Arg(object.MaxSentinel)},
		),
	}
	text, args := b.Bind(stmt.SQL(), c.d.Placeholder)
	return &Statement{SQL: text, Args: args}
}

// UniqueProbe builds a count of current rows other than excludeID holding v
// in field f. For parent-level uniqueness the count is limited to siblings.
func (c *Compiler) UniqueProbe(td *schema.TypeDescriptor, f schema.FieldDescriptor, v schema.Value, parentID, excludeID int64) (*Statement, error) {
	var b sqldsl.Binder
	dv, err := c.DriverValue(f, v)
	if err != nil {
		return nil, err
	}
	where := []sqldsl.Expr{
		sqldsl.Eq{Left: c.col("T0", ColDeleted), Right: b.Arg(object.MaxSentinel)},
		sqldsl.Eq{Left: c.col("T0", ColType), Right: b.Arg(int64(td.ID))},
		sqldsl.Eq{Left: c.col("T0", f.Name), Right: b.Arg(dv)},
	}
	if f.UniqueLevel == schema.UniqueParent {
		where = append(where, sqldsl.Eq{Left: c.col("T0", ColParent), Right: b.Arg(parentID)})
	}
	if excludeID != 0 {
		where = append(where, sqldsl.Cmp{Left: c.col("T0", ColID), Op: "<>", Right: b.Arg(excludeID)})
	}
	stmt := sqldsl.SelectStmt{
		ColumnExprs: []sqldsl.Expr{sqldsl.Count()},
		FromExpr:    sqldsl.TableAs(c.d.Ident(td.QualifiedTable()), "T0"),
		Where:       sqldsl.And(where...),
	}
	text, args := b.Bind(stmt.SQL(), c.d.Placeholder)
	return &Statement{SQL: text, Args: args}, nil
}

// SequenceAdvance builds the UPDATE reserving n values of a sequence.
func (c *Compiler) SequenceAdvance(name string, n int64) *Statement {
	if n <= 0 {
		panic(fmt.Sprintf("sqlgen: sequence advance by %d", n))
	}
	var b sqldsl.Binder
	stmt := sqldsl.UpdateStmt{
		Table: TableSequence,
		Set: []sqldsl.Assign{{
			Column: "seq_value",
			Value:  sqldsl.Raw("seq_value + " + sqldsl.Int(n).SQL()),
		}},
		Where: sqldsl.Eq{Left: sqldsl.Col{Column: "seq_name"}, Right: b.Arg(name)},
	}
	text, args := b.Bind(stmt.SQL(), c.d.Placeholder)
	return &Statement{SQL: text, Args: args}
}

// SequenceRead builds the read of a sequence's current value.
func (c *Compiler) SequenceRead(name string) *Statement {
	var b sqldsl.Binder
	stmt := sqldsl.SelectStmt{
		ColumnExprs: []sqldsl.Expr{sqldsl.Col{Column: "seq_value"}},
		FromExpr:    sqldsl.TableRef{Name: TableSequence},
		Where:       sqldsl.Eq{Left: sqldsl.Col{Column: "seq_name"}, Right: b.Arg(name)},
	}
	text, args := b.Bind(stmt.SQL(), c.d.Placeholder)
	return &Statement{SQL: text, Args: args}
}
