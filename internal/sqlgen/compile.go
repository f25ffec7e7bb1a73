package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/sqlgen/sqldsl"
	"github.com/pthm/strata/object"
	"github.com/pthm/strata/query"
	"github.com/pthm/strata/schema"
)

// Repo metadata columns present on every type table.
const (
	ColPK       = query.FieldPhysicalKey
	ColID       = query.FieldID
	ColInserted = query.FieldInserted
	ColDeleted  = query.FieldDeleted
	ColParent   = query.FieldParent
	ColType     = query.FieldType
	ColStatus   = query.FieldStatus
	ColOwner    = query.FieldOwner
)

// MetaColumns lists the metadata columns in selection order.
var MetaColumns = []string{ColPK, ColID, ColInserted, ColDeleted, ColParent, ColType, ColStatus, ColOwner}

// DefaultSeparator joins multi-value text fields in storage.
const DefaultSeparator = ";"

// Statement is compiled SQL with its bound arguments.
type Statement struct {
	SQL  string
	Args []any
	// Returns describes the returned nodes in pre-order.
	Returns []Return
}

// Return describes where one returned node's columns are in the result.
type Return struct {
	Node   *query.Node
	Type   *schema.TypeDescriptor
	Prefix string
	// Fields lists the selected field columns in order.
	Fields []schema.FieldDescriptor
}

// Compiler compiles queries against one catalog and dialect.
type Compiler struct {
	cat *schema.Catalog
	d   dialect.Dialect
	sep string
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithSeparator sets the multi-value text separator.
func WithSeparator(sep string) Option {
	return func(c *Compiler) {
		if sep != "" {
			c.sep = sep
		}
	}
}

// New returns a Compiler.
func New(cat *schema.Catalog, d dialect.Dialect, opts ...Option) *Compiler {
	c := &Compiler{cat: cat, d: d, sep: DefaultSeparator}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() dialect.Dialect { return c.d }

// Compile compiles q with the given row window. limit <= 0 means no limit.
func Compile(cat *schema.Catalog, q *query.Query, limit, offset int, d dialect.Dialect) (*Statement, error) {
	return New(cat, d).Compile(q, limit, offset)
}

// Compile compiles q with the given row window. limit <= 0 means no limit.
func (c *Compiler) Compile(q *query.Query, limit, offset int) (*Statement, error) {
	p, err := c.plan(q, false)
	if err != nil {
		return nil, err
	}
	sql := c.paginate(p, limit, offset)
	text, args := p.b.Bind(sql, c.d.Placeholder)
	return &Statement{SQL: text, Args: args, Returns: p.returns}, nil
}

// CompileCount compiles a COUNT(*) over the rows q would return.
func (c *Compiler) CompileCount(q *query.Query) (*Statement, error) {
	p, err := c.plan(q, true)
	if err != nil {
		return nil, err
	}
	text, args := p.b.Bind(p.stmt.SQL(), c.d.Placeholder)
	return &Statement{SQL: text, Args: args}, nil
}

// plan is one compilation in progress.
type plan struct {
	q       *query.Query
	b       sqldsl.Binder
	stmt    sqldsl.SelectStmt
	where   []sqldsl.Expr
	returns []Return
	nodes   int
	links   int
	subs    int
}

func (c *Compiler) plan(q *query.Query, count bool) (*plan, error) {
	if q == nil || q.Root == nil {
		return nil, fmt.Errorf("sqlgen: empty query")
	}
	p := &plan{q: q}
	if err := c.visit(p, q.Root, nil, "", false); err != nil {
		return nil, err
	}
	if len(p.returns) == 0 && !count {
		return nil, fmt.Errorf("sqlgen: query returns no node")
	}
	if count {
		p.stmt.ColumnExprs = []sqldsl.Expr{sqldsl.Count()}
		p.stmt.OrderBy = nil
	}
	if len(p.where) > 0 {
		p.stmt.Where = sqldsl.And(p.where...)
	}
	return p, nil
}

func (c *Compiler) visit(p *plan, n *query.Node, parent *schema.TypeDescriptor, parentAlias string, outer bool) error {
	td, err := c.cat.Describe(n.Type)
	if err != nil {
		return err
	}
	pos := p.nodes
	p.nodes++
	alias := "T" + strconv.Itoa(pos)

	for _, col := range MetaColumns {
		p.stmt.ColumnExprs = append(p.stmt.ColumnExprs, sqldsl.SelectAs(c.col(alias, col), alias+"_"+col))
	}
	if n.Return {
		r := Return{Node: n, Type: td, Prefix: alias + "_"}
		for _, f := range td.Fields {
			if f.Type == schema.FieldGeometry && !p.q.IncludeGeometry {
				continue
			}
			var col sqldsl.Expr = c.col(alias, f.Name)
			if f.Type == schema.FieldGeometry {
				col = sqldsl.Wrapped{Expr: col, Wrap: c.d.SelectGeometry}
			}
			p.stmt.ColumnExprs = append(p.stmt.ColumnExprs, sqldsl.SelectAs(col, alias+"_"+f.Name))
			r.Fields = append(r.Fields, f)
		}
		p.returns = append(p.returns, r)
	}

	filters, err := c.nodeFilters(p, n, td, alias)
	if err != nil {
		return err
	}
	for _, o := range n.OrderBy {
		if _, ok := td.Field(o.Field); !ok && !isMeta(o.Field) {
			return fmt.Errorf("%w: order field %s.%s", schema.ErrNotFound, td.Name, o.Field)
		}
		p.stmt.OrderBy = append(p.stmt.OrderBy, sqldsl.OrderTerm{Expr: c.col(alias, o.Field), Desc: o.Desc})
	}

	if parent == nil {
		p.stmt.FromExpr = sqldsl.TableAs(c.d.Ident(td.QualifiedTable()), alias)
		p.where = append(p.where, filters...)
	} else {
		outer = outer || n.Join.Outer()
		if err := c.join(p, n, parent, parentAlias, td, alias, filters, outer); err != nil {
			return err
		}
	}

	for _, child := range n.Children {
		if err := c.visit(p, child, td, alias, outer); err != nil {
			return err
		}
	}
	return nil
}

// join adds the JOIN clauses attaching n to its parent. When outer is set the
// node's filters ride in its ON clause, otherwise they go to WHERE.
func (c *Compiler) join(p *plan, n *query.Node, parent *schema.TypeDescriptor, parentAlias string, td *schema.TypeDescriptor, alias string, filters []sqldsl.Expr, outer bool) error {
	kind := "INNER"
	if outer {
		kind = "LEFT"
	}
	j := n.Join
	var on sqldsl.Expr
	switch j.Kind {
	case query.JoinInner, query.JoinOuter:
		on = sqldsl.Eq{
			Left:  c.col(alias, or(j.ChildField, ColParent)),
			Right: c.col(parentAlias, or(j.ParentField, ColID)),
		}
	case query.JoinForeignKey:
		if j.ParentField == "" {
			return fmt.Errorf("sqlgen: foreign key join from %s to %s needs a parent field", parent.Name, td.Name)
		}
		if _, ok := parent.Field(j.ParentField); !ok && !isMeta(j.ParentField) {
			return fmt.Errorf("%w: field %s.%s", schema.ErrNotFound, parent.Name, j.ParentField)
		}
		on = sqldsl.Eq{
			Left:  c.col(alias, or(j.ChildField, ColID)),
			Right: c.col(parentAlias, j.ParentField),
		}
	case query.JoinLink:
		lt, fromCol, toCol, err := c.resolveLink(j.Link, parent.ID, td.ID)
		if err != nil {
			return err
		}
		lalias := "L" + strconv.Itoa(p.links)
		p.links++
		p.stmt.Joins = append(p.stmt.Joins, sqldsl.JoinClause{
			Type:      kind,
			TableExpr: sqldsl.TableAs(c.d.Ident(lt.QualifiedTable()), lalias),
			On: sqldsl.Eq{
				Left:  c.col(lalias, fromCol),
				Right: c.col(parentAlias, ColID),
			},
		})
		on = sqldsl.Eq{
			Left:  c.col(alias, ColID),
			Right: c.col(lalias, toCol),
		}
	default:
		return fmt.Errorf("sqlgen: unknown join kind %d", j.Kind)
	}

	if outer {
		on = sqldsl.And(append([]sqldsl.Expr{on}, filters...)...)
	} else {
		p.where = append(p.where, filters...)
	}
	p.stmt.Joins = append(p.stmt.Joins, sqldsl.JoinClause{
		Type:      kind,
		TableExpr: sqldsl.TableAs(c.d.Ident(td.QualifiedTable()), alias),
		On:        on,
	})
	return nil
}

// resolveLink finds the link between from and to in either declared
// direction and returns the column matching from and the column matching to.
func (c *Compiler) resolveLink(name string, from, to schema.TypeID) (*schema.LinkType, string, string, error) {
	if lt, err := c.cat.LinkType(name, from, to); err == nil {
		return lt, lt.FromColumn, lt.ToColumn, nil
	}
	lt, err := c.cat.LinkType(name, to, from)
	if err != nil {
		return nil, "", "", err
	}
	return lt, lt.ToColumn, lt.FromColumn, nil
}

// nodeFilters returns the version, type and predicate filters of one node.
func (c *Compiler) nodeFilters(p *plan, n *query.Node, td *schema.TypeDescriptor, alias string) ([]sqldsl.Expr, error) {
	filters := c.versionFilters(p, td, alias)
	if n.Where != nil {
		e, err := c.predicate(p, n.Where, td, alias)
		if err != nil {
			return nil, err
		}
		if e != nil {
			filters = append(filters, e)
		}
	}
	return filters, nil
}

func (c *Compiler) versionFilters(p *plan, td *schema.TypeDescriptor, alias string) []sqldsl.Expr {
	var out []sqldsl.Expr
	switch {
	case p.q.History:
	case p.q.AsOf != nil:
		at := p.q.AsOf.UTC()
		out = append(out,
			sqldsl.Lte{Left: c.col(alias, ColInserted), Right: p.b.Arg(at)},
			sqldsl.Gt{Left: c.col(alias, ColDeleted), Right: p.b.Arg(at)},
		)
	default:
		out = append(out, sqldsl.Eq{Left: c.col(alias, ColDeleted), Right: p.b.Arg(object.MaxSentinel)})
	}
	return append(out, sqldsl.Eq{Left: c.col(alias, ColType), Right: p.b.Arg(int64(td.ID))})
}

// predicate compiles a predicate tree against td's columns under alias.
func (c *Compiler) predicate(p *plan, pred query.Predicate, td *schema.TypeDescriptor, alias string) (sqldsl.Expr, error) {
	switch x := pred.(type) {
	case query.Criterion:
		return c.criterion(p, x, td, alias)
	case query.Subquery:
		return c.subquery(p, x, td, alias)
	case *query.Expression:
		if x.Empty() {
			return nil, nil
		}
		seq := sqldsl.Seq{Terms: make([]sqldsl.Term, 0, len(x.Items))}
		for _, it := range x.Items {
			e, err := c.predicate(p, it.Pred, td, alias)
			if err != nil {
				return nil, err
			}
			if e == nil {
				e = sqldsl.Raw("1 = 1")
			}
			seq.Terms = append(seq.Terms, sqldsl.Term{Expr: e, Next: it.Next.SQL()})
		}
		return seq, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("sqlgen: unknown predicate %T", pred)
}

func (c *Compiler) criterion(p *plan, cr query.Criterion, td *schema.TypeDescriptor, alias string) (sqldsl.Expr, error) {
	col := c.col(alias, cr.Field)
	f, err := c.field(td, cr.Field)
	if err != nil {
		return nil, err
	}
	if f.Type == schema.FieldGeometry || f.Type == schema.FieldBlob {
		if !cr.Op.Unary() {
			return nil, fmt.Errorf("sqlgen: %s field %s.%s only supports null checks", f.Type, td.Name, f.Name)
		}
	}

	switch cr.Op {
	case query.IsNull:
		return sqldsl.IsNull{Expr: col}, nil
	case query.IsNotNull:
		return sqldsl.IsNotNull{Expr: col}, nil
	case query.In:
		vals := make([]sqldsl.Expr, 0, len(cr.Values))
		for _, v := range cr.Values {
			arg, err := c.arg(p, f, v)
			if err != nil {
				return nil, err
			}
			vals = append(vals, arg)
		}
		return sqldsl.In{Expr: col, Values: vals}, nil
	}

	if schema.IsNull(cr.Value) {
		switch cr.Op {
		case query.Eq:
			return sqldsl.IsNull{Expr: col}, nil
		case query.Ne:
			return sqldsl.IsNotNull{Expr: col}, nil
		}
		return nil, fmt.Errorf("sqlgen: operator %s needs a value for %s.%s", cr.Op, td.Name, cr.Field)
	}
	arg, err := c.arg(p, f, cr.Value)
	if err != nil {
		return nil, err
	}
	return sqldsl.Cmp{Left: col, Op: cr.Op.SQL(), Right: arg}, nil
}

func (c *Compiler) subquery(p *plan, sq query.Subquery, td *schema.TypeDescriptor, alias string) (sqldsl.Expr, error) {
	if _, err := c.field(td, sq.Field); err != nil {
		return nil, err
	}
	sub, err := c.cat.Describe(sq.Type)
	if err != nil {
		return nil, err
	}
	if _, err := c.field(sub, sq.Column); err != nil {
		return nil, err
	}
	salias := "S" + strconv.Itoa(p.subs)
	p.subs++

	where := c.versionFilters(p, sub, salias)
	if sq.Where != nil {
		e, err := c.predicate(p, sq.Where, sub, salias)
		if err != nil {
			return nil, err
		}
		if e != nil {
			where = append(where, e)
		}
	}
	inner := sqldsl.SelectStmt{
		ColumnExprs: []sqldsl.Expr{c.col(salias, sq.Column)},
		FromExpr:    sqldsl.TableAs(c.d.Ident(sub.QualifiedTable()), salias),
		Where:       sqldsl.And(where...),
	}
	return sqldsl.InQuery{Expr: c.col(alias, sq.Field), Query: inner}, nil
}

// col references a column of the table under alias.
func (c *Compiler) col(alias, name string) sqldsl.Col {
	return sqldsl.Col{Table: alias, Column: c.d.Ident(name)}
}

// field resolves a field or metadata column name.
func (c *Compiler) field(td *schema.TypeDescriptor, name string) (schema.FieldDescriptor, error) {
	if f, ok := td.Field(name); ok {
		return f, nil
	}
	if f, ok := metaField(name); ok {
		return f, nil
	}
	return schema.FieldDescriptor{}, fmt.Errorf("%w: field %s.%s", schema.ErrNotFound, td.Name, name)
}

func metaField(name string) (schema.FieldDescriptor, bool) {
	switch name {
	case ColInserted, ColDeleted:
		return schema.FieldDescriptor{Name: name, Type: schema.FieldTimestamp}, true
	case ColPK, ColID, ColParent, ColType, ColStatus, ColOwner:
		return schema.FieldDescriptor{Name: name, Type: schema.FieldNumeric, Nullable: true}, true
	}
	return schema.FieldDescriptor{}, false
}

func isMeta(name string) bool {
	_, ok := metaField(name)
	return ok
}

// arg binds v as a parameter for field f.
func (c *Compiler) arg(p *plan, f schema.FieldDescriptor, v schema.Value) (sqldsl.Expr, error) {
	dv, err := c.DriverValue(f, v)
	if err != nil {
		return nil, err
	}
	if f.Type == schema.FieldGeometry {
		return p.b.ArgWrapped(dv, c.d.BindGeometry), nil
	}
	return p.b.Arg(dv), nil
}

// DriverValue converts v into the value bound for a column of field f.
func (c *Compiler) DriverValue(f schema.FieldDescriptor, v schema.Value) (any, error) {
	switch x := v.(type) {
	case nil, schema.Null:
		return nil, nil
	case schema.Text:
		return string(x), nil
	case schema.Int:
		return int64(x), nil
	case schema.Decimal:
		return x.Decimal, nil
	case schema.Bool:
		return c.d.BoolValue(bool(x)), nil
	case schema.Time:
		return x.Time.UTC(), nil
	case schema.Geometry:
		return []byte(x), nil
	case schema.Blob:
		return []byte(x), nil
	case schema.MultiText:
		for _, el := range x {
			if el == "" || strings.Contains(el, c.sep) {
				return nil, fmt.Errorf("%w: %s element %q is empty or contains separator %q",
					schema.ErrValueMismatch, f.Name, el, c.sep)
			}
		}
		return strings.Join(x, c.sep), nil
	case schema.Label:
		return x.Key, nil
	}
	return nil, fmt.Errorf("sqlgen: cannot bind %T for field %s", v, f.Name)
}

// paginate renders the statement with the dialect's row window.
func (c *Compiler) paginate(p *plan, limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return p.stmt.SQL()
	}
	switch c.d.Paging() {
	case dialect.PagingOffsetFetch:
		stmt := p.stmt
		if len(stmt.OrderBy) == 0 {
			stmt.OrderBy = []sqldsl.OrderTerm{{Expr: sqldsl.Raw("(SELECT NULL)")}}
		}
		sql := stmt.SQL() + "\nOFFSET " + strconv.Itoa(max(offset, 0)) + " ROWS"
		if limit > 0 {
			sql += " FETCH NEXT " + strconv.Itoa(limit) + " ROWS ONLY"
		}
		return sql

	case dialect.PagingRowNum:
		if len(p.stmt.OrderBy) == 0 && offset <= 0 {
			stmt := p.stmt
			stmt.Where = sqldsl.And(append(append([]sqldsl.Expr(nil), p.where...),
				sqldsl.Lte{Left: sqldsl.Raw("ROWNUM"), Right: sqldsl.Int(limit)})...)
			return stmt.SQL()
		}
		inner := sqldsl.SelectStmt{
			ColumnExprs: []sqldsl.Expr{sqldsl.Raw("q.*"), sqldsl.Raw("ROWNUM rn__")},
			FromExpr:    sqldsl.SubqueryTable{Query: p.stmt, Alias: "q"},
		}
		if limit > 0 {
			inner.Where = sqldsl.Lte{Left: sqldsl.Raw("ROWNUM"), Right: sqldsl.Int(max(offset, 0) + limit)}
		}
		outer := sqldsl.SelectStmt{
			ColumnExprs: []sqldsl.Expr{sqldsl.Raw("*")},
			FromExpr:    sqldsl.SubqueryTable{Query: inner, Alias: "w"},
			Where:       sqldsl.Gt{Left: sqldsl.Raw("rn__"), Right: sqldsl.Int(max(offset, 0))},
		}
		return outer.SQL()

	default:
		var window []string
		switch {
		case limit > 0:
			window = append(window, "LIMIT "+strconv.Itoa(limit))
		case c.d.NoLimit() != "":
			window = append(window, "LIMIT "+c.d.NoLimit())
		}
		if offset > 0 {
			window = append(window, "OFFSET "+strconv.Itoa(offset))
		}
		return p.stmt.SQL() + "\n" + strings.Join(window, " ")
	}
}

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
