package strata

import (
	"context"

	"go.uber.org/zap"

	"github.com/pthm/strata/internal/acl"
	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/internal/conn"
	"github.com/pthm/strata/internal/hydrate"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/object"
	"github.com/pthm/strata/query"
	"github.com/pthm/strata/schema"
)

// GetObjects runs q for c's principal and returns the objects of the first
// returned node, in result order and without duplicates. limit <= 0 returns
// every row.
//
// Authorization is part of the query: a principal without a READ grant
// covering a node's type gets an AuthorizationDenied error, and per-row
// grants restrict the rows that can match.
func (e *Engine) GetObjects(ctx context.Context, c *Core, q *query.Query, limit, offset int) (_ []*object.Object, err error) {
	defer mon.Task()(&ctx)(&err)
	rows, err := e.getRows(ctx, c, q, limit, offset)
	if err != nil {
		return nil, e.opErr(err, "getObjects", c)
	}
	seen := make(map[int64]struct{}, len(rows))
	out := make([]*object.Object, 0, len(rows))
	for _, row := range rows {
		o := row[0]
		if o == nil {
			continue
		}
		if _, dup := seen[o.PhysicalKey]; dup {
			continue
		}
		seen[o.PhysicalKey] = struct{}{}
		out = append(out, o)
	}
	return out, nil
}

// GetRows runs q like GetObjects but returns every result row, with one
// object per returned node in pre-order. Objects of unmatched outer joins
// are nil.
func (e *Engine) GetRows(ctx context.Context, c *Core, q *query.Query, limit, offset int) (_ []object.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	rows, err := e.getRows(ctx, c, q, limit, offset)
	return rows, e.opErr(err, "getRows", c)
}

func (e *Engine) getRows(ctx context.Context, c *Core, q *query.Query, limit, offset int) ([]object.Row, error) {
	ctx, h, err := e.begin(ctx, c)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return e.authorizedRows(ctx, h, c, q, limit, offset)
}

func (e *Engine) authorizedRows(ctx context.Context, h *conn.Handle, c *Core, q *query.Query, limit, offset int) ([]object.Row, error) {
	authorized, err := e.filter.Authorize(ctx, h, q, c.p, acl.Read)
	if err != nil {
		return nil, err
	}
	stmt, err := e.comp.Compile(authorized, limit, offset)
	if err != nil {
		return nil, compileErr(err)
	}
	return e.run(ctx, h, c, stmt)
}

// GetCount returns the number of rows q would return for c's principal.
func (e *Engine) GetCount(ctx context.Context, c *Core, q *query.Query) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	n, err := e.count(ctx, c, q)
	return n, e.opErr(err, "getCount", c)
}

func (e *Engine) count(ctx context.Context, c *Core, q *query.Query) (int64, error) {
	ctx, h, err := e.begin(ctx, c)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	authorized, err := e.filter.Authorize(ctx, h, q, c.p, acl.Read)
	if err != nil {
		return 0, err
	}
	stmt, err := e.comp.CompileCount(authorized)
	if err != nil {
		return 0, compileErr(err)
	}
	var n int64
	if err := h.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
		return 0, sqlErr(stmt.SQL, err)
	}
	return n, nil
}

// GetObject returns the current version of the object with the given
// logical id. Cached objects are returned without a query when the
// principal's grants cover them. A missing or filtered object yields an
// error wrapping ErrObjectNotFound.
func (e *Engine) GetObject(ctx context.Context, c *Core, typ schema.TypeID, id int64) (_ *object.Object, err error) {
	defer mon.Task()(&ctx)(&err)
	o, err := e.lookup(ctx, c, typ, object.IDKey(id), query.C(sqlgen.ColID, query.Eq, schema.Int(id)))
	return o, e.opErr(err, "getObject", c)
}

// GetObjectBy returns the current object whose unique field holds v.
func (e *Engine) GetObjectBy(ctx context.Context, c *Core, typ schema.TypeID, field string, v schema.Value) (_ *object.Object, err error) {
	defer mon.Task()(&ctx)(&err)
	o, err := e.getObjectBy(ctx, c, typ, field, v)
	return o, e.opErr(err, "getObjectBy", c)
}

func (e *Engine) getObjectBy(ctx context.Context, c *Core, typ schema.TypeID, field string, v schema.Value) (*object.Object, error) {
	td, err := e.cat.Describe(typ)
	if err != nil {
		return nil, err
	}
	f, err := td.MustField(field)
	if err != nil {
		return nil, err
	}
	if !f.Unique || f.UniqueLevel != schema.UniqueTable {
		return nil, apperr.New(CodeValidation, "field %s.%s is not unique table-wide", td.Name, field).WithType(td.Name)
	}
	if v, err = schema.Coerce(f, v); err != nil {
		return nil, err
	}
	return e.lookup(ctx, c, typ, object.UniqueKey(field, v), query.C(field, query.Eq, v))
}

func (e *Engine) lookup(ctx context.Context, c *Core, typ schema.TypeID, key object.Key, match query.Criterion) (*object.Object, error) {
	td, err := e.cat.Describe(typ)
	if err != nil {
		return nil, err
	}
	ctx, h, err := e.begin(ctx, c)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if !e.isDirty(c.TreeID(), typ) {
		if o, ok := e.cache.Get(ctx, key, typ); ok {
			readable, err := e.readable(ctx, h, c.p, td, o)
			if err != nil {
				return nil, err
			}
			if readable {
				return o, nil
			}
		}
	}

	q := query.New(typ)
	q.Root.Filter(match)
	rows, err := e.authorizedRows(ctx, h, c, q, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0][0] == nil {
		return nil, apperr.Wrap(CodeNotFound, ErrObjectNotFound).WithType(td.Name).WithQuery(string(key))
	}
	return rows[0][0], nil
}

// readable reports whether p may read the cached object o without asking
// the database. Delegated types are always re-read since the identity link
// is not part of the object.
func (e *Engine) readable(ctx context.Context, q acl.Querier, p Principal, td *schema.TypeDescriptor, o *object.Object) (bool, error) {
	if p.Bypass() {
		return true, nil
	}
	perms, err := e.filter.Resolver().Permissions(ctx, q, p)
	if err != nil {
		return false, err
	}
	if perms.Delegated() && td.Delegation != nil {
		return false, nil
	}
	err = e.filter.CheckObject(ctx, q, p, td, lookupField(o), acl.Read)
	switch {
	case err == nil:
		return true, nil
	case apperr.HasCode(err, CodeAuthorizationDenied):
		return false, nil
	}
	return false, err
}

func lookupField(o *object.Object) func(string) (string, bool) {
	return func(field string) (string, bool) {
		v := o.Get(field)
		if schema.IsNull(v) {
			return "", false
		}
		return v.String(), true
	}
}

// run executes stmt and hydrates every returned node of every row.
func (e *Engine) run(ctx context.Context, q conn.Querier, c *Core, stmt *sqlgen.Statement) ([]object.Row, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, sqlErr(stmt.SQL, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			e.log.Warn("closing result set", zap.String("query", stmt.SQL), zap.Error(cerr))
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, sqlErr(stmt.SQL, err)
	}
	layouts := make([]*hydrate.Layout, len(stmt.Returns))
	for i, r := range stmt.Returns {
		if layouts[i], err = hydrate.Plan(cols, r.Type, r.Prefix); err != nil {
			return nil, apperr.Wrap(CodeDecodeFailure, err).WithQuery(stmt.SQL)
		}
	}

	values := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	var out []object.Row
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, sqlErr(stmt.SQL, err)
		}
		row := make(object.Row, len(layouts))
		for i, l := range layouts {
			o, err := e.hyd.Decode(ctx, values, l)
			if err != nil {
				return nil, apperr.Wrap(CodeDecodeFailure, err).WithType(l.Type.Name).WithQuery(stmt.SQL)
			}
			if o != nil && !e.isDirty(c.TreeID(), o.Type) {
				e.cache.Put(ctx, o)
			}
			row[i] = o
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlErr(stmt.SQL, err)
	}
	return out, nil
}

func compileErr(err error) error {
	if schema.IsNotFoundErr(err) {
		return apperr.Wrap(CodeMetadataNotFound, err)
	}
	return apperr.Wrap(CodeValidation, err)
}
