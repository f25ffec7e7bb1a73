package strata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/acl"
	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/internal/conn"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/object"
	"github.com/pthm/strata/query"
	"github.com/pthm/strata/schema"
)

// Save writes a new version of o in c's transaction and returns it with its
// keys and timestamps set. o itself is not modified.
//
// A new object (LogicalID 0) gets a fresh logical id. For an existing object
// the current row is closed and a new row inserted under the same logical
// id; if o carries a PhysicalKey that is no longer current the save fails
// with CodeConflict. Cache entries of the object are evicted cluster-wide
// when the transaction commits.
func (e *Engine) Save(ctx context.Context, c *Core, o *object.Object) (_ *object.Object, err error) {
	defer mon.Task()(&ctx)(&err)
	saved, err := e.save(ctx, c, o)
	return saved, e.opErr(err, "save", c)
}

func (e *Engine) save(ctx context.Context, c *Core, o *object.Object) (*object.Object, error) {
	td, err := e.cat.Describe(o.Type)
	if err != nil {
		return nil, err
	}
	obj := o.Clone()
	if err := e.authorize(ctx, c, td, obj, acl.Write); err != nil {
		return nil, err
	}
	if err := e.hooks.run(ctx, &SaveEvent{Phase: BeforeSave, Core: c, Type: td, Object: obj}); err != nil {
		return nil, err
	}
	if err := normalize(td, obj); err != nil {
		return nil, err
	}

	saved, err := e.write(ctx, c, td, obj)
	if err != nil {
		return nil, err
	}
	if err := e.hooks.run(ctx, &SaveEvent{Phase: AfterSave, Core: c, Type: td, Object: saved.Clone()}); err != nil {
		return nil, err
	}
	return saved, nil
}

// authorize checks that c's principal holds level on obj. Hooks only see
// objects the principal may write.
func (e *Engine) authorize(ctx context.Context, c *Core, td *schema.TypeDescriptor, obj *object.Object, level acl.Level) error {
	ctx, h, err := e.begin(ctx, c)
	if err != nil {
		return err
	}
	defer h.Release()
	return e.filter.CheckObject(ctx, h, c.p, td, lookupField(obj), level)
}

// normalize checks every value against its field and replaces it with its
// canonical form.
func normalize(td *schema.TypeDescriptor, o *object.Object) error {
	for name := range o.Values {
		if _, ok := td.Field(name); !ok {
			return apperr.New(CodeValidation, "%s has no field %s", td.Name, name).WithType(td.Name)
		}
	}
	for _, f := range td.Fields {
		v, err := schema.Coerce(f, o.Get(f.Name))
		if err != nil {
			return apperr.Wrap(CodeValidation, err).WithType(td.Name)
		}
		o.Values[f.Name] = v
	}
	return nil
}

func (e *Engine) write(ctx context.Context, c *Core, td *schema.TypeDescriptor, obj *object.Object) (*object.Object, error) {
	ctx, h, err := e.begin(ctx, c)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if err := e.filter.CheckObject(ctx, h, c.p, td, lookupField(obj), acl.Write); err != nil {
		return nil, err
	}
	if err := e.checkUnique(ctx, h, td, obj); err != nil {
		return nil, err
	}

	var evict []string
	now := e.now().UTC().Truncate(time.Microsecond)
	if obj.IsNew() {
		if obj.LogicalID, err = e.next(ctx, h, sqlgen.SeqLogical); err != nil {
			return nil, err
		}
	} else {
		// Peers may hold the prior version under unique keys this save
		// changes, so its keys come from the stored row.
		prior, err := e.currentOn(ctx, h, c, td, obj.LogicalID)
		switch {
		case IsObjectNotFoundErr(err):
			return nil, apperr.New(CodeConflict, "%s %d has no current version", td.Name, obj.LogicalID).WithType(td.Name)
		case err != nil:
			return nil, err
		}
		evict = e.cache.InvalidationKeys(prior)
		if err := e.closeCurrent(ctx, h, td, obj.LogicalID, obj.PhysicalKey, now); err != nil {
			return nil, err
		}
	}
	if obj.PhysicalKey, err = e.next(ctx, h, sqlgen.SeqPhysical); err != nil {
		return nil, err
	}
	obj.InsertedAt = now
	obj.DeletedAt = object.MaxSentinel

	stmt, err := e.comp.Insert(td, obj)
	if err != nil {
		return nil, apperr.Wrap(CodeValidation, err).WithType(td.Name)
	}
	if _, err := h.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		if dialect.IsUniqueViolation(err) {
			return nil, apperr.Wrap(CodeUniqueViolation, err).WithType(td.Name).WithQuery(stmt.SQL)
		}
		return nil, sqlErr(stmt.SQL, err).WithType(td.Name)
	}

	e.markDirty(c.TreeID(), td.ID)
	e.evictOnCommit(h, td, append(evict, e.cache.InvalidationKeys(obj)...))
	return obj.Clone(), nil
}

// checkUnique rejects values of unique fields already held by another
// current object. Parent-level uniqueness only considers siblings.
func (e *Engine) checkUnique(ctx context.Context, h *conn.Handle, td *schema.TypeDescriptor, obj *object.Object) error {
	for _, f := range td.Fields {
		v := obj.Get(f.Name)
		if !f.Unique || schema.IsNull(v) {
			continue
		}
		stmt, err := e.comp.UniqueProbe(td, f, v, obj.ParentID, obj.LogicalID)
		if err != nil {
			return apperr.Wrap(CodeValidation, err).WithType(td.Name)
		}
		var n int64
		if err := h.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
			return sqlErr(stmt.SQL, err)
		}
		if n > 0 {
			return apperr.New(CodeUniqueViolation, "%s.%s=%s already exists", td.Name, f.Name, v).
				WithType(td.Name)
		}
	}
	return nil
}

// closeCurrent closes the current version of a logical id. When expectPK is
// set it must be the current version's physical key.
func (e *Engine) closeCurrent(ctx context.Context, h *conn.Handle, td *schema.TypeDescriptor, id, expectPK int64, at time.Time) error {
	cur := e.comp.CurrentPK(td, id)
	var pk int64
	err := h.QueryRowContext(ctx, cur.SQL, cur.Args...).Scan(&pk)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperr.New(CodeConflict, "%s %d has no current version", td.Name, id).WithType(td.Name)
	case err != nil:
		return sqlErr(cur.SQL, err)
	}
	if expectPK != 0 && expectPK != pk {
		return apperr.New(CodeConflict, "%s %d: version %d was replaced by %d", td.Name, id, expectPK, pk).WithType(td.Name)
	}

	stmt := e.comp.CloseVersion(td, pk, at)
	res, err := h.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return sqlErr(stmt.SQL, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.New(CodeConflict, "%s %d: version %d already closed", td.Name, id, pk).WithType(td.Name)
	}
	return nil
}

// next allocates the next value of a sequence in the tree's transaction.
func (e *Engine) next(ctx context.Context, h *conn.Handle, name string) (int64, error) {
	adv := e.comp.SequenceAdvance(name, 1)
	res, err := h.ExecContext(ctx, adv.SQL, adv.Args...)
	if err != nil {
		return 0, sqlErr(adv.SQL, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, apperr.Wrap(CodeMetadataNotFound, fmt.Errorf("%w: %s", ErrMissingSequence, name))
	}
	read := e.comp.SequenceRead(name)
	var v int64
	if err := h.QueryRowContext(ctx, read.SQL, read.Args...).Scan(&v); err != nil {
		return 0, sqlErr(read.SQL, err)
	}
	return v, nil
}

// evictOnCommit evicts keys locally and publishes them to the cluster once
// the tree's transaction commits.
func (e *Engine) evictOnCommit(h *conn.Handle, td *schema.TypeDescriptor, keys []string) {
	slices.Sort(keys)
	keys = slices.Compact(keys)
	h.OnCommit(func() {
		e.cache.HandleInvalidation(keys)
		if err := e.coord.PublishInvalidate(context.Background(), keys...); err != nil {
			e.log.Warn("publishing cache invalidation",
				zap.String("type", td.Name),
				zap.Strings("keys", keys),
				zap.Error(err))
		}
	})
}

// Delete closes the current version of the object with the given logical
// id. The principal needs MODIFY on the object.
func (e *Engine) Delete(ctx context.Context, c *Core, typ schema.TypeID, id int64) (err error) {
	defer mon.Task()(&ctx)(&err)
	return e.opErr(e.delete(ctx, c, typ, id), "delete", c)
}

func (e *Engine) delete(ctx context.Context, c *Core, typ schema.TypeID, id int64) error {
	td, err := e.cat.Describe(typ)
	if err != nil {
		return err
	}
	cur, err := e.current(ctx, c, td, id)
	if err != nil {
		return err
	}
	if err := e.authorize(ctx, c, td, cur, acl.Modify); err != nil {
		return err
	}
	if err := e.hooks.run(ctx, &SaveEvent{Phase: BeforeDelete, Core: c, Type: td, Object: cur.Clone()}); err != nil {
		return err
	}

	hctx, h, err := e.begin(ctx, c)
	if err != nil {
		return err
	}
	err = e.closeCurrent(hctx, h, td, id, cur.PhysicalKey, e.now().UTC().Truncate(time.Microsecond))
	if err == nil {
		e.markDirty(c.TreeID(), td.ID)
		e.evictOnCommit(h, td, e.cache.InvalidationKeys(cur))
	}
	h.Release()
	if err != nil {
		return err
	}
	return e.hooks.run(ctx, &SaveEvent{Phase: AfterDelete, Core: c, Type: td, Object: cur})
}

// current reads the current version of id without authorization.
func (e *Engine) current(ctx context.Context, c *Core, td *schema.TypeDescriptor, id int64) (*object.Object, error) {
	ctx, h, err := e.begin(ctx, c)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return e.currentOn(ctx, h, c, td, id)
}

func (e *Engine) currentOn(ctx context.Context, h *conn.Handle, c *Core, td *schema.TypeDescriptor, id int64) (*object.Object, error) {
	q := query.New(td.ID)
	q.IncludeGeometry = true
	q.Root.Filter(query.C(sqlgen.ColID, query.Eq, schema.Int(id)))
	stmt, err := e.comp.Compile(q, 1, 0)
	if err != nil {
		return nil, compileErr(err)
	}
	rows, err := e.run(ctx, h, c, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0][0] == nil {
		return nil, apperr.Wrap(CodeNotFound, ErrObjectNotFound).WithType(td.Name)
	}
	return rows[0][0], nil
}
