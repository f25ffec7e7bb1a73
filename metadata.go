package strata

import (
	"context"

	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/schema"
)

// GetType returns the descriptor of typ.
func (e *Engine) GetType(typ schema.TypeID) (*schema.TypeDescriptor, error) {
	td, err := e.cat.Describe(typ)
	if err != nil {
		return nil, apperr.Wrap(CodeMetadataNotFound, err).WithOp("getType")
	}
	return td, nil
}

// GetTypeByName returns the descriptor of the named type.
func (e *Engine) GetTypeByName(name string) (*schema.TypeDescriptor, error) {
	td, err := e.cat.TypeByName(name)
	if err != nil {
		return nil, apperr.Wrap(CodeMetadataNotFound, err).WithOp("getType")
	}
	return td, nil
}

// GetFields returns the field descriptors of typ.
func (e *Engine) GetFields(typ schema.TypeID) ([]schema.FieldDescriptor, error) {
	fields, err := e.cat.FieldsOf(typ)
	if err != nil {
		return nil, apperr.Wrap(CodeMetadataNotFound, err).WithOp("getFields")
	}
	return fields, nil
}

// GetLinkType returns the named link type between from and to.
func (e *Engine) GetLinkType(name string, from, to schema.TypeID) (*schema.LinkType, error) {
	lt, err := e.cat.LinkType(name, from, to)
	if err != nil {
		return nil, apperr.Wrap(CodeMetadataNotFound, err).WithOp("getLinkType")
	}
	return lt, nil
}

// HasPermission reports whether c's principal holds level on the config row
// uid of typ, or on the whole table when uid is nil.
func (e *Engine) HasPermission(ctx context.Context, c *Core, typ schema.TypeID, uid *string, level Level) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	if _, err := e.cat.Describe(typ); err != nil {
		return false, e.opErr(err, "hasPermission", c)
	}
	ctx, h, err := e.begin(ctx, c)
	if err != nil {
		return false, e.opErr(err, "hasPermission", c)
	}
	defer h.Release()
	ok, err := e.filter.HasPermission(ctx, h, c.p, typ, uid, level)
	return ok, e.opErr(err, "hasPermission", c)
}

// Check is HasPermission returning an AuthorizationDenied error instead of
// false.
func (e *Engine) Check(ctx context.Context, c *Core, typ schema.TypeID, uid *string, level Level) (err error) {
	defer mon.Task()(&ctx)(&err)
	ctx, h, err := e.begin(ctx, c)
	if err != nil {
		return e.opErr(err, "check", c)
	}
	defer h.Release()
	return e.opErr(e.filter.Check(ctx, h, c.p, typ, uid, level), "check", c)
}
