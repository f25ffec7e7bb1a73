package strata

import (
	"context"

	"golang.org/x/text/language"

	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/internal/conn"
	"github.com/pthm/strata/internal/hydrate"
	"github.com/pthm/strata/internal/lock"
)

// Core is a logical read/write context bound to a principal. Cores of one
// tree share a physical connection and transaction. A Core must be released.
type Core struct {
	c *conn.Core
	p Principal
}

// Principal returns the principal the Core works for.
func (c *Core) Principal() Principal { return c.p }

// TreeID returns the id shared by every Core of the tree.
func (c *Core) TreeID() string { return c.c.TreeID() }

// NewCore starts a new tree for p.
func (e *Engine) NewCore(p Principal) *Core {
	return &Core{c: e.conns.NewCoreCaller(p.ID, 1), p: p}
}

// NewCoreContext starts a new tree for the principal attached to ctx with
// WithPrincipal. It returns ErrNoPrincipal when there is none.
func (e *Engine) NewCoreContext(ctx context.Context) (*Core, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return nil, apperr.Wrap(apperr.CodeAuthorizationDenied, ErrNoPrincipal).WithOp("newCore")
	}
	return &Core{c: e.conns.NewCoreCaller(p.ID, 1), p: p}, nil
}

// Share returns a new Core in parent's tree, working for the same principal.
func (e *Engine) Share(parent *Core) (*Core, error) {
	c, err := e.conns.Share(parent.c)
	if err != nil {
		return nil, e.opErr(err, "share", parent)
	}
	return &Core{c: c, p: parent.p}, nil
}

// Commit commits the tree's transaction and then publishes the cache
// evictions of everything it saved.
func (e *Engine) Commit(ctx context.Context, c *Core) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := e.conns.Commit(ctx, c.c); err != nil {
		return e.opErr(err, "commit", c)
	}
	e.clean(c.TreeID())
	return nil
}

// Rollback rolls back the tree's transaction.
func (e *Engine) Rollback(ctx context.Context, c *Core) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = e.conns.Rollback(ctx, c.c)
	e.clean(c.TreeID())
	return e.opErr(err, "rollback", c)
}

// Release releases c. The tree's connection is closed, and uncommitted work
// rolled back, when its last Core is released or when hard is set.
func (e *Engine) Release(c *Core, hard bool) error {
	return e.opErr(e.conns.Release(c.c, hard), "release", c)
}

// IsOpen reports whether c's tree holds a physical connection.
func (e *Engine) IsOpen(c *Core) bool { return e.conns.IsOpen(c.c) }

// begin prepares ctx for work on c and acquires the tree's connection.
func (e *Engine) begin(ctx context.Context, c *Core) (context.Context, *conn.Handle, error) {
	ctx = lock.WithOwner(ctx, c.TreeID())
	if hydrate.LocaleFrom(ctx) == language.Und && c.p.Locale != language.Und {
		ctx = hydrate.WithLocale(ctx, c.p.Locale)
	}
	h, err := e.conns.Acquire(ctx, c.c)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, h, nil
}

type principalKey struct{}

// WithPrincipal returns a context carrying p, for request-scoped code that
// creates Cores with NewCoreContext.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithLocale returns a context whose label fields resolve in tag. It takes
// precedence over the principal's locale.
func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return hydrate.WithLocale(ctx, tag)
}
