package acl

import (
	"context"

	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/query"
	"github.com/pthm/strata/schema"
)

// Filter rewrites queries and checks writes against resolved permissions.
type Filter struct {
	cat *schema.Catalog
	res *Resolver
}

// NewFilter returns a Filter over cat using res.
func NewFilter(cat *schema.Catalog, res *Resolver) *Filter {
	return &Filter{cat: cat, res: res}
}

// Resolver returns the filter's permission resolver.
func (f *Filter) Resolver() *Resolver { return f.res }

// Authorize returns a copy of qry restricted to what p may see at level. The
// input query is not modified.
func (f *Filter) Authorize(ctx context.Context, q Querier, qry *query.Query, p Principal, level Level) (*query.Query, error) {
	if p.Bypass() {
		return qry, nil
	}
	perms, err := f.res.Permissions(ctx, q, p)
	if err != nil {
		return nil, err
	}
	out := qry.Clone()
	for _, n := range out.Nodes() {
		if err := f.restrict(n, perms, p, level); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *Filter) restrict(n *query.Node, perms *Permissions, p Principal, level Level) error {
	td, err := f.cat.Describe(n.Type)
	if err != nil {
		return apperr.Wrap(apperr.CodeMetadataNotFound, err)
	}

	switch {
	case perms.Whole(td.ID) >= level:
	case td.ConfigTable:
		uids := perms.RowsAtLeast(td.ID, level)
		if len(uids) == 0 {
			return denied(p, td, level)
		}
		n.Filter(matchAny(td.UniqueColumn, uids))
	case td.ConfigRef != nil:
		cfg, err := f.cat.Describe(td.ConfigRef.TypeID)
		if err != nil {
			return apperr.Wrap(apperr.CodeMetadataNotFound, err)
		}
		if perms.Whole(cfg.ID) >= level {
			break
		}
		uids := perms.RowsAtLeast(cfg.ID, level)
		if len(uids) == 0 {
			return denied(p, td, level)
		}
		n.Filter(query.Subquery{
			Field:  td.ConfigRef.Field,
			Type:   cfg.ID,
			Column: cfg.UniqueColumn,
			Where:  matchAny(cfg.UniqueColumn, uids),
		})
	default:
		return denied(p, td, level)
	}

	if td.Delegation != nil && perms.Delegated() {
		return f.delegate(n, td, p, level)
	}
	return nil
}

// delegate limits n to objects linked to the principal's identity by
// prepending an inner link join to it.
func (f *Filter) delegate(n *query.Node, td *schema.TypeDescriptor, p Principal, level Level) error {
	if p.IdentityID == 0 {
		return denied(p, td, level)
	}
	identity := f.cat.IdentityType()
	if _, err := f.cat.LinkType(td.Delegation.Link, td.ID, identity); err != nil {
		return apperr.Wrap(apperr.CodeMetadataNotFound, err)
	}
	id := &query.Node{
		Type:  identity,
		Where: query.C(sqlgen.ColID, query.Eq, schema.Int(p.IdentityID)),
		Join:  query.Join{Kind: query.JoinLink, Link: td.Delegation.Link},
	}
	n.Children = append([]*query.Node{id}, n.Children...)
	return nil
}

func matchAny(column string, uids []string) *query.Expression {
	preds := make([]query.Predicate, len(uids))
	for i, uid := range uids {
		preds[i] = query.C(column, query.Eq, schema.Text(uid))
	}
	return query.AnyOf(preds...)
}

func denied(p Principal, td *schema.TypeDescriptor, level Level) error {
	return apperr.New(apperr.CodeAuthorizationDenied, "%s access to %s not granted", level, td.Name).
		WithType(td.Name).
		WithPrincipal(p.ID)
}

// ConfigTarget returns the (type, config uid) pair that governs access to an
// object of td with the given values: the object itself for config tables,
// the referenced config row for types with a config reference, and the whole
// table otherwise. lookup returns the text of a field value.
func ConfigTarget(td *schema.TypeDescriptor, lookup func(field string) (string, bool)) (schema.TypeID, *string) {
	switch {
	case td.ConfigTable:
		if v, ok := lookup(td.UniqueColumn); ok {
			return td.ID, &v
		}
	case td.ConfigRef != nil:
		if v, ok := lookup(td.ConfigRef.Field); ok {
			return td.ConfigRef.TypeID, &v
		}
		return td.ConfigRef.TypeID, nil
	}
	return td.ID, nil
}

// Check returns an AuthorizationDenied error unless p holds level on the
// config row uid of typ, or on the whole table when uid is nil.
func (f *Filter) Check(ctx context.Context, q Querier, p Principal, typ schema.TypeID, uid *string, level Level) error {
	ok, err := f.HasPermission(ctx, q, p, typ, uid, level)
	if err != nil || ok {
		return err
	}
	td, err := f.cat.Describe(typ)
	if err != nil {
		return apperr.Wrap(apperr.CodeMetadataNotFound, err)
	}
	return denied(p, td, level)
}

// HasPermission reports whether p holds level on the config row uid of typ,
// or on the whole table when uid is nil.
func (f *Filter) HasPermission(ctx context.Context, q Querier, p Principal, typ schema.TypeID, uid *string, level Level) (bool, error) {
	if p.Bypass() {
		return true, nil
	}
	perms, err := f.res.Permissions(ctx, q, p)
	if err != nil {
		return false, err
	}
	return perms.Level(typ, uid) >= level, nil
}

// CheckObject authorizes a write of an object of td at level. A whole-table
// grant on td suffices; otherwise the grant on the governing config row is
// required. lookup returns the text of a field value.
func (f *Filter) CheckObject(ctx context.Context, q Querier, p Principal, td *schema.TypeDescriptor, lookup func(field string) (string, bool), level Level) error {
	if p.Bypass() {
		return nil
	}
	perms, err := f.res.Permissions(ctx, q, p)
	if err != nil {
		return err
	}
	if perms.Whole(td.ID) >= level {
		return nil
	}
	typ, uid := ConfigTarget(td, lookup)
	if (typ != td.ID || uid != nil) && perms.Level(typ, uid) >= level {
		return nil
	}
	return denied(p, td, level)
}
