package acl

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pthm/strata/internal/lock"
)

// LockScope is the lock table scope guarding permission resolution.
const LockScope = "permissions"

// InvalidateAll is the cluster key that drops every resolved permission map.
const InvalidateAll = "acl:*"

// InvalidateKey returns the cluster key that drops one principal's map.
func InvalidateKey(principalID string) string { return "acl:" + principalID }

// Resolver computes and caches permission maps per principal. Resolution is
// lazy: the first request for a principal loads its grants while holding the
// principal's lock, and concurrent requests wait for that result.
type Resolver struct {
	src   Source
	locks *lock.Table
	log   *zap.Logger

	mu    sync.RWMutex
	perms map[string]*Permissions
	// epoch advances on every invalidation. A map loaded across an
	// advance is returned but not kept.
	epoch uint64
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(log *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

// NewResolver returns a Resolver loading grants from src.
func NewResolver(src Source, locks *lock.Table, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		src:   src,
		locks: locks,
		log:   zap.NewNop(),
		perms: make(map[string]*Permissions),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) cached(id string) (*Permissions, uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.perms[id]
	return p, r.epoch, ok
}

// Permissions returns p's permission map, loading it through q on first use.
func (r *Resolver) Permissions(ctx context.Context, q Querier, p Principal) (*Permissions, error) {
	if perms, _, ok := r.cached(p.ID); ok {
		return perms, nil
	}

	owner, ok := lock.OwnerFrom(ctx)
	if !ok {
		owner = uuid.NewString()
	}
	release, err := r.locks.Acquire(ctx, lock.Key{Scope: LockScope, Principal: p.ID}, owner)
	if err != nil {
		return nil, err
	}
	defer release()

	perms, epoch, ok := r.cached(p.ID)
	if ok {
		return perms, nil
	}

	grants, err := r.src.Load(ctx, q, p)
	if err != nil {
		return nil, err
	}
	perms = NewPermissions(grants.Default, grants.Entries)
	r.log.Debug("resolved permissions",
		zap.String("principal", p.ID),
		zap.Int("groups", len(grants.Groups)),
		zap.Int("entries", len(grants.Entries)))

	r.mu.Lock()
	if r.epoch == epoch {
		r.perms[p.ID] = perms
	} else {
		r.log.Debug("permissions invalidated during load", zap.String("principal", p.ID))
	}
	r.mu.Unlock()
	return perms, nil
}

// Invalidate drops the map of one principal.
func (r *Resolver) Invalidate(principalID string) {
	r.mu.Lock()
	delete(r.perms, principalID)
	r.epoch++
	r.mu.Unlock()
}

// Reset drops every map.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.perms = make(map[string]*Permissions)
	r.epoch++
	r.mu.Unlock()
}

// HandleInvalidation applies cluster keys: "acl:*" resets, "acl:<id>"
// drops one principal, anything else is ignored.
func (r *Resolver) HandleInvalidation(keys []string) {
	for _, k := range keys {
		if k == "*" || k == InvalidateAll {
			r.Reset()
			continue
		}
		if id, ok := strings.CutPrefix(k, "acl:"); ok {
			r.Invalidate(id)
		}
	}
}
