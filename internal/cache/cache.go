// Package cache holds current object versions in process memory.
//
// Each type's policy comes from its catalog descriptor: types without a
// policy are never cached, permanent types live in a plain map until
// invalidated, and bounded types live in a size and TTL limited LRU. The
// cache never loads on a miss; the engine reads through it.
//
// Stored and returned objects are copies, so callers may modify what they
// get without affecting other readers.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spacemonkeygo/monkit/v3"

	"github.com/pthm/strata/object"
	"github.com/pthm/strata/schema"
)

var mon = monkit.Package()

// DefaultTTL is used by bounded types that declare no TTL.
const DefaultTTL = 5 * time.Minute

// Cache is the process-wide object cache.
type Cache struct {
	cat *schema.Catalog

	mu        sync.RWMutex
	permanent map[object.TypedKey]*object.Object
	bounded   map[schema.TypeID]*expirable.LRU[object.Key, *object.Object]
}

// New returns an empty cache using the policies declared in cat.
func New(cat *schema.Catalog) *Cache {
	return &Cache{
		cat:       cat,
		permanent: make(map[object.TypedKey]*object.Object),
		bounded:   make(map[schema.TypeID]*expirable.LRU[object.Key, *object.Object]),
	}
}

func (c *Cache) policy(typ schema.TypeID) (*schema.TypeDescriptor, bool) {
	td, err := c.cat.Describe(typ)
	if err != nil || !td.Cache.Enabled() {
		return nil, false
	}
	return td, true
}

// lru returns the bounded store for td, creating it on first use.
func (c *Cache) lru(td *schema.TypeDescriptor) *expirable.LRU[object.Key, *object.Object] {
	c.mu.RLock()
	l, ok := c.bounded[td.ID]
	c.mu.RUnlock()
	if ok {
		return l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.bounded[td.ID]; ok {
		return l
	}
	ttl := time.Duration(td.Cache.TTL)
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l = expirable.NewLRU[object.Key, *object.Object](td.Cache.Capacity, nil, ttl)
	c.bounded[td.ID] = l
	return l
}

// Get returns a copy of the object cached under key for typ.
func (c *Cache) Get(ctx context.Context, key object.Key, typ schema.TypeID) (*object.Object, bool) {
	td, ok := c.policy(typ)
	if !ok {
		return nil, false
	}

	var o *object.Object
	switch td.Cache.Policy {
	case schema.CachePermanent:
		c.mu.RLock()
		o, ok = c.permanent[object.TypedKey{Type: typ, Key: key}]
		c.mu.RUnlock()
	case schema.CacheBounded:
		o, ok = c.lru(td).Get(key)
	}

	tag := monkit.NewSeriesTag("type", td.Name)
	if !ok {
		mon.Event("cache_miss", tag)
		return nil, false
	}
	mon.Event("cache_hit", tag)
	return o.Clone(), true
}

// Put stores a copy of o under every key it can be looked up by. Objects of
// uncached types and historical versions are ignored.
func (c *Cache) Put(ctx context.Context, o *object.Object) {
	td, ok := c.policy(o.Type)
	if !ok || !o.IsCurrent() || o.IsNew() {
		return
	}
	cp := o.Clone()
	keys := object.KeysFor(td, cp)

	switch td.Cache.Policy {
	case schema.CachePermanent:
		c.mu.Lock()
		for _, k := range keys {
			c.permanent[object.TypedKey{Type: o.Type, Key: k}] = cp
		}
		c.mu.Unlock()
	case schema.CacheBounded:
		l := c.lru(td)
		for _, k := range keys {
			l.Add(k, cp)
		}
	}
}

// Invalidate evicts one key.
func (c *Cache) Invalidate(key object.TypedKey) {
	td, ok := c.policy(key.Type)
	if !ok {
		return
	}
	switch td.Cache.Policy {
	case schema.CachePermanent:
		c.mu.Lock()
		delete(c.permanent, key)
		c.mu.Unlock()
	case schema.CacheBounded:
		c.lru(td).Remove(key.Key)
	}
	mon.Event("cache_invalidate", monkit.NewSeriesTag("type", td.Name))
}

// InvalidationKeys returns the cluster keys naming every entry o occupies.
func (c *Cache) InvalidationKeys(o *object.Object) []string {
	td, err := c.cat.Describe(o.Type)
	if err != nil {
		return nil
	}
	keys := object.KeysFor(td, o)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = object.TypedKey{Type: o.Type, Key: k}.String()
	}
	return out
}

// InvalidateType evicts every entry of typ.
func (c *Cache) InvalidateType(typ schema.TypeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.permanent {
		if k.Type == typ {
			delete(c.permanent, k)
		}
	}
	if l, ok := c.bounded[typ]; ok {
		l.Purge()
	}
}

// Clear evicts everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permanent = make(map[object.TypedKey]*object.Object)
	for _, l := range c.bounded {
		l.Purge()
	}
}

// Len returns the number of cached entries across all types.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.permanent)
	for _, l := range c.bounded {
		n += l.Len()
	}
	return n
}

// HandleInvalidation applies keys received from the cluster. It understands
// "obj:<type>:<key>", "obj:<type>:*" and "*"; anything else is ignored.
func (c *Cache) HandleInvalidation(keys []string) {
	for _, s := range keys {
		if s == "*" {
			c.Clear()
			continue
		}
		k, ok := object.ParseTypedKey(s)
		if !ok {
			continue
		}
		if k.Key == "*" {
			c.InvalidateType(k.Type)
			continue
		}
		c.Invalidate(k)
	}
}

// TypeWildcard returns the cluster key that evicts every entry of typ.
func TypeWildcard(typ schema.TypeID) string {
	return object.TypedKey{Type: typ, Key: "*"}.String()
}
