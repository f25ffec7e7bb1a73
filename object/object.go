// Package object defines the generic object: a typed bag of field values plus
// the versioning metadata every repo row carries.
package object

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pthm/strata/schema"
)

// MaxSentinel is the DeletedAt value of a current (non-closed) version.
var MaxSentinel = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Status values stored in repo_status.
const (
	StatusActive   = 0
	StatusInactive = 1
)

// Object is one version of a logical object.
//
// (LogicalID, DeletedAt) is the temporal version key. PhysicalKey is unique per
// row and never reused. Type is fixed at creation and determines which Values
// keys are legal.
type Object struct {
	PhysicalKey int64
	LogicalID   int64
	ParentID    int64
	Type        schema.TypeID
	InsertedAt  time.Time
	DeletedAt   time.Time
	Status      int
	OwnerID     int64
	Values      map[string]schema.Value
}

// New returns an unsaved object of the given type.
func New(typeID schema.TypeID) *Object {
	return &Object{
		Type:      typeID,
		DeletedAt: MaxSentinel,
		Values:    make(map[string]schema.Value),
	}
}

// IsNew reports whether the object has never been saved.
func (o *Object) IsNew() bool { return o.LogicalID == 0 }

// IsCurrent reports whether this is the live version.
func (o *Object) IsCurrent() bool { return o.DeletedAt.Equal(MaxSentinel) }

// Get returns the named value, or schema.Null when absent.
func (o *Object) Get(field string) schema.Value {
	if v, ok := o.Values[field]; ok && v != nil {
		return v
	}
	return schema.Null{}
}

// Set assigns a field value. Type checking happens on save.
func (o *Object) Set(field string, v schema.Value) *Object {
	if o.Values == nil {
		o.Values = make(map[string]schema.Value)
	}
	o.Values[field] = v
	return o
}

// Clone returns a deep copy. Cached objects are handed out as clones so that
// callers can never mutate shared state.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Values = make(map[string]schema.Value, len(o.Values))
	for k, v := range o.Values {
		cp.Values[k] = schema.CloneValue(v)
	}
	return &cp
}

// Fields returns the sorted names of fields that carry a value.
func (o *Object) Fields() []string {
	return slices.Sorted(maps.Keys(o.Values))
}

func (o *Object) String() string {
	return fmt.Sprintf("object(type=%d id=%d pk=%d)", o.Type, o.LogicalID, o.PhysicalKey)
}

// Row is one result row of a multi-return query, indexed by return node
// position.
type Row []*Object

// Key is a cache key within one type: a logical id or a unique secondary key.
type Key string

// IDKey returns the cache key for a logical id.
func IDKey(id int64) Key { return Key(fmt.Sprintf("id:%d", id)) }

// UniqueKey returns the cache key for a unique field value.
func UniqueKey(field string, v schema.Value) Key {
	return Key("u:" + field + "=" + v.String())
}

// TypedKey scopes a key to a type. It is the form published for cluster-wide
// invalidation.
type TypedKey struct {
	Type schema.TypeID
	Key  Key
}

func (k TypedKey) String() string { return fmt.Sprintf("obj:%d:%s", k.Type, k.Key) }

// ParseTypedKey parses the String form of a TypedKey.
func ParseTypedKey(s string) (TypedKey, bool) {
	rest, ok := strings.CutPrefix(s, "obj:")
	if !ok {
		return TypedKey{}, false
	}
	typ, key, ok := strings.Cut(rest, ":")
	if !ok || key == "" {
		return TypedKey{}, false
	}
	id, err := strconv.ParseInt(typ, 10, 64)
	if err != nil {
		return TypedKey{}, false
	}
	return TypedKey{Type: schema.TypeID(id), Key: Key(key)}, true
}

// KeysFor returns every cache key under which o may be stored: its logical id
// plus one entry per unique field holding a value.
func KeysFor(td *schema.TypeDescriptor, o *Object) []Key {
	keys := []Key{IDKey(o.LogicalID)}
	for _, f := range td.Fields {
		if !f.Unique || f.UniqueLevel != schema.UniqueTable {
			continue
		}
		if v := o.Get(f.Name); !schema.IsNull(v) {
			keys = append(keys, UniqueKey(f.Name, v))
		}
	}
	return keys
}
