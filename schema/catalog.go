package schema

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

type tableKey struct {
	schema string
	table  string
}

type linkKey struct {
	name     string
	from, to TypeID
}

// Catalog is the frozen set of type and link descriptors.
// It is safe for concurrent use.
type Catalog struct {
	byID     map[TypeID]*TypeDescriptor
	byTable  map[tableKey]TypeID
	byName   map[string]TypeID
	links    map[linkKey]*LinkType
	linkList []*LinkType
	identity TypeID
}

// Describe returns the descriptor for id. The returned descriptor must not be
// modified.
func (c *Catalog) Describe(id TypeID) (*TypeDescriptor, error) {
	td, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: type id %d", ErrNotFound, id)
	}
	return td, nil
}

// FieldsOf returns a copy of the field list for id.
func (c *Catalog) FieldsOf(id TypeID) ([]FieldDescriptor, error) {
	td, err := c.Describe(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(td.Fields), nil
}

// TypeIDByName resolves a (schema, table) pair. Table names are matched
// case-insensitively.
func (c *Catalog) TypeIDByName(schemaName, table string) (TypeID, error) {
	id, ok := c.byTable[tableKey{strings.ToLower(schemaName), strings.ToLower(table)}]
	if !ok {
		return 0, fmt.Errorf("%w: table %s.%s", ErrNotFound, schemaName, table)
	}
	return id, nil
}

// TypeByName resolves a type by its logical name.
func (c *Catalog) TypeByName(name string) (*TypeDescriptor, error) {
	id, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: type %q", ErrNotFound, name)
	}
	return c.byID[id], nil
}

// LinkType returns the link type connecting from and to under name.
func (c *Catalog) LinkType(name string, from, to TypeID) (*LinkType, error) {
	lt, ok := c.links[linkKey{name, from, to}]
	if !ok {
		return nil, fmt.Errorf("%w: link %s(%d,%d)", ErrNotFound, name, from, to)
	}
	return lt, nil
}

// LinkByName returns the first link type registered under name.
func (c *Catalog) LinkByName(name string) (*LinkType, error) {
	for _, lt := range c.linkList {
		if lt.Name == name {
			return lt, nil
		}
	}
	return nil, fmt.Errorf("%w: link %s", ErrNotFound, name)
}

// IdentityType returns the type representing principals' identities, or 0
// when delegation is not configured.
func (c *Catalog) IdentityType() TypeID { return c.identity }

// Types returns all descriptors ordered by id.
func (c *Catalog) Types() []*TypeDescriptor {
	ids := slices.Sorted(maps.Keys(c.byID))
	out := make([]*TypeDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.byID[id])
	}
	return out
}

// Links returns all link types in registration order.
func (c *Catalog) Links() []*LinkType { return slices.Clone(c.linkList) }

// Builder assembles a Catalog.
type Builder struct {
	types    []TypeDescriptor
	links    []LinkSpec
	identity string
}

// LinkSpec declares a link type by type names.
type LinkSpec struct {
	Name       string `json:"name"`
	From       string `json:"from"`
	To         string `json:"to"`
	Schema     string `json:"schema,omitempty"`
	Table      string `json:"table"`
	FromColumn string `json:"fromColumn"`
	ToColumn   string `json:"toColumn"`
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Type adds a type descriptor.
func (b *Builder) Type(td TypeDescriptor) *Builder {
	b.types = append(b.types, td)
	return b
}

// Link adds a link declaration.
func (b *Builder) Link(ls LinkSpec) *Builder {
	b.links = append(b.links, ls)
	return b
}

// Identity names the type whose objects represent principal identities.
func (b *Builder) Identity(typeName string) *Builder {
	b.identity = typeName
	return b
}

// Build validates the declarations and freezes them into a Catalog.
func (b *Builder) Build() (*Catalog, error) {
	if err := Validate(b.types, b.links, b.identity); err != nil {
		return nil, err
	}

	c := &Catalog{
		byID:    make(map[TypeID]*TypeDescriptor, len(b.types)),
		byTable: make(map[tableKey]TypeID, len(b.types)),
		byName:  make(map[string]TypeID, len(b.types)),
		links:   make(map[linkKey]*LinkType, len(b.links)),
	}
	for i := range b.types {
		td := b.types[i]
		td.Fields = slices.Clone(td.Fields)
		td.fieldIndex = make(map[string]int, len(td.Fields))
		for j, f := range td.Fields {
			td.fieldIndex[f.Name] = j
		}
		if td.ConfigRef != nil {
			ref := *td.ConfigRef
			td.ConfigRef = &ref
		}
		if td.Delegation != nil {
			d := *td.Delegation
			td.Delegation = &d
		}
		c.byID[td.ID] = &td
		c.byTable[tableKey{strings.ToLower(td.Schema), strings.ToLower(td.Table)}] = td.ID
		c.byName[td.Name] = td.ID
	}
	for _, td := range c.byID {
		if td.ConfigRef != nil {
			td.ConfigRef.TypeID = c.byName[td.ConfigRef.Type]
		}
	}
	for _, ls := range b.links {
		lt := &LinkType{
			Name:       ls.Name,
			From:       c.byName[ls.From],
			To:         c.byName[ls.To],
			Schema:     ls.Schema,
			Table:      ls.Table,
			FromColumn: ls.FromColumn,
			ToColumn:   ls.ToColumn,
		}
		c.links[linkKey{lt.Name, lt.From, lt.To}] = lt
		c.linkList = append(c.linkList, lt)
	}
	if b.identity != "" {
		c.identity = c.byName[b.identity]
	}
	return c, nil
}
