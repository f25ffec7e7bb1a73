// Package schema provides the Schema Catalog: typed descriptors for object
// types, their fields and the link types that connect them.
//
// The catalog is the metadata that drives every other part of strata. Object
// shapes are data, not compiled structs, so the compiler, hydrator, validator
// and cache all consult the catalog to decide how a value is stored, decoded
// and cached.
//
// # Lifecycle
//
// A catalog is assembled once at startup, either with a Builder or from a YAML
// bootstrap document, and then frozen:
//
//	cat, err := schema.LoadFile("catalog.yaml")
//	td, err := cat.Describe(invoiceID)
//
// After Build returns, the catalog is read-only and safe for concurrent use
// without locking. Lookups by id and by (schema, table) are O(1).
//
// # Field Types
//
// FieldType is a closed enumeration. Every switch over it in this module is
// exhaustive, and Value is a sealed interface whose implementations live only
// in this package. Adding a field type therefore means touching every switch,
// which is the point.
//
// # Errors
//
// Referencing a type, field or link that is not in the catalog returns an error
// wrapping ErrNotFound. Callers treat it as fatal for the operation.
package schema

import (
	"fmt"
	"strings"
)

// TypeID identifies an object type in the catalog.
type TypeID int64

// TypeAll is the wildcard type id used by hook registration.
const TypeAll TypeID = -1

// ReservedPrefix is the column prefix reserved for repo metadata columns.
const ReservedPrefix = "repo_"

// UniqueLevel scopes a unique field constraint.
type UniqueLevel int

const (
	// UniqueTable requires the value to be unique among current rows of the type.
	UniqueTable UniqueLevel = iota
	// UniqueParent requires uniqueness only among siblings with the same parent.
	UniqueParent
)

func (l UniqueLevel) String() string {
	if l == UniqueParent {
		return "parent"
	}
	return "table"
}

// MarshalText implements encoding.TextMarshaler.
func (l UniqueLevel) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *UniqueLevel) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "table":
		*l = UniqueTable
	case "parent":
		*l = UniqueParent
	default:
		return fmt.Errorf("unknown unique level %q", string(b))
	}
	return nil
}

// FieldDescriptor describes one field of an object type.
// Owned by exactly one TypeDescriptor and never mutated once the catalog is built.
type FieldDescriptor struct {
	Name        string      `json:"name"`
	Type        FieldType   `json:"type"`
	Size        int         `json:"size,omitempty"`
	Scale       int         `json:"scale,omitempty"`
	Nullable    bool        `json:"nullable,omitempty"`
	Unique      bool        `json:"unique,omitempty"`
	UniqueLevel UniqueLevel `json:"uniqueLevel,omitempty"`
	PrimaryKey  bool        `json:"primaryKey,omitempty"`
	IndexName   string      `json:"indexName,omitempty"`
	CodeList    string      `json:"codeList,omitempty"`
	Label       bool        `json:"label,omitempty"`
}

// ConfigRef relates an implementation type to the config type that governs it.
// Field holds the config row's unique value.
type ConfigRef struct {
	Type   string `json:"type"`
	Field  string `json:"field"`
	TypeID TypeID `json:"-"`
}

// Delegation marks a type as participating in delegated authority. Link names
// the link type connecting objects of this type to the identity type.
type Delegation struct {
	Link string `json:"link"`
}

// TypeDescriptor (a DBT) describes an object type's physical table and metadata.
type TypeDescriptor struct {
	ID     TypeID            `json:"id"`
	Name   string            `json:"name"`
	Schema string            `json:"schema,omitempty"`
	Table  string            `json:"table"`
	Fields []FieldDescriptor `json:"fields"`
	Cache  CachePolicy       `json:"cache,omitempty"`

	// ConfigTable enables per-row authorization on UniqueColumn.
	ConfigTable  bool   `json:"configTable,omitempty"`
	UniqueColumn string `json:"uniqueColumn,omitempty"`

	ConfigRef  *ConfigRef  `json:"configRef,omitempty"`
	Delegation *Delegation `json:"delegation,omitempty"`

	fieldIndex map[string]int
}

// Field returns the named field descriptor.
func (t *TypeDescriptor) Field(name string) (FieldDescriptor, bool) {
	if t.fieldIndex != nil {
		i, ok := t.fieldIndex[name]
		if !ok {
			return FieldDescriptor{}, false
		}
		return t.Fields[i], true
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// MustField returns the named field or an error wrapping ErrNotFound.
func (t *TypeDescriptor) MustField(name string) (FieldDescriptor, error) {
	f, ok := t.Field(name)
	if !ok {
		return FieldDescriptor{}, fmt.Errorf("%w: field %s.%s", ErrNotFound, t.Name, name)
	}
	return f, nil
}

// QualifiedTable returns schema.table, or table when no schema is set.
func (t *TypeDescriptor) QualifiedTable() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// HasGeometry reports whether any field is a geometry column.
func (t *TypeDescriptor) HasGeometry() bool {
	for _, f := range t.Fields {
		if f.Type == FieldGeometry {
			return true
		}
	}
	return false
}

// LinkType describes a link table connecting two object types by logical id.
type LinkType struct {
	Name       string `json:"name"`
	From       TypeID `json:"-"`
	To         TypeID `json:"-"`
	Schema     string `json:"schema,omitempty"`
	Table      string `json:"table"`
	FromColumn string `json:"fromColumn"`
	ToColumn   string `json:"toColumn"`
}

// QualifiedTable returns schema.table, or table when no schema is set.
func (l *LinkType) QualifiedTable() string {
	if l.Schema == "" {
		return l.Table
	}
	return l.Schema + "." + l.Table
}
