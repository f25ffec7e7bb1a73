package schema

import (
	"fmt"
	"strings"
	"time"
)

// FieldType is the closed set of field value types.
type FieldType int

const (
	FieldText FieldType = iota + 1
	FieldNVarchar
	FieldNumeric
	FieldBoolean
	FieldTimestamp
	FieldGeometry
	FieldBlob
	FieldMultiText
)

var fieldTypeNames = map[FieldType]string{
	FieldText:      "text",
	FieldNVarchar:  "nvarchar",
	FieldNumeric:   "numeric",
	FieldBoolean:   "boolean",
	FieldTimestamp: "timestamp",
	FieldGeometry:  "geometry",
	FieldBlob:      "blob",
	FieldMultiText: "multitext",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// Valid reports whether t is a member of the enumeration.
func (t FieldType) Valid() bool {
	_, ok := fieldTypeNames[t]
	return ok
}

// ParseFieldType parses the lower-case name of a field type.
func ParseFieldType(s string) (FieldType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range fieldTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid field type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(b []byte) error {
	v, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// CacheKind selects a per-type cache policy.
type CacheKind int

const (
	CacheNone CacheKind = iota
	CachePermanent
	CacheBounded
)

func (k CacheKind) String() string {
	switch k {
	case CachePermanent:
		return "permanent"
	case CacheBounded:
		return "bounded"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k CacheKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *CacheKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "none":
		*k = CacheNone
	case "permanent":
		*k = CachePermanent
	case "bounded":
		*k = CacheBounded
	default:
		return fmt.Errorf("unknown cache policy %q", string(b))
	}
	return nil
}

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// CachePolicy is a type's cache configuration.
type CachePolicy struct {
	Policy   CacheKind `json:"policy,omitempty"`
	Capacity int       `json:"capacity,omitempty"`
	TTL      Duration  `json:"ttl,omitempty"`
}

// Enabled reports whether objects of the type are cached at all.
func (p CachePolicy) Enabled() bool { return p.Policy != CacheNone }
