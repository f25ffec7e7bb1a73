// Package acl resolves a principal's permissions and rewrites queries so that
// only authorized rows can be returned.
//
// # Levels
//
// Access levels are ordered None < Read < Write < Execute < Modify < Full. An
// entry grants its level and everything below it.
//
// # Permission Map
//
// A principal's permissions are the union of the entries granted to the
// principal itself and to each of its groups, keyed by (type, config uid) and
// keeping the highest level. A nil config uid grants the whole table.
//
// # Filtering
//
// Authorize walks every node of a query tree and adds the restriction that
// node needs. System and service principals are never filtered. A node
// without any applicable rule fails with an AuthorizationDenied error; the
// filter never turns a missing grant into an empty result.
package acl

import (
	"fmt"
	"strings"
)

// Level is an access level.
type Level int

const (
	None Level = iota
	Read
	Write
	Execute
	Modify
	Full
)

var levelNames = [...]string{"none", "read", "write", "execute", "modify", "full"}

func (l Level) String() string {
	if l >= None && l <= Full {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return None, fmt.Errorf("unknown access level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// SecurityType is the security mode of a group.
type SecurityType int

const (
	// Standard groups grant their entries as-is.
	Standard SecurityType = iota
	// PowerOfAttorney groups restrict delegated types to objects linked to
	// the member's identity.
	PowerOfAttorney
)

func (s SecurityType) String() string {
	if s == PowerOfAttorney {
		return "power_of_attorney"
	}
	return "standard"
}

// PrincipalKind distinguishes interactive users from trusted callers.
type PrincipalKind int

const (
	KindUser PrincipalKind = iota
	KindSystem
	KindService
)

func (k PrincipalKind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindService:
		return "service"
	}
	return "user"
}
