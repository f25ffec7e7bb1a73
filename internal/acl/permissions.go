package acl

import (
	"slices"

	"golang.org/x/text/language"

	"github.com/pthm/strata/schema"
)

// Principal is the actor a query or write is performed for.
type Principal struct {
	ID string
	// IdentityID is the logical id of the principal's identity object, used
	// by delegation.
	IdentityID int64
	Kind       PrincipalKind
	Locale     language.Tag
}

// System is the principal used for internal work. It is never filtered.
var System = Principal{ID: "system", Kind: KindSystem}

// Bypass reports whether p skips authorization.
func (p Principal) Bypass() bool { return p.Kind == KindSystem || p.Kind == KindService }

// Entry grants Level on Type to Subject, a principal or group id. A nil
// ConfigUID grants the whole table; otherwise it names one config row by its
// unique column value.
type Entry struct {
	Subject   string
	Type      schema.TypeID
	ConfigUID *string
	Level     Level
}

// Group is a named set of principals.
type Group struct {
	ID       string
	Name     string
	Security SecurityType
}

// Grants is everything a Source knows about one principal.
type Grants struct {
	Groups  []Group
	Default *Group
	Entries []Entry
}

// Permissions is a principal's resolved permission map.
type Permissions struct {
	DefaultGroup *Group
	whole        map[schema.TypeID]Level
	rows         map[schema.TypeID]map[string]Level
}

// NewPermissions folds entries into a permission map, keeping the maximum
// level per (type, config uid).
func NewPermissions(defaultGroup *Group, entries []Entry) *Permissions {
	p := &Permissions{
		DefaultGroup: defaultGroup,
		whole:        make(map[schema.TypeID]Level),
		rows:         make(map[schema.TypeID]map[string]Level),
	}
	for _, e := range entries {
		if e.ConfigUID == nil {
			p.whole[e.Type] = max(p.whole[e.Type], e.Level)
			continue
		}
		m, ok := p.rows[e.Type]
		if !ok {
			m = make(map[string]Level)
			p.rows[e.Type] = m
		}
		m[*e.ConfigUID] = max(m[*e.ConfigUID], e.Level)
	}
	return p
}

// Whole returns the whole-table level on typ.
func (p *Permissions) Whole(typ schema.TypeID) Level {
	return p.whole[typ]
}

// Level returns the effective level on one config row of typ, or the
// whole-table level when configUID is nil.
func (p *Permissions) Level(typ schema.TypeID, configUID *string) Level {
	l := p.whole[typ]
	if configUID != nil {
		l = max(l, p.rows[typ][*configUID])
	}
	return l
}

// RowsAtLeast returns, sorted, the config uids of typ granted at least level.
func (p *Permissions) RowsAtLeast(typ schema.TypeID, level Level) []string {
	var out []string
	for uid, l := range p.rows[typ] {
		if l >= level {
			out = append(out, uid)
		}
	}
	slices.Sort(out)
	return out
}

// Delegated reports whether the principal's default group restricts
// delegated types.
func (p *Permissions) Delegated() bool {
	return p.DefaultGroup != nil && p.DefaultGroup.Security == PowerOfAttorney
}
