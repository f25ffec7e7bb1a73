package acl

import (
	"context"
	"database/sql"
	"slices"
	"sync"

	"github.com/zeebo/errs"

	"github.com/pthm/strata/internal/apperr"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/schema"
)

// Querier runs read queries. *sql.DB, *sql.Tx and *sql.Conn satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Source loads the groups and entries of a principal.
type Source interface {
	Load(ctx context.Context, q Querier, p Principal) (Grants, error)
}

// StaticSource is an in-memory Source. It is safe for concurrent use.
type StaticSource struct {
	mu       sync.RWMutex
	groups   map[string]Group
	members  map[string][]string
	defaults map[string]string
	entries  []Entry
}

// NewStaticSource returns an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		groups:   make(map[string]Group),
		members:  make(map[string][]string),
		defaults: make(map[string]string),
	}
}

// AddGroup declares a group.
func (s *StaticSource) AddGroup(g Group) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	return s
}

// AddMember adds principalID to groupID. The first group added as default
// becomes the principal's default group.
func (s *StaticSource) AddMember(principalID, groupID string, isDefault bool) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[principalID] = append(s.members[principalID], groupID)
	if _, ok := s.defaults[principalID]; isDefault && !ok {
		s.defaults[principalID] = groupID
	}
	return s
}

// Grant adds a permission entry.
func (s *StaticSource) Grant(e Entry) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s
}

func (s *StaticSource) Load(_ context.Context, _ Querier, p Principal) (Grants, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out Grants
	subjects := []string{p.ID}
	for _, id := range s.members[p.ID] {
		g, ok := s.groups[id]
		if !ok {
			continue
		}
		out.Groups = append(out.Groups, g)
		subjects = append(subjects, id)
		if s.defaults[p.ID] == id {
			out.Default = &g
		}
	}
	for _, e := range s.entries {
		if slices.Contains(subjects, e.Subject) {
			out.Entries = append(out.Entries, e)
		}
	}
	return out, nil
}

// SQLSource reads grants from the strata_group, strata_group_member and
// strata_acl tables.
type SQLSource struct {
	c *sqlgen.Compiler
}

// NewSQLSource returns a Source reading the system tables through c.
func NewSQLSource(c *sqlgen.Compiler) *SQLSource {
	return &SQLSource{c: c}
}

func (s *SQLSource) Load(ctx context.Context, q Querier, p Principal) (Grants, error) {
	var out Grants
	groups, err := s.groups(ctx, q, p.ID)
	if err != nil {
		return out, err
	}
	subjects := []string{p.ID}
	for _, m := range groups {
		out.Groups = append(out.Groups, m.Group)
		subjects = append(subjects, m.ID)
		if m.isDefault && out.Default == nil {
			g := m.Group
			out.Default = &g
		}
	}
	out.Entries, err = s.entries(ctx, q, subjects)
	return out, err
}

type membership struct {
	Group
	isDefault bool
}

func (s *SQLSource) groups(ctx context.Context, q Querier, principalID string) (_ []membership, err error) {
	stmt := s.c.GroupMemberships(principalID)
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, sqlErr(stmt.SQL, err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var out []membership
	for rows.Next() {
		var (
			m        membership
			name     sql.NullString
			security int64
			isDef    any
		)
		if err := rows.Scan(&m.ID, &name, &security, &isDef); err != nil {
			return nil, sqlErr(stmt.SQL, err)
		}
		m.Name = name.String
		m.Security = SecurityType(security)
		if isDef != nil {
			if m.isDefault, err = s.c.Dialect().DecodeBool(isDef); err != nil {
				return nil, apperr.Wrap(apperr.CodeDecodeFailure, err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlErr(stmt.SQL, err)
	}
	return out, nil
}

func (s *SQLSource) entries(ctx context.Context, q Querier, subjects []string) (_ []Entry, err error) {
	stmt := s.c.ACLEntries(subjects)
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, sqlErr(stmt.SQL, err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			typ   int64
			uid   sql.NullString
			level int64
		)
		if err := rows.Scan(&e.Subject, &typ, &uid, &level); err != nil {
			return nil, sqlErr(stmt.SQL, err)
		}
		e.Type = schema.TypeID(typ)
		if uid.Valid {
			e.ConfigUID = &uid.String
		}
		e.Level = Level(level)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlErr(stmt.SQL, err)
	}
	return out, nil
}

func sqlErr(query string, err error) error {
	return apperr.Wrap(apperr.CodeSQLExecution, err).WithQuery(query)
}
