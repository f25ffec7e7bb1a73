package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/acl"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/schema"
)

// Fixtures inserts groups, memberships and permission entries into the
// system tables of a migrated database.
type Fixtures struct {
	tb  testing.TB
	db  *sql.DB
	d   dialect.Dialect
	ctx context.Context
}

// NewFixtures creates a Fixtures instance for db.
func NewFixtures(tb testing.TB, db *sql.DB, d dialect.Dialect) *Fixtures {
	return &Fixtures{tb: tb, db: db, d: d, ctx: context.Background()}
}

func (f *Fixtures) exec(table string, cols []string, args ...any) {
	f.tb.Helper()
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = f.d.Placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(ph, ", "))
	_, err := f.db.ExecContext(f.ctx, query, args...)
	require.NoError(f.tb, err, "insert into %s", table)
}

// Group inserts a group.
func (f *Fixtures) Group(id, name string, security acl.SecurityType) *Fixtures {
	f.tb.Helper()
	f.exec(sqlgen.TableGroup, []string{"group_id", "name", "security_type"}, id, name, int64(security))
	return f
}

// Member adds principalID to groupID.
func (f *Fixtures) Member(principalID, groupID string, isDefault bool) *Fixtures {
	f.tb.Helper()
	f.exec(sqlgen.TableGroupMember, []string{"group_id", "principal_id", "is_default"},
		groupID, principalID, f.d.BoolValue(isDefault))
	return f
}

// Grant grants level on typ to subject, for the whole table when uid is
// empty.
func (f *Fixtures) Grant(subject string, typ schema.TypeID, uid string, level acl.Level) *Fixtures {
	f.tb.Helper()
	var cfg any
	if uid != "" {
		cfg = uid
	}
	f.exec(sqlgen.TableACL, []string{"subject_id", "type_id", "config_uid", "access_level"},
		subject, int64(typ), cfg, int64(level))
	return f
}

// Link inserts a row into a link table.
func (f *Fixtures) Link(lt *schema.LinkType, from, to int64) *Fixtures {
	f.tb.Helper()
	f.exec(lt.QualifiedTable(), []string{lt.FromColumn, lt.ToColumn}, from, to)
	return f
}
