package migrator_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/pkg/migrator"
	"github.com/pthm/strata/test/testutil"
)

var sqlite = dialect.MustGet(dialect.SQLite)

func TestMigrateCreatesTables(t *testing.T) {
	ctx := context.Background()
	db := testutil.EmptySQLite(t)
	m := migrator.NewMigrator(db, testutil.Catalog(t), sqlite)

	status, err := m.GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.UpToDate)
	assert.Nil(t, status.LastMigration)
	assert.Contains(t, status.Missing, "customer")
	assert.Contains(t, status.Missing, "invoice_identity")
	assert.Contains(t, status.Missing, "strata_sequence")

	skipped, err := m.Migrate(ctx, migrator.MigrateOptions{})
	require.NoError(t, err)
	assert.False(t, skipped)

	status, err = m.GetStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.Missing)
	assert.True(t, status.UpToDate)
	require.NotNil(t, status.LastMigration)
	assert.Equal(t, migrator.CodegenVersion, status.LastMigration.CodegenVersion)
	assert.False(t, status.LastMigration.AppliedAt.IsZero())

	for _, seq := range migrator.Sequences {
		var v int64
		err := db.QueryRowContext(ctx, "SELECT seq_value FROM strata_sequence WHERE seq_name = ?", seq).Scan(&v)
		require.NoError(t, err, seq)
		assert.Zero(t, v, seq)
	}

	// Every repo table carries the meta columns.
	_, err = db.ExecContext(ctx, `INSERT INTO customer
		(repo_pk, repo_id, repo_inserted, repo_deleted, repo_parent, repo_type, repo_status, repo_owner, code, name)
		VALUES (1, 1, '2024-01-01 00:00:00', '9999-12-31 23:59:59', 0, 1, 0, 0, 'C1', NULL)`)
	require.NoError(t, err)
}

func TestMigrateSkipsUnchangedCatalog(t *testing.T) {
	ctx := context.Background()
	db := testutil.EmptySQLite(t)
	m := migrator.NewMigrator(db, testutil.Catalog(t), sqlite)

	_, err := m.Migrate(ctx, migrator.MigrateOptions{})
	require.NoError(t, err)

	skipped, err := m.Migrate(ctx, migrator.MigrateOptions{})
	require.NoError(t, err)
	assert.True(t, skipped)

	// Force re-runs without duplicating sequences.
	skipped, err = m.Migrate(ctx, migrator.MigrateOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, skipped)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM strata_sequence").Scan(&n))
	assert.Equal(t, len(migrator.Sequences), n)
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM strata_migrations").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestMigrateKeepsExistingRows(t *testing.T) {
	ctx := context.Background()
	db := testutil.EmptySQLite(t)
	m := migrator.NewMigrator(db, testutil.Catalog(t), sqlite)
	_, err := m.Migrate(ctx, migrator.MigrateOptions{})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "UPDATE strata_sequence SET seq_value = 41 WHERE seq_name = 'repo_pk'")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "DROP TABLE note")
	require.NoError(t, err)

	_, err = m.Migrate(ctx, migrator.MigrateOptions{Force: true})
	require.NoError(t, err)

	var v int64
	require.NoError(t, db.QueryRowContext(ctx, "SELECT seq_value FROM strata_sequence WHERE seq_name = 'repo_pk'").Scan(&v))
	assert.Equal(t, int64(41), v)

	status, err := m.GetStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.Missing)
}

func TestMigrateDryRun(t *testing.T) {
	ctx := context.Background()
	db := testutil.EmptySQLite(t)

	tests := []struct {
		name string
		d    dialect.Dialect
		want []string
	}{
		{
			name: "sqlite",
			d:    sqlite,
			want: []string{"CREATE TABLE customer (", "CREATE INDEX ix_customer_version ON customer (repo_id, repo_deleted)"},
		},
		{
			name: "postgres",
			d:    dialect.MustGet(dialect.Postgres),
			want: []string{"CREATE TABLE invoice (", "PRIMARY KEY (invoice_id, identity_id)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			m := migrator.NewMigrator(db, testutil.Catalog(t), tt.d)
			skipped, err := m.Migrate(ctx, migrator.MigrateOptions{DryRun: &buf})
			require.NoError(t, err)
			assert.False(t, skipped)

			out := buf.String()
			assert.Contains(t, out, "-- Dialect: "+string(tt.d.Name()))
			assert.Contains(t, out, "-- system tables")
			assert.Contains(t, out, "-- repo tables")
			assert.Contains(t, out, "-- link tables")
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			checksum, err := m.Checksum()
			require.NoError(t, err)
			assert.Contains(t, out, checksum)
		})
	}

	// Nothing was applied.
	status, err := migrator.NewMigrator(db, testutil.Catalog(t), sqlite).GetStatus(ctx)
	require.NoError(t, err)
	assert.Contains(t, status.Missing, "strata_migrations")
}

func TestMigrateWithOptionsFromFile(t *testing.T) {
	ctx := context.Background()
	db := testutil.EmptySQLite(t)
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, testutil.CatalogYAML(), 0o644))

	require.NoError(t, migrator.Migrate(ctx, db, sqlite, path))
	skipped, err := migrator.MigrateWithOptions(ctx, db, sqlite, path, migrator.MigrateOptions{})
	require.NoError(t, err)
	assert.True(t, skipped)

	_, err = migrator.MigrateWithOptions(ctx, db, sqlite, filepath.Join(t.TempDir(), "missing.yaml"), migrator.MigrateOptions{})
	assert.Error(t, err)
}

func TestMigrateFromStringRejectsBadCatalog(t *testing.T) {
	db := testutil.EmptySQLite(t)
	err := migrator.MigrateFromString(context.Background(), db, sqlite, "types: [{id: 0}]")
	require.Error(t, err)
	if !strings.Contains(err.Error(), "loading catalog") {
		t.Errorf("error = %v, want loading catalog prefix", err)
	}
}

func TestRepoTablesLayout(t *testing.T) {
	tables := migrator.RepoTables(testutil.Catalog(t), sqlite)
	names := make([]string, len(tables))
	for i, tbl := range tables {
		names[i] = tbl.Name
	}
	assert.Equal(t, []string{"customer", "invoice", "identity", "invoice_line", "note", "invoice_identity"}, names)

	line := tables[3]
	assert.Contains(t, line.Create, "sku ")
	assert.Contains(t, line.Create, "PRIMARY KEY (repo_pk)")
	assert.NotContains(t, line.Create, "UNIQUE")
}

func TestRepoTablesQuoteReservedNames(t *testing.T) {
	tests := []struct {
		dialect dialect.Name
		want    []string
		table   string
	}{
		{dialect: dialect.Oracle, table: "invoice", want: []string{`"number" VARCHAR2(20)`, `CREATE INDEX ix_invoice_number ON invoice ("number")`}},
		{dialect: dialect.MySQL, table: "invoice", want: []string{"`lines` "}},
		{dialect: dialect.SQLServer, table: "[identity]", want: []string{"CREATE TABLE [identity] (", "ON [identity] (login)"}},
		{dialect: dialect.Postgres, table: "invoice", want: []string{"    number ", "    lines "}},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			var found bool
			for _, tbl := range migrator.RepoTables(testutil.Catalog(t), dialect.MustGet(tt.dialect)) {
				if tbl.Name != tt.table {
					continue
				}
				found = true
				ddl := strings.Join(tbl.Statements(), "\n")
				for _, w := range tt.want {
					if !strings.Contains(ddl, w) {
						t.Errorf("DDL of %s missing %q:\n%s", tt.table, w, ddl)
					}
				}
			}
			require.True(t, found, "table %s not generated", tt.table)
		})
	}
}
