package doctor_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/acl"
	"github.com/pthm/strata/internal/doctor"
	"github.com/pthm/strata/test/testutil"
)

var sqlite = dialect.MustGet(dialect.SQLite)

func catalogFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, testutil.CatalogYAML(), 0o644))
	return path
}

func find(t *testing.T, r *doctor.Report, category, name string) doctor.CheckResult {
	t.Helper()
	for _, c := range r.Checks {
		if c.Category == category && c.Name == name {
			return c
		}
	}
	t.Fatalf("no check %s/%s in report", category, name)
	return doctor.CheckResult{}
}

func TestDoctorHealthyDatabase(t *testing.T) {
	db := testutil.SQLite(t)
	testutil.NewFixtures(t, db, sqlite).Grant("staff", testutil.Invoice, "", acl.Modify)

	report, err := doctor.New(db, sqlite, catalogFile(t)).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.HasErrors())
	assert.Equal(t, doctor.StatusPass, find(t, report, "Catalog", "valid").Status)
	assert.Equal(t, doctor.StatusPass, find(t, report, "Migration State", "tables").Status)
	assert.Equal(t, doctor.StatusPass, find(t, report, "Migration State", "catalog_sync").Status)
	assert.Equal(t, doctor.StatusPass, find(t, report, "Sequences", "repo_pk").Status)
	assert.Equal(t, doctor.StatusPass, find(t, report, "Data Health", "versions").Status)
	assert.Equal(t, doctor.StatusPass, find(t, report, "Data Health", "acl").Status)
}

func TestDoctorEmptyDatabase(t *testing.T) {
	db := testutil.EmptySQLite(t)

	report, err := doctor.New(db, sqlite, catalogFile(t)).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.HasErrors())
	tables := find(t, report, "Migration State", "tables")
	assert.Equal(t, doctor.StatusFail, tables.Status)
	assert.Contains(t, tables.Details, "strata_sequence")
	assert.Equal(t, doctor.StatusWarn, find(t, report, "Migration State", "migrated").Status)

	var buf bytes.Buffer
	report.Print(&buf, true)
	assert.Contains(t, buf.String(), "Fix: Run 'strata migrate' to create them")
	assert.Contains(t, buf.String(), "Summary:")
}

func TestDoctorInvalidCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types: [{id: 0}]"), 0o644))

	report, err := doctor.New(testutil.EmptySQLite(t), sqlite, path).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, doctor.StatusFail, report.Checks[0].Status)
}

func TestDoctorDataProblems(t *testing.T) {
	ctx := context.Background()
	db := testutil.SQLite(t)

	// Two current versions of the same logical id, with keys the sequence
	// never handed out.
	for pk := 1; pk <= 2; pk++ {
		_, err := db.ExecContext(ctx, `INSERT INTO note
			(repo_pk, repo_id, repo_inserted, repo_deleted, repo_parent, repo_type, repo_status, repo_owner, title)
			VALUES (?, 7, ?, ?, 0, 5, 0, 0, NULL)`, pk, "2024-01-01 00:00:00", "9999-12-31 23:59:59+00:00")
		require.NoError(t, err)
	}
	testutil.NewFixtures(t, db, sqlite).Grant("staff", 42, "", acl.Read)

	report, err := doctor.New(db, sqlite, catalogFile(t)).Run(ctx)
	require.NoError(t, err)

	pk := find(t, report, "Sequences", "repo_pk")
	assert.Equal(t, doctor.StatusFail, pk.Status)
	assert.Contains(t, pk.Message, "in note")
	assert.Equal(t, doctor.StatusFail, find(t, report, "Sequences", "repo_id").Status)

	versions := find(t, report, "Data Health", "versions")
	assert.Equal(t, doctor.StatusFail, versions.Status)
	assert.Equal(t, "NOTE: 1 ids", versions.Details)

	entries := find(t, report, "Data Health", "acl")
	assert.Equal(t, doctor.StatusWarn, entries.Status)
	assert.Contains(t, entries.Details, "42")
}

func TestDoctorCluster(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	db := testutil.SQLite(t)

	report, err := doctor.New(db, sqlite, catalogFile(t), doctor.WithRedis(client, "strata:")).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doctor.StatusPass, find(t, report, "Cluster", "redis").Status)
	assert.Equal(t, doctor.StatusWarn, find(t, report, "Cluster", "nodes").Status)

	require.NoError(t, mr.Set("strata:node:n1", "2024-01-01T00:00:00Z"))
	require.NoError(t, mr.Set("strata:leader", "n1"))
	report, err = doctor.New(db, sqlite, catalogFile(t), doctor.WithRedis(client, "strata:")).Run(context.Background())
	require.NoError(t, err)
	nodes := find(t, report, "Cluster", "nodes")
	assert.Equal(t, doctor.StatusPass, nodes.Status)
	assert.Equal(t, "1 live nodes, coordinator n1", nodes.Message)

	mr.Close()
	report, err = doctor.New(db, sqlite, catalogFile(t), doctor.WithRedis(client, "strata:")).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doctor.StatusFail, find(t, report, "Cluster", "redis").Status)
}
