package migrator

import (
	"context"
	"fmt"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/schema"
)

// Migrate loads a catalog file and creates its tables in one operation.
// This is the recommended high-level API for most applications.
//
// The function is idempotent - safe to call on every application startup.
// Existing tables are left untouched and missing ones are created, together
// with the system tables and the key sequences, within a transaction when db
// supports BeginTx.
//
// Example usage on application startup:
//
//	if err := migrator.Migrate(ctx, db, dialect.MustGet(dialect.Postgres), "catalog.yaml"); err != nil {
//	    log.Fatalf("migration failed: %v", err)
//	}
//
// For embedded catalogs (no file I/O), use MigrateFromString.
// For fine-grained control (dry-run, force), use MigrateWithOptions.
func Migrate(ctx context.Context, db Execer, d dialect.Dialect, catalogPath string) error {
	_, err := MigrateWithOptions(ctx, db, d, catalogPath, MigrateOptions{})
	return err
}

// MigrateFromString loads catalog content and creates its tables.
// Useful for testing or when the catalog is embedded in the application binary.
//
//	//go:embed catalog.yaml
//	var embeddedCatalog string
//
//	err := migrator.MigrateFromString(ctx, db, d, embeddedCatalog)
func MigrateFromString(ctx context.Context, db Execer, d dialect.Dialect, content string) error {
	cat, err := schema.Load([]byte(content))
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	_, err = NewMigrator(db, cat, d).Migrate(ctx, MigrateOptions{})
	return err
}

// MigrateWithOptions performs migration with control over dry-run and skip
// behavior.
//
// Returns (skipped, error):
//   - skipped=true if the catalog and codegen version match the last
//     recorded migration (only when Force=false and DryRun=nil)
//   - error is non-nil if loading the catalog or applying the DDL failed
//
// Example: Generate a migration script without applying it
//
//	var buf bytes.Buffer
//	_, err := migrator.MigrateWithOptions(ctx, db, d, "catalog.yaml", migrator.MigrateOptions{
//	    DryRun: &buf,
//	})
//	os.WriteFile("migrations/001_strata.sql", buf.Bytes(), 0644)
func MigrateWithOptions(ctx context.Context, db Execer, d dialect.Dialect, catalogPath string, opts MigrateOptions) (skipped bool, err error) {
	cat, err := schema.LoadFile(catalogPath)
	if err != nil {
		return false, fmt.Errorf("loading catalog: %w", err)
	}
	return NewMigrator(db, cat, d).Migrate(ctx, opts)
}
