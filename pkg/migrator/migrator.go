package migrator

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/schema"
)

// CodegenVersion is incremented when the generated DDL changes shape.
// This ensures migrations re-run even if the catalog checksum matches.
const CodegenVersion = "1"

// Sequences seeded by every migration.
var Sequences = []string{sqlgen.SeqPhysical, sqlgen.SeqLogical}

// MigrateOptions controls migration behavior.
type MigrateOptions struct {
	// DryRun writes the DDL to the writer without touching the database.
	DryRun io.Writer

	// Force re-runs the migration even if the catalog is unchanged.
	Force bool
}

// MigrationRecord represents a row in the strata_migrations table.
type MigrationRecord struct {
	SchemaChecksum string
	CodegenVersion string
	AppliedAt      time.Time
}

// Migrator creates the repo, link and system tables of a catalog.
// The migrator is idempotent: it creates missing tables and seeds missing
// sequences, and never alters or drops existing ones.
//
// # Usage
//
//	cat, _ := schema.LoadFile("catalog.yaml")
//	m := migrator.NewMigrator(db, cat, dialect.MustGet(dialect.Postgres))
//	skipped, err := m.Migrate(ctx, migrator.MigrateOptions{})
type Migrator struct {
	db  Execer
	cat *schema.Catalog
	d   dialect.Dialect
	log *zap.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Migrator) { m.log = log }
}

// NewMigrator creates a migrator for cat on db.
// The Execer is typically *sql.DB but can be *sql.Tx for testing.
func NewMigrator(db Execer, cat *schema.Catalog, d dialect.Dialect, opts ...Option) *Migrator {
	m := &Migrator{db: db, cat: cat, d: d, log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tables returns the DDL of every table the catalog needs, system tables
// first.
func (m *Migrator) Tables() []Table {
	return append(SystemTables(m.d), RepoTables(m.cat, m.d)...)
}

// Checksum returns the SHA256 of the catalog's canonical YAML document.
func (m *Migrator) Checksum() (string, error) {
	doc, err := yaml.Marshal(m.cat.Document())
	if err != nil {
		return "", fmt.Errorf("encoding catalog: %w", err)
	}
	return ComputeSchemaChecksum(doc), nil
}

// ComputeSchemaChecksum returns a SHA256 hash of the catalog content.
// Used to detect catalog changes for skip-if-unchanged optimization.
func ComputeSchemaChecksum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// Migrate creates missing tables and sequences. It returns skipped=true
// when the last recorded migration used the same catalog and codegen
// version, unless Force or DryRun is set.
func (m *Migrator) Migrate(ctx context.Context, opts MigrateOptions) (skipped bool, err error) {
	checksum, err := m.Checksum()
	if err != nil {
		return false, err
	}
	tables := m.Tables()

	if opts.DryRun != nil {
		m.outputDryRun(opts.DryRun, checksum, tables)
		return false, nil
	}

	if !opts.Force {
		last, err := m.GetLastMigration(ctx)
		if err != nil {
			return false, fmt.Errorf("checking last migration: %w", err)
		}
		if shouldSkipMigration(last, checksum) {
			m.log.Info("catalog unchanged, skipping migration", zap.String("checksum", checksum))
			return true, nil
		}
	}

	if txer, ok := m.db.(interface {
		BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	}); ok {
		tx, err := txer.BeginTx(ctx, nil)
		if err != nil {
			return false, fmt.Errorf("starting transaction: %w", err)
		}
		defer func() {
			if err != nil {
				err = errs.Combine(err, ignoreDone(tx.Rollback()))
			}
		}()
		if err := m.apply(ctx, tx, tables, checksum); err != nil {
			return false, err
		}
		return false, tx.Commit()
	}

	// Fall back to non-transactional (for *sql.Conn)
	return false, m.apply(ctx, m.db, tables, checksum)
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (m *Migrator) apply(ctx context.Context, db Execer, tables []Table, checksum string) error {
	for _, t := range tables {
		exists, err := tableExists(ctx, db, t.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		for _, stmt := range t.Statements() {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating %s: %w", t.Name, err)
			}
		}
		m.log.Info("created table", zap.String("table", t.Name), zap.String("section", t.Section))
	}
	if err := m.seedSequences(ctx, db); err != nil {
		return err
	}
	return m.insertMigrationRecord(ctx, db, checksum)
}

// tableExists probes a table with a query that reads no rows.
func tableExists(ctx context.Context, db Execer, name string) (bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT 1 FROM "+name+" WHERE 1 = 0")
	if err != nil {
		if dialect.IsUndefinedTable(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", name, err)
	}
	return true, rows.Close()
}

func (m *Migrator) seedSequences(ctx context.Context, db Execer) error {
	for _, name := range Sequences {
		var n int64
		err := db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE seq_name = %s", sqlgen.TableSequence, m.d.Placeholder(1)),
			name).Scan(&n)
		if err != nil {
			return fmt.Errorf("reading sequence %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, m.seedSQL(), name); err != nil {
			return fmt.Errorf("seeding sequence %s: %w", name, err)
		}
	}
	return nil
}

func (m *Migrator) seedSQL() string {
	return fmt.Sprintf("INSERT INTO %s (seq_name, seq_value) VALUES (%s, 0)", sqlgen.TableSequence, m.d.Placeholder(1))
}

// Status represents the current migration state.
// Use GetStatus to check if the database matches the catalog.
type Status struct {
	// Missing lists the tables that do not exist yet.
	Missing []string
	// LastMigration is the most recent migration record, or nil.
	LastMigration *MigrationRecord
	// UpToDate is set when nothing is missing and the last migration used
	// the current catalog.
	UpToDate bool
}

// GetStatus returns the current migration status.
// Useful for health checks or migration diagnostics.
func (m *Migrator) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}
	for _, t := range m.Tables() {
		exists, err := tableExists(ctx, m.db, t.Name)
		if err != nil {
			return nil, err
		}
		if !exists {
			status.Missing = append(status.Missing, t.Name)
		}
	}
	last, err := m.GetLastMigration(ctx)
	if err != nil {
		return nil, err
	}
	status.LastMigration = last
	checksum, err := m.Checksum()
	if err != nil {
		return nil, err
	}
	status.UpToDate = len(status.Missing) == 0 && shouldSkipMigration(last, checksum)
	return status, nil
}

// GetLastMigration returns the most recent migration record, or nil if none exists.
func (m *Migrator) GetLastMigration(ctx context.Context) (_ *MigrationRecord, err error) {
	exists, err := tableExists(ctx, m.db, MigrationsTable)
	if err != nil || !exists {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
		"SELECT schema_checksum, codegen_version, applied_at FROM "+MigrationsTable)
	if err != nil {
		return nil, fmt.Errorf("querying last migration: %w", err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var last *MigrationRecord
	for rows.Next() {
		var (
			rec MigrationRecord
			raw any
		)
		if err := rows.Scan(&rec.SchemaChecksum, &rec.CodegenVersion, &raw); err != nil {
			return nil, fmt.Errorf("scanning migration record: %w", err)
		}
		if rec.AppliedAt, err = m.d.DecodeTime(raw); err != nil {
			return nil, fmt.Errorf("decoding migration time: %w", err)
		}
		if last == nil || !rec.AppliedAt.Before(last.AppliedAt) {
			last = &rec
		}
	}
	return last, rows.Err()
}

// shouldSkipMigration returns true if the catalog and codegen version are unchanged.
func shouldSkipMigration(last *MigrationRecord, checksum string) bool {
	if last == nil {
		return false
	}
	return last.SchemaChecksum == checksum && last.CodegenVersion == CodegenVersion
}

// insertMigrationRecord records the migration in strata_migrations.
func (m *Migrator) insertMigrationRecord(ctx context.Context, db Execer, checksum string) error {
	_, err := db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (schema_checksum, codegen_version, applied_at) VALUES (%s, %s, %s)",
			MigrationsTable, m.d.Placeholder(1), m.d.Placeholder(2), m.d.Placeholder(3)),
		checksum, CodegenVersion, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting migration record: %w", err)
	}
	return nil
}

// outputDryRun writes the migration SQL to the provided writer.
func (m *Migrator) outputDryRun(w io.Writer, checksum string, tables []Table) {
	_, _ = fmt.Fprintf(w, "-- strata migration (dry-run)\n")
	_, _ = fmt.Fprintf(w, "-- Dialect: %s\n", m.d.Name())
	_, _ = fmt.Fprintf(w, "-- Catalog checksum: %s\n", checksum)
	_, _ = fmt.Fprintf(w, "-- Codegen version: %s\n", CodegenVersion)
	_, _ = fmt.Fprintf(w, "\n")

	section := ""
	for _, t := range tables {
		if t.Section != section {
			section = t.Section
			_, _ = fmt.Fprintf(w, "-- ============================================================\n")
			_, _ = fmt.Fprintf(w, "-- %s tables\n", section)
			_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
		}
		for _, stmt := range t.Statements() {
			_, _ = fmt.Fprintf(w, "%s;\n\n", stmt)
		}
	}

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Sequences and migration record\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	for _, name := range Sequences {
		_, _ = fmt.Fprintf(w, "INSERT INTO %s (seq_name, seq_value) VALUES ('%s', 0);\n", sqlgen.TableSequence, name)
	}
	_, _ = fmt.Fprintf(w, "INSERT INTO %s (schema_checksum, codegen_version, applied_at)\n", MigrationsTable)
	_, _ = fmt.Fprintf(w, "VALUES ('%s', '%s', CURRENT_TIMESTAMP);\n", checksum, CodegenVersion)
}
