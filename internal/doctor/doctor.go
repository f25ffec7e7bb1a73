// Package doctor provides health checks for a strata deployment.
//
// The doctor command validates that a database is ready for the engine by
// checking the catalog document, the migration state, the sequences, the
// version invariant of every repo table and, when configured, the Redis
// cluster coordinator.
//
// Example usage:
//
//	d := doctor.New(db, dialect.MustGet(dialect.Postgres), "catalog.yaml")
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/object"
	"github.com/pthm/strata/pkg/migrator"
	"github.com/pthm/strata/schema"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g. "Catalog", "Sequences").
	Category string
	// Name is a short identifier for the check.
	Name    string
	Status  Status
	Message string
	// Details provides additional information for verbose output.
	Details string
	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to w, grouped by category in check order.
func (r *Report) Print(w io.Writer, verbose bool) {
	categories := make(map[string][]CheckResult)
	var order []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			order = append(order, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range order {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Doctor performs health checks against one database.
type Doctor struct {
	db          *sql.DB
	d           dialect.Dialect
	catalogPath string
	redis       redis.UniversalClient
	prefix      string

	// populated during Run
	cat     *schema.Catalog
	missing map[string]bool
}

// Option configures a Doctor.
type Option func(*Doctor)

// WithRedis adds the cluster checks against client. prefix is the key
// prefix of the coordinator.
func WithRedis(client redis.UniversalClient, prefix string) Option {
	return func(d *Doctor) {
		d.redis = client
		d.prefix = prefix
	}
}

// New creates a new Doctor instance.
func New(db *sql.DB, d dialect.Dialect, catalogPath string, opts ...Option) *Doctor {
	doc := &Doctor{db: db, d: d, catalogPath: catalogPath}
	for _, opt := range opts {
		opt(doc)
	}
	return doc
}

// Run executes all health checks and returns a report. An error is only
// returned when a check could not be evaluated at all.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkCatalog(report)
	if d.cat == nil {
		return report, nil
	}
	if err := d.checkMigrationState(ctx, report); err != nil {
		return nil, fmt.Errorf("checking migration state: %w", err)
	}
	if err := d.checkSequences(ctx, report); err != nil {
		return nil, fmt.Errorf("checking sequences: %w", err)
	}
	if err := d.checkVersions(ctx, report); err != nil {
		return nil, fmt.Errorf("checking versions: %w", err)
	}
	if err := d.checkACL(ctx, report); err != nil {
		return nil, fmt.Errorf("checking permission entries: %w", err)
	}
	if d.redis != nil {
		d.checkCluster(ctx, report)
	}
	return report, nil
}

func (d *Doctor) checkCatalog(report *Report) {
	cat, err := schema.LoadFile(d.catalogPath)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Catalog",
			Name:     "valid",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Catalog at %s cannot be loaded", d.catalogPath),
			Details:  err.Error(),
			FixHint:  "Run 'strata validate' for details",
		})
		return
	}
	d.cat = cat

	fields := 0
	for _, td := range cat.Types() {
		fields += len(td.Fields)
	}
	report.AddCheck(CheckResult{
		Category: "Catalog",
		Name:     "valid",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Catalog is valid (%d types, %d fields, %d links)", len(cat.Types()), fields, len(cat.Links())),
	})
}

func (d *Doctor) checkMigrationState(ctx context.Context, report *Report) error {
	m := migrator.NewMigrator(d.db, d.cat, d.d)
	status, err := m.GetStatus(ctx)
	if err != nil {
		return err
	}

	d.missing = make(map[string]bool, len(status.Missing))
	for _, name := range status.Missing {
		d.missing[name] = true
	}
	if len(status.Missing) > 0 {
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "tables",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d tables are missing", len(status.Missing)),
			Details:  strings.Join(status.Missing, "\n"),
			FixHint:  "Run 'strata migrate' to create them",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "tables",
			Status:   StatusPass,
			Message:  fmt.Sprintf("All %d tables exist", len(m.Tables())),
		})
	}

	last := status.LastMigration
	if last == nil {
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "migrated",
			Status:   StatusWarn,
			Message:  "No migration records found",
			FixHint:  "Run 'strata migrate' to apply the catalog",
		})
		return nil
	}

	checksum, err := m.Checksum()
	if err != nil {
		return err
	}
	switch {
	case checksum != last.SchemaChecksum:
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "catalog_sync",
			Status:   StatusWarn,
			Message:  "Catalog has changed since last migration",
			Details:  fmt.Sprintf("File checksum: %s...\nDB checksum:   %s...", short(checksum), short(last.SchemaChecksum)),
			FixHint:  "Run 'strata migrate' to create new tables",
		})
	case last.CodegenVersion != migrator.CodegenVersion:
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "catalog_sync",
			Status:   StatusWarn,
			Message:  "DDL version has changed",
			Details:  fmt.Sprintf("Current: %s, DB: %s", migrator.CodegenVersion, last.CodegenVersion),
			FixHint:  "Run 'strata migrate --force'",
		})
	default:
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "catalog_sync",
			Status:   StatusPass,
			Message:  fmt.Sprintf("Catalog is in sync with database (migrated %s)", last.AppliedAt.Format("2006-01-02 15:04:05")),
		})
	}
	return nil
}

func short(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

// checkSequences verifies that both sequences exist and are ahead of every
// key already handed out.
func (d *Doctor) checkSequences(ctx context.Context, report *Report) error {
	if d.missing[sqlgen.TableSequence] {
		return nil
	}
	for _, seq := range migrator.Sequences {
		var value int64
		err := d.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT seq_value FROM %s WHERE seq_name = %s", sqlgen.TableSequence, d.d.Placeholder(1)), seq).Scan(&value)
		if err == sql.ErrNoRows {
			report.AddCheck(CheckResult{
				Category: "Sequences",
				Name:     seq,
				Status:   StatusFail,
				Message:  fmt.Sprintf("Sequence %s is not initialized", seq),
				FixHint:  "Run 'strata migrate --force' to seed it",
			})
			continue
		}
		if err != nil {
			return err
		}

		var highest int64
		var where string
		for _, td := range d.cat.Types() {
			table := d.d.Ident(td.QualifiedTable())
			if d.missing[table] {
				continue
			}
			var n sql.NullInt64
			if err := d.db.QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(%s) FROM %s", seq, table)).Scan(&n); err != nil {
				return err
			}
			if n.Valid && n.Int64 > highest {
				highest, where = n.Int64, td.Table
			}
		}
		if highest > value {
			report.AddCheck(CheckResult{
				Category: "Sequences",
				Name:     seq,
				Status:   StatusFail,
				Message:  fmt.Sprintf("Sequence %s is behind the data (%d < %d in %s)", seq, value, highest, where),
				FixHint:  fmt.Sprintf("UPDATE %s SET seq_value = %d WHERE seq_name = '%s'", sqlgen.TableSequence, highest, seq),
			})
			continue
		}
		report.AddCheck(CheckResult{
			Category: "Sequences",
			Name:     seq,
			Status:   StatusPass,
			Message:  fmt.Sprintf("Sequence %s at %d", seq, value),
		})
	}
	return nil
}

// checkVersions reports logical ids with more than one current version.
func (d *Doctor) checkVersions(ctx context.Context, report *Report) error {
	var broken []string
	for _, td := range d.cat.Types() {
		table := d.d.Ident(td.QualifiedTable())
		if d.missing[table] {
			continue
		}
		var n int64
		q := fmt.Sprintf(
			"SELECT COUNT(*) FROM (SELECT %s FROM %s WHERE %s = %s GROUP BY %s HAVING COUNT(*) > 1) dup",
			sqlgen.ColID, table, sqlgen.ColDeleted, d.d.Placeholder(1), sqlgen.ColID)
		if err := d.db.QueryRowContext(ctx, q, object.MaxSentinel).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			broken = append(broken, fmt.Sprintf("%s: %d ids", td.Name, n))
		}
	}
	if len(broken) > 0 {
		report.AddCheck(CheckResult{
			Category: "Data Health",
			Name:     "versions",
			Status:   StatusFail,
			Message:  "Some objects have more than one current version",
			Details:  strings.Join(broken, "\n"),
			FixHint:  "Close the older versions by setting repo_deleted",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: "Data Health",
		Name:     "versions",
		Status:   StatusPass,
		Message:  "Every object has at most one current version",
	})
	return nil
}

// checkACL reports permission entries that name unknown types.
func (d *Doctor) checkACL(ctx context.Context, report *Report) error {
	if d.missing[sqlgen.TableACL] {
		return nil
	}
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT type_id FROM %s", sqlgen.TableACL))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	var unknown []string
	var total int
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		total++
		if _, err := d.cat.Describe(schema.TypeID(id)); err != nil {
			unknown = append(unknown, fmt.Sprint(id))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	switch {
	case total == 0:
		report.AddCheck(CheckResult{
			Category: "Data Health",
			Name:     "acl",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%s is empty", sqlgen.TableACL),
			Details:  "Only system and service principals can read objects",
		})
	case len(unknown) > 0:
		report.AddCheck(CheckResult{
			Category: "Data Health",
			Name:     "acl",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d permission entries reference unknown types", len(unknown)),
			Details:  "type ids: " + strings.Join(unknown, ", "),
		})
	default:
		report.AddCheck(CheckResult{
			Category: "Data Health",
			Name:     "acl",
			Status:   StatusPass,
			Message:  fmt.Sprintf("Permission entries cover %d types", total),
		})
	}
	return nil
}

func (d *Doctor) checkCluster(ctx context.Context, report *Report) {
	if err := d.redis.Ping(ctx).Err(); err != nil {
		report.AddCheck(CheckResult{
			Category: "Cluster",
			Name:     "redis",
			Status:   StatusFail,
			Message:  "Redis is not reachable",
			Details:  err.Error(),
			FixHint:  "Check cluster.redis in strata.yaml",
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: "Cluster",
		Name:     "redis",
		Status:   StatusPass,
		Message:  "Redis is reachable",
	})

	nodes, err := d.redis.Keys(ctx, d.prefix+"node:*").Result()
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Cluster",
			Name:     "nodes",
			Status:   StatusWarn,
			Message:  "Could not list cluster nodes",
			Details:  err.Error(),
		})
		return
	}
	leader, err := d.redis.Get(ctx, d.prefix+"leader").Result()
	switch {
	case err == redis.Nil || len(nodes) == 0:
		report.AddCheck(CheckResult{
			Category: "Cluster",
			Name:     "nodes",
			Status:   StatusWarn,
			Message:  "No live engine nodes",
		})
	case err != nil:
		report.AddCheck(CheckResult{
			Category: "Cluster",
			Name:     "nodes",
			Status:   StatusWarn,
			Message:  "Could not read the coordinator lease",
			Details:  err.Error(),
		})
	default:
		report.AddCheck(CheckResult{
			Category: "Cluster",
			Name:     "nodes",
			Status:   StatusPass,
			Message:  fmt.Sprintf("%d live nodes, coordinator %s", len(nodes), leader),
		})
	}
}
