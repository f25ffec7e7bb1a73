package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/pkg/migrator"
)

var (
	migrateDB     string
	migrateDryRun bool
	migrateForce  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create repo and system tables",
	Long: `Create the tables of every catalog type and link plus the strata system
tables. Existing tables are never altered or dropped.`,
	Example: `  # Apply the catalog to the configured database
  strata migrate

  # Preview the DDL without applying
  strata migrate --dry-run

  # Re-run even if the catalog is unchanged
  strata migrate --db postgres://localhost/mydb --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun := resolveBool(migrateDryRun, cfg.Migrate.DryRun)
		force := resolveBool(migrateForce, cfg.Migrate.Force)
		return runMigrate(cmd.Context(), dryRun, force)
	},
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&migrateDB, "db", "", "database URL")
	f.BoolVar(&migrateDryRun, "dry-run", false, "output migration DDL without applying")
	f.BoolVar(&migrateForce, "force", false, "migrate even if the catalog is unchanged")
}

func runMigrate(ctx context.Context, dryRun, force bool) error {
	cat, _, err := loadCatalog()
	if err != nil {
		return err
	}
	db, d, err := openDB(migrateDB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	opts := migrator.MigrateOptions{Force: force}
	if dryRun {
		opts.DryRun = os.Stdout
		if !quiet {
			fmt.Fprintln(os.Stderr, "-- Dry-run mode: DDL will be output but not applied")
			fmt.Fprintln(os.Stderr, "")
		}
	} else if !quiet {
		fmt.Printf("Applying catalog to %s database...\n", d.Name())
	}

	m := migrator.NewMigrator(db, cat, d, migrator.WithLogger(logger))
	skipped, err := m.Migrate(ctx, opts)
	if err != nil {
		return cli.Classify("migration failed", err)
	}
	if dryRun || quiet {
		return nil
	}
	if skipped {
		fmt.Println("Catalog unchanged, migration skipped.")
		fmt.Println("Use --force to re-apply.")
	} else {
		fmt.Println("Catalog applied successfully.")
	}
	return nil
}
