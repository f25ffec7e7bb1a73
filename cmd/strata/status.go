package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/pkg/migrator"
)

var statusDB string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long: `Show which catalog tables are missing and when the catalog was last
migrated. Exits with status 5 when a migration is pending.`,
	Example: `  # Check status
  strata status --db postgres://localhost/mydb`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, path, err := loadCatalog()
		if err != nil {
			return err
		}
		db, d, err := openDB(statusDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		s, err := migrator.NewMigrator(db, cat, d).GetStatus(cmd.Context())
		if err != nil {
			return cli.GeneralError("getting status", err)
		}

		if !quiet {
			fmt.Printf("Catalog:         %s\n", path)
			fmt.Printf("Dialect:         %s\n", d.Name())
			if s.LastMigration != nil {
				fmt.Printf("Last migration:  %s (checksum %s)\n",
					s.LastMigration.AppliedAt.Format("2006-01-02 15:04:05 MST"), short(s.LastMigration.SchemaChecksum))
			} else {
				fmt.Println("Last migration:  never")
			}
			if len(s.Missing) == 0 {
				fmt.Println("Tables:          all present")
			} else {
				fmt.Printf("Tables:          %d missing\n", len(s.Missing))
				for _, name := range s.Missing {
					fmt.Printf("  - %s\n", name)
				}
			}
		}

		if !s.UpToDate {
			if !quiet {
				fmt.Println("\nMigration pending. Run 'strata migrate'.")
			}
			return &cli.ExitError{Code: cli.ExitPending, Message: "migration pending"}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDB, "db", "", "database URL")
}

func short(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
