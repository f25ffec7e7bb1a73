package main

import (
	"database/sql"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/schema"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     = zap.NewNop()

	// Persistent flags
	cfgFile     string
	catalogFile string
	verbose     int
	quiet       bool
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Metadata-driven object repository",
	Long: `strata - Metadata-driven object repository

Strata stores versioned objects described by a catalog document in ordinary
SQL tables. This tool creates those tables, checks their health and shows the
SQL that queries compile to.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}
		logger, err = newLogger()
		if err != nil {
			return cli.ConfigError("creating logger", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command group IDs
const (
	groupCatalog  = "catalog"
	groupDatabase = "database"
	groupUtility  = "utility"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover strata.yaml)")
	rootCmd.PersistentFlags().StringVar(&catalogFile, "catalog", "", "catalog document (default from config)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCatalog, Title: "Catalog:"},
		&cobra.Group{ID: groupDatabase, Title: "Database:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	validateCmd.GroupID = groupCatalog
	compileCmd.GroupID = groupCatalog
	rootCmd.AddCommand(validateCmd, compileCmd)

	migrateCmd.GroupID = groupDatabase
	statusCmd.GroupID = groupDatabase
	doctorCmd.GroupID = groupDatabase
	rootCmd.AddCommand(migrateCmd, statusCmd, doctorCmd)

	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd, versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// newLogger logs warnings by default, info with -v and debug with -vv.
func newLogger() (*zap.Logger, error) {
	level := zapcore.WarnLevel
	switch {
	case quiet:
		level = zapcore.ErrorLevel
	case verbose >= 2:
		level = zapcore.DebugLevel
	case verbose == 1:
		level = zapcore.InfoLevel
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	return zc.Build()
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool returns true if any of the provided values is true.
func resolveBool(values ...bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}

// loadCatalog loads the catalog named by --catalog or the config.
func loadCatalog() (*schema.Catalog, string, error) {
	path := resolveString(catalogFile, cfg.Catalog)
	cat, err := schema.LoadFile(path)
	if err != nil {
		return nil, path, cli.CatalogError("loading catalog "+path, err)
	}
	return cat, path, nil
}

// openDB opens the configured database. flagDSN overrides the config.
func openDB(flagDSN string) (*sql.DB, dialect.Dialect, error) {
	driver := cfg.Database.Driver
	d, err := dialect.ForDriver(driver)
	if err != nil {
		return nil, nil, cli.ConfigError("database.driver", err)
	}

	dsn := flagDSN
	if dsn == "" {
		if dsn, err = cfg.DSN(); err != nil {
			return nil, nil, cli.ConfigError("database configuration", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, cli.DBConnectError("connecting to database", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, cli.DBConnectError("connecting to database", err)
	}
	return db, d, nil
}
