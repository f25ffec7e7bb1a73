package main

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/internal/doctor"
)

var (
	doctorDB      string
	doctorRedis   string
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Run health checks on the catalog, the database and the cluster coordinator.`,
	Example: `  # Run health checks
  strata doctor --db postgres://localhost/mydb

  # Include the Redis coordinator, with verbose output
  strata doctor --redis localhost:6379 --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verboseFlag := resolveBool(doctorVerbose, cfg.Doctor.Verbose, verbose > 0)
		db, d, err := openDB(doctorDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		var opts []doctor.Option
		if addr := resolveString(doctorRedis, cfg.Cluster.Redis); addr != "" {
			client := redis.NewClient(&redis.Options{Addr: addr})
			defer func() { _ = client.Close() }()
			opts = append(opts, doctor.WithRedis(client, cfg.Cluster.Prefix))
		}

		if !quiet {
			fmt.Println("strata doctor - Health Check")
		}

		report, err := doctor.New(db, d, resolveString(catalogFile, cfg.Catalog), opts...).Run(cmd.Context())
		if err != nil {
			return cli.GeneralError("running doctor", err)
		}
		report.Print(os.Stdout, verboseFlag)

		if report.HasErrors() {
			return cli.GeneralError("health checks failed", nil)
		}
		return nil
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.StringVar(&doctorRedis, "redis", "", "Redis address of the cluster coordinator")
	f.BoolVar(&doctorVerbose, "details", false, "show check details")
}
