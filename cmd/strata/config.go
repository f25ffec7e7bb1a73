package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pthm/strata/internal/cli"
)

var (
	configShowSource bool
	configShowDSN    bool
	configInitForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long: `Show the effective configuration after merging defaults, config file, and
environment variables. The database password is never printed.`,
	Example: `  # Show effective configuration
  strata config show

  # Show the config file path and the connection string in use
  strata config show --source --dsn`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowSource {
			if configPath != "" {
				fmt.Printf("Config file: %s\n\n", configPath)
			} else {
				fmt.Println("Config file: (none, using defaults)")
				fmt.Println()
			}
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))

		if configShowDSN {
			redacted := *cfg
			if redacted.Database.Password != "" {
				redacted.Database.Password = "xxxxx"
			}
			dsn, err := redacted.DSN()
			if err != nil {
				dsn = "(" + err.Error() + ")"
			}
			fmt.Printf("\ndsn: %s\n", dsn)
		}
		return nil
	},
}

const starterConfig = `# strata configuration
catalog: catalog.yaml

database:
  driver: pgx
  host: localhost
  name: app
  user: app
  # password: set STRATA_DATABASE_PASSWORD instead

cluster:
  # redis: localhost:6379
  prefix: "strata:"
`

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter strata.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		const path = "strata.yaml"
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return cli.ConfigError(path+" already exists", errors.New("use --force to overwrite"))
		}
		if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
			return cli.GeneralError("writing "+path, err)
		}
		if !quiet {
			fmt.Printf("Wrote %s\n", path)
		}
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowSource, "source", false, "show config file source")
	configShowCmd.Flags().BoolVar(&configShowDSN, "dsn", false, "show the connection string with the password masked")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing strata.yaml")
	configCmd.AddCommand(configShowCmd, configInitCmd)
}
