package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/cli"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/query"
)

var (
	compileDialect string
	compileLimit   int
	compileOffset  int
	compileCount   bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <query.yaml>",
	Short: "Print the SQL a query document compiles to",
	Long: `Compile a YAML query document against the catalog and print the SQL and its
arguments. Authorization filters are not applied.`,
	Example: `  # Compile for the configured database dialect
  strata compile queries/open-invoices.yaml

  # Compile a count for Oracle
  strata compile queries/open-invoices.yaml --dialect oracle --count`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, _, err := loadCatalog()
		if err != nil {
			return err
		}

		name := resolveString(compileDialect, cfg.Compile.Dialect)
		var d dialect.Dialect
		if name != "" {
			d, err = dialect.Get(dialect.Name(name))
		} else {
			d, err = dialect.ForDriver(cfg.Database.Driver)
		}
		if err != nil {
			return cli.ConfigError("selecting dialect", err)
		}

		doc, err := query.ParseFile(args[0])
		if err != nil {
			return cli.GeneralError("reading query", err)
		}
		q, err := doc.Build(cat)
		if err != nil {
			return cli.Classify("building query", err)
		}

		comp := sqlgen.New(cat, d)
		var stmt *sqlgen.Statement
		if compileCount {
			stmt, err = comp.CompileCount(q)
		} else {
			limit := compileLimit
			if limit == 0 {
				limit = cfg.Compile.Limit
			}
			stmt, err = comp.Compile(q, limit, compileOffset)
		}
		if err != nil {
			return cli.Classify("compiling query", err)
		}

		fmt.Println(stmt.SQL)
		if len(stmt.Args) > 0 && !quiet {
			fmt.Println()
			for i, a := range stmt.Args {
				fmt.Printf("-- %s = %v\n", d.Placeholder(i+1), a)
			}
		}
		return nil
	},
}

func init() {
	f := compileCmd.Flags()
	f.StringVar(&compileDialect, "dialect", "", "target dialect: "+dialectNames())
	f.IntVar(&compileLimit, "limit", 0, "row limit")
	f.IntVar(&compileOffset, "offset", 0, "row offset")
	f.BoolVar(&compileCount, "count", false, "compile a count query")
}

func dialectNames() string {
	var s string
	for i, n := range dialect.Names() {
		if i > 0 {
			s += ", "
		}
		s += string(n)
	}
	return s
}
