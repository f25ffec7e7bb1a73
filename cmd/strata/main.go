// Command strata manages the database side of a strata deployment.
//
// The CLI supports:
//   - validate: load and check a catalog document
//   - migrate: create the repo and system tables of a catalog
//   - status: show the migration state of a database
//   - compile: print the SQL a query document compiles to
//   - doctor: run health checks against a database
//
// Commands that touch the database need database settings in strata.yaml,
// STRATA_DATABASE_* environment variables or the --db flag.
package main

import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/godror/godror"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

func main() {
	Execute()
}
