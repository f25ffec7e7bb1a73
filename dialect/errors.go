package dialect

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
)

// SQLSTATE and vendor codes for unique-key violations.
const (
	pgUniqueViolation      = "23505"
	mysqlDuplicateEntry    = 1062
	mssqlUniqueIndex       = 2601
	mssqlUniqueConstraint  = 2627
	oracleUniqueConstraint = "ORA-00001"
	sqliteUniqueConstraint = "UNIQUE constraint failed"
)

// IsUniqueViolation reports whether err is a unique-key violation from any
// supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgUniqueViolation {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == mssqlUniqueIndex || msErr.Number == mssqlUniqueConstraint
	}
	msg := err.Error()
	return strings.Contains(msg, oracleUniqueConstraint) || strings.Contains(msg, sqliteUniqueConstraint)
}

// sqlState extracts the SQLSTATE from pgx or lib/pq errors.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// Vendor codes for a missing table.
const (
	pgUndefinedTable   = "42P01"
	mysqlNoSuchTable   = 1146
	mssqlInvalidObject = 208
	oracleNoSuchTable  = "ORA-00942"
	sqliteNoSuchTable  = "no such table"
)

// IsUndefinedTable reports whether err says a referenced table does not
// exist.
func IsUndefinedTable(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgUndefinedTable {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlNoSuchTable
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == mssqlInvalidObject
	}
	msg := err.Error()
	return strings.Contains(msg, oracleNoSuchTable) || strings.Contains(msg, sqliteNoSuchTable)
}
