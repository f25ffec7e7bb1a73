// Package dialect describes the SQL differences between the supported
// databases: placeholders, identifier quoting, row limiting, and the value
// adapters for booleans, geometry and timestamps.
//
// Dialects are selected by name or by database/sql driver name:
//
//	d, err := dialect.ForDriver("pgx")
//	d.Placeholder(1) // "$1"
//
// Every dialect is a value of the same table-driven implementation, so the
// compiler and hydrator never branch on the database themselves; they ask the
// dialect.
package dialect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pthm/strata/schema"
)

// Name identifies a dialect.
type Name string

const (
	Postgres  Name = "postgres"
	MySQL     Name = "mysql"
	SQLServer Name = "sqlserver"
	Oracle    Name = "oracle"
	SQLite    Name = "sqlite"
)

// Paging is the row-limiting strategy of a dialect.
type Paging int

const (
	// PagingLimitOffset appends LIMIT n OFFSET m.
	PagingLimitOffset Paging = iota
	// PagingOffsetFetch appends OFFSET m ROWS FETCH NEXT n ROWS ONLY and needs an ORDER BY.
	PagingOffsetFetch
	// PagingRowNum filters on the ROWNUM pseudo-column.
	PagingRowNum
)

// ErrUnknownDialect is returned for an unrecognized dialect or driver name.
var ErrUnknownDialect = errors.New("strata/dialect: unknown dialect")

// Dialect is the per-database SQL surface used by the compiler, hydrator and
// migrator.
type Dialect interface {
	Name() Name
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// Quote quotes an identifier.
	Quote(ident string) string
	// Ident renders a catalog identifier, optionally schema-qualified. Parts
	// that are reserved words or not plain names are quoted.
	Ident(name string) string
	Paging() Paging
	// NoLimit is the LIMIT operand meaning "all rows", for dialects whose
	// OFFSET requires a LIMIT. Empty when OFFSET stands alone.
	NoLimit() string

	// BoolValue converts b into the value bound for a boolean column.
	BoolValue(b bool) any
	// DecodeBool reads a boolean column value as returned by the driver.
	DecodeBool(raw any) (bool, error)
	// DecodeTime reads a timestamp column value as returned by the driver.
	DecodeTime(raw any) (time.Time, error)

	// SelectGeometry wraps a geometry column so it is returned as WKB.
	SelectGeometry(col string) string
	// BindGeometry wraps a placeholder carrying WKB for insertion.
	BindGeometry(placeholder string) string

	// ColumnType returns the DDL column type for a field.
	ColumnType(f schema.FieldDescriptor) string
	// KeyType returns the DDL type of 64-bit key columns.
	KeyType() string
	// TimestampType returns the DDL type of timestamp columns.
	TimestampType() string
	// IntType returns the DDL type of small integer columns.
	IntType() string
	// TextType returns the DDL type of a bounded text column.
	TextType(size int) string
}

type table struct {
	name        Name
	placeholder func(n int) string
	quote       func(s string) string
	reserved    map[string]bool
	paging      Paging
	noLimit     string
	boolTrue    any
	boolFalse   any
	selectGeom  func(col string) string
	bindGeom    func(ph string) string
	keyType     string
	tsType      string
	intType     string
	boolType    string
	geomType    string
	blobType    string
	clobType    string
	varchar     func(size int, national bool) string
	numeric     func(size, scale int) string
}

func (t *table) Name() Name                       { return t.name }
func (t *table) Placeholder(n int) string         { return t.placeholder(n) }
func (t *table) Quote(s string) string            { return t.quote(s) }
func (t *table) Paging() Paging                   { return t.paging }
func (t *table) NoLimit() string                  { return t.noLimit }
func (t *table) SelectGeometry(col string) string { return t.selectGeom(col) }
func (t *table) BindGeometry(ph string) string    { return t.bindGeom(ph) }
func (t *table) KeyType() string                  { return t.keyType }
func (t *table) TimestampType() string            { return t.tsType }
func (t *table) IntType() string                  { return t.intType }
func (t *table) TextType(size int) string         { return t.varchar(size, false) }

func (t *table) Ident(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if t.reserved[strings.ToUpper(p)] || !plainName(p) {
			parts[i] = t.quote(p)
		}
	}
	return strings.Join(parts, ".")
}

func (t *table) BoolValue(b bool) any {
	if b {
		return t.boolTrue
	}
	return t.boolFalse
}

func (t *table) ColumnType(f schema.FieldDescriptor) string {
	switch f.Type {
	case schema.FieldText:
		return t.varchar(f.Size, false)
	case schema.FieldNVarchar:
		return t.varchar(f.Size, true)
	case schema.FieldNumeric:
		return t.numeric(f.Size, f.Scale)
	case schema.FieldBoolean:
		return t.boolType
	case schema.FieldTimestamp:
		return t.tsType
	case schema.FieldGeometry:
		return t.geomType
	case schema.FieldBlob:
		return t.blobType
	case schema.FieldMultiText:
		return t.clobType
	}
	panic(fmt.Sprintf("dialect: unhandled field type %s", f.Type))
}

func (t *table) DecodeBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int32:
		return v != 0, nil
	case []byte:
		return parseBoolText(string(v))
	case string:
		return parseBoolText(v)
	case fmt.Stringer:
		return parseBoolText(v.String())
	}
	return false, fmt.Errorf("cannot decode %T as boolean", raw)
}

func parseBoolText(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "Y", "T", "TRUE", "1":
		return true, nil
	case "N", "F", "FALSE", "0":
		return false, nil
	}
	return false, fmt.Errorf("cannot decode %q as boolean", s)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *table) DecodeTime(raw any) (time.Time, error) {
	var s string
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot decode %T as timestamp", raw)
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot decode %q as timestamp", s)
}

func doubleQuote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func plainName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func words(sets ...string) map[string]bool {
	m := make(map[string]bool)
	for _, set := range sets {
		for _, w := range strings.Fields(set) {
			m[w] = true
		}
	}
	return m
}

// Reserved words per dialect. Only words that cannot be used as bare column
// or table names are listed.
const (
	sqlReserved = `ALL AND ANY AS ASC BETWEEN BY CASE CHECK COLUMN CONSTRAINT CREATE
		CROSS CURRENT_DATE CURRENT_TIME CURRENT_TIMESTAMP CURRENT_USER DEFAULT DELETE
		DESC DISTINCT DROP ELSE END EXISTS FOR FOREIGN FROM FULL GRANT GROUP HAVING
		IN INNER INSERT INTO IS JOIN LEFT LIKE NOT NULL ON OR ORDER OUTER PRIMARY
		REFERENCES RIGHT SELECT SET TABLE THEN TO UNION UNIQUE UPDATE USER USING
		VALUES WHEN WHERE WITH`
	postgresReserved = `ANALYSE ANALYZE ARRAY ASYMMETRIC BOTH CAST COLLATE CURRENT_ROLE
		DEFERRABLE DO EXCEPT FALSE FETCH INITIALLY INTERSECT LATERAL LEADING LIMIT
		LOCALTIME LOCALTIMESTAMP OFFSET ONLY PLACING RETURNING SESSION_USER SOME
		SYMMETRIC TRAILING TRUE VARIADIC WINDOW`
	mysqlReserved = `ACCESSIBLE ADD ALTER BEFORE BIGINT BINARY BLOB BOTH CALL CASCADE
		CHANGE CHAR CHARACTER CONDITION CONTINUE CONVERT CURSOR DATABASE DATABASES
		DECIMAL DECLARE DELAYED DESCRIBE DIV DOUBLE DUAL EACH ELSEIF ENCLOSED ESCAPED
		EXCEPT EXIT EXPLAIN FALSE FETCH FLOAT FORCE FULLTEXT FUNCTION GROUPS IF
		IGNORE INDEX INFILE INT INTEGER INTERSECT INTERVAL ITERATE KEY KEYS KILL
		LEADING LEAVE LIMIT LINEAR LINES LOAD LOCK LONG LOOP MATCH MOD MODIFIES
		NATURAL NUMERIC OPTION OPTIONALLY OUT OUTFILE OVER PARTITION PRECISION
		PROCEDURE PURGE RANGE RANK READ REAL RECURSIVE REGEXP RELEASE RENAME REPEAT
		REPLACE REQUIRE RESTRICT RETURN REVOKE RLIKE ROW ROWS SCHEMA SCHEMAS
		SENSITIVE SEPARATOR SHOW SIGNAL SMALLINT SPATIAL SQL STARTING SYSTEM
		TERMINATED TRAILING TRIGGER TRUE UNDO UNLOCK UNSIGNED USAGE USE VARCHAR
		WHILE WINDOW WRITE XOR YEAR_MONTH ZEROFILL`
	sqlserverReserved = `ADD ALTER BACKUP BEGIN BREAK BROWSE BULK CASCADE CHECKPOINT
		CLOSE CLUSTERED COALESCE COLLATE COMMIT COMPUTE CONTAINS CONTAINSTABLE
		CONTINUE CONVERT CURSOR DATABASE DBCC DEALLOCATE DECLARE DENY DISK
		DISTRIBUTED DOUBLE DUMP ERRLVL ESCAPE EXCEPT EXEC EXECUTE EXIT EXTERNAL
		FETCH FILE FILLFACTOR FREETEXT FUNCTION GOTO HOLDLOCK IDENTITY
		IDENTITY_INSERT IDENTITYCOL IF INDEX INTERSECT KEY KILL LINENO LOAD MERGE
		NATIONAL NOCHECK NONCLUSTERED OF OFF OFFSETS OPEN OPTION OVER PERCENT PIVOT
		PLAN PRECISION PRINT PROC PROCEDURE PUBLIC RAISERROR READ READTEXT
		RECONFIGURE REPLICATION RESTORE RESTRICT RETURN REVERT REVOKE ROLLBACK
		ROWCOUNT ROWGUIDCOL RULE SAVE SCHEMA SHUTDOWN SOME STATISTICS SYSTEM_USER
		TABLESAMPLE TEXTSIZE TOP TRAN TRANSACTION TRIGGER TRUNCATE TSEQUAL UNPIVOT
		UPDATETEXT USE VARYING VIEW WAITFOR WHILE WRITETEXT`
	oracleReserved = `ACCESS ADD ALTER AUDIT CHAR CLUSTER COMMENT COMPRESS CONNECT DATE
		DECIMAL EXCLUSIVE FILE FLOAT IDENTIFIED IMMEDIATE INCREMENT INDEX INITIAL
		INTEGER INTERSECT LEVEL LOCK LONG MAXEXTENTS MINUS MLSLABEL MODE MODIFY
		NOAUDIT NOCOMPRESS NOWAIT NUMBER OF OFFLINE ONLINE OPTION PCTFREE PRIOR
		PUBLIC RAW RENAME RESOURCE REVOKE ROW ROWID ROWNUM ROWS SESSION SHARE SIZE
		SMALLINT START SUCCESSFUL SYNONYM SYSDATE TRIGGER UID VALIDATE VARCHAR
		VARCHAR2 VIEW WHENEVER`
	sqliteReserved = `ABORT ACTION ADD AFTER ALTER ANALYZE ATTACH AUTOINCREMENT BEFORE
		BEGIN CASCADE COLLATE COMMIT CONFLICT DATABASE DEFERRABLE DEFERRED DETACH
		EACH ESCAPE EXCEPT EXCLUSIVE EXPLAIN FAIL GLOB IF IGNORE IMMEDIATE INDEX
		INDEXED INITIALLY INSTEAD INTERSECT ISNULL KEY LIMIT NATURAL NO NOTNULL
		OF OFFSET PLAN PRAGMA QUERY RAISE RECURSIVE REGEXP REINDEX RELEASE RENAME
		REPLACE RESTRICT ROLLBACK ROW SAVEPOINT TEMP TEMPORARY TRANSACTION TRIGGER
		VACUUM VIEW VIRTUAL`
)

func numbered(prefix string) func(int) string {
	return func(n int) string { return prefix + strconv.Itoa(n) }
}

func questionMark(int) string { return "?" }

func sized(base string, size, fallback int) string {
	if size <= 0 {
		size = fallback
	}
	return fmt.Sprintf("%s(%d)", base, size)
}

func decimalType(base string, maxPrecision int) func(size, scale int) string {
	return func(size, scale int) string {
		if size <= 0 {
			size = maxPrecision
		}
		return fmt.Sprintf("%s(%d,%d)", base, size, scale)
	}
}

var dialects = map[Name]*table{
	Postgres: {
		name:        Postgres,
		reserved:    words(sqlReserved, postgresReserved),
		placeholder: numbered("$"),
		quote:       doubleQuote,
		paging:      PagingLimitOffset,
		boolTrue:    true,
		boolFalse:   false,
		selectGeom:  func(col string) string { return "ST_AsBinary(" + col + ")" },
		bindGeom:    func(ph string) string { return "ST_GeomFromWKB(" + ph + ")" },
		keyType:     "BIGINT",
		tsType:      "TIMESTAMP(6)",
		intType:     "INTEGER",
		boolType:    "BOOLEAN",
		geomType:    "GEOMETRY",
		blobType:    "BYTEA",
		clobType:    "TEXT",
		varchar: func(size int, _ bool) string {
			if size <= 0 {
				return "TEXT"
			}
			return sized("VARCHAR", size, 0)
		},
		numeric: decimalType("NUMERIC", 38),
	},
	MySQL: {
		name:        MySQL,
		reserved:    words(sqlReserved, mysqlReserved),
		placeholder: questionMark,
		quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
		paging:      PagingLimitOffset,
		noLimit:     "18446744073709551615",
		boolTrue:    1,
		boolFalse:   0,
		selectGeom:  func(col string) string { return "ST_AsWKB(" + col + ")" },
		bindGeom:    func(ph string) string { return "ST_GeomFromWKB(" + ph + ")" },
		keyType:     "BIGINT",
		tsType:      "DATETIME(6)",
		intType:     "INT",
		boolType:    "TINYINT(1)",
		geomType:    "GEOMETRY",
		blobType:    "LONGBLOB",
		clobType:    "LONGTEXT",
		varchar: func(size int, _ bool) string {
			return sized("VARCHAR", size, 255)
		},
		numeric: decimalType("DECIMAL", 65),
	},
	SQLServer: {
		name:        SQLServer,
		reserved:    words(sqlReserved, sqlserverReserved),
		placeholder: numbered("@p"),
		quote:       func(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" },
		paging:      PagingOffsetFetch,
		boolTrue:    true,
		boolFalse:   false,
		selectGeom:  func(col string) string { return col + ".STAsBinary()" },
		bindGeom:    func(ph string) string { return "geometry::STGeomFromWKB(" + ph + ", 0)" },
		keyType:     "BIGINT",
		tsType:      "DATETIME2(6)",
		intType:     "INT",
		boolType:    "BIT",
		geomType:    "GEOMETRY",
		blobType:    "VARBINARY(MAX)",
		clobType:    "NVARCHAR(MAX)",
		varchar: func(size int, national bool) string {
			base := "VARCHAR"
			if national {
				base = "NVARCHAR"
			}
			if size <= 0 {
				return base + "(MAX)"
			}
			return sized(base, size, 0)
		},
		numeric: decimalType("DECIMAL", 38),
	},
	Oracle: {
		name:        Oracle,
		reserved:    words(sqlReserved, oracleReserved),
		placeholder: numbered(":"),
		quote:       doubleQuote,
		paging:      PagingRowNum,
		boolTrue:    "Y",
		boolFalse:   "N",
		selectGeom:  func(col string) string { return "SDO_UTIL.TO_WKBGEOMETRY(" + col + ")" },
		bindGeom:    func(ph string) string { return "SDO_UTIL.FROM_WKBGEOMETRY(" + ph + ")" },
		keyType:     "NUMBER(19)",
		tsType:      "TIMESTAMP(6)",
		intType:     "NUMBER(10)",
		boolType:    "CHAR(1)",
		geomType:    "SDO_GEOMETRY",
		blobType:    "BLOB",
		clobType:    "CLOB",
		varchar: func(size int, national bool) string {
			base := "VARCHAR2"
			if national {
				base = "NVARCHAR2"
			}
			return sized(base, size, 4000)
		},
		numeric: decimalType("NUMBER", 38),
	},
	SQLite: {
		name:        SQLite,
		reserved:    words(sqlReserved, sqliteReserved),
		placeholder: questionMark,
		quote:       doubleQuote,
		paging:      PagingLimitOffset,
		noLimit:     "-1",
		boolTrue:    true,
		boolFalse:   false,
		selectGeom:  func(col string) string { return col },
		bindGeom:    func(ph string) string { return ph },
		keyType:     "INTEGER",
		tsType:      "TIMESTAMP",
		intType:     "INTEGER",
		boolType:    "BOOLEAN",
		geomType:    "BLOB",
		blobType:    "BLOB",
		clobType:    "TEXT",
		varchar: func(size int, _ bool) string {
			if size <= 0 {
				return "TEXT"
			}
			return sized("VARCHAR", size, 0)
		},
		numeric: func(size, scale int) string {
			if scale == 0 {
				return "INTEGER"
			}
			return decimalType("NUMERIC", 38)(size, scale)
		},
	},
}

var driverDialects = map[string]Name{
	"pgx":       Postgres,
	"postgres":  Postgres,
	"mysql":     MySQL,
	"sqlserver": SQLServer,
	"mssql":     SQLServer,
	"godror":    Oracle,
	"oracle":    Oracle,
	"sqlite3":   SQLite,
	"sqlite":    SQLite,
}

// Get returns the dialect with the given name.
func Get(name Name) (Dialect, error) {
	d, ok := dialects[Name(strings.ToLower(string(name)))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
	return d, nil
}

// MustGet is Get that panics on an unknown name.
func MustGet(name Name) Dialect {
	d, err := Get(name)
	if err != nil {
		panic(err)
	}
	return d
}

// ForDriver returns the dialect for a database/sql driver name.
func ForDriver(driver string) (Dialect, error) {
	name, ok := driverDialects[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("%w: driver %q", ErrUnknownDialect, driver)
	}
	return Get(name)
}

// Names lists the supported dialects.
func Names() []Name {
	return []Name{Postgres, MySQL, SQLServer, Oracle, SQLite}
}
