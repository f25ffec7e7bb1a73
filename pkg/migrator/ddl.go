package migrator

import (
	"fmt"
	"strings"

	"github.com/pthm/strata/dialect"
	"github.com/pthm/strata/internal/sqlgen"
	"github.com/pthm/strata/schema"
)

// MigrationsTable records applied migrations.
const MigrationsTable = "strata_migrations"

// Table is the DDL of one table: its CREATE TABLE statement followed by its
// indexes.
type Table struct {
	Name    string
	Section string
	Create  string
	Indexes []string
}

// Statements returns the table's statements in execution order.
func (t Table) Statements() []string {
	return append([]string{t.Create}, t.Indexes...)
}

type column struct {
	name string
	typ  string
	null bool
}

func createTable(name string, cols []column, pk ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", name)
	for i, c := range cols {
		null := " NOT NULL"
		if c.null {
			null = ""
		}
		fmt.Fprintf(&sb, "    %s %s%s", c.name, c.typ, null)
		if i < len(cols)-1 || len(pk) > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	if len(pk) > 0 {
		fmt.Fprintf(&sb, "    PRIMARY KEY (%s)\n", strings.Join(pk, ", "))
	}
	sb.WriteString(")")
	return sb.String()
}

func createIndex(name, table string, cols ...string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, strings.Join(cols, ", "))
}

// indexName derives an index name from a table name, without any schema
// qualifier.
func indexName(table, suffix string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		table = table[i+1:]
	}
	return "ix_" + table + "_" + suffix
}

// SystemTables returns the DDL of the tables the engine itself uses:
// sequences, ACL entries, groups, group membership and the migration log.
func SystemTables(d dialect.Dialect) []Table {
	key, text, intT := d.KeyType(), d.TextType, d.IntType()
	boolT := d.ColumnType(schema.FieldDescriptor{Type: schema.FieldBoolean})
	return []Table{
		{
			Name:    sqlgen.TableSequence,
			Section: "system",
			Create: createTable(sqlgen.TableSequence, []column{
				{name: "seq_name", typ: text(64)},
				{name: "seq_value", typ: key},
			}, "seq_name"),
		},
		{
			Name:    sqlgen.TableACL,
			Section: "system",
			Create: createTable(sqlgen.TableACL, []column{
				{name: "subject_id", typ: text(64)},
				{name: "type_id", typ: key},
				{name: "config_uid", typ: text(128), null: true},
				{name: "access_level", typ: intT},
			}),
			Indexes: []string{createIndex(indexName(sqlgen.TableACL, "subject"), sqlgen.TableACL, "subject_id")},
		},
		{
			Name:    sqlgen.TableGroup,
			Section: "system",
			Create: createTable(sqlgen.TableGroup, []column{
				{name: "group_id", typ: text(64)},
				{name: "name", typ: text(200)},
				{name: "security_type", typ: intT},
			}, "group_id"),
		},
		{
			Name:    sqlgen.TableGroupMember,
			Section: "system",
			Create: createTable(sqlgen.TableGroupMember, []column{
				{name: "group_id", typ: text(64)},
				{name: "principal_id", typ: text(64)},
				{name: "is_default", typ: boolT},
			}, "group_id", "principal_id"),
			Indexes: []string{createIndex(indexName(sqlgen.TableGroupMember, "principal"), sqlgen.TableGroupMember, "principal_id")},
		},
		{
			Name:    MigrationsTable,
			Section: "system",
			Create: createTable(MigrationsTable, []column{
				{name: "schema_checksum", typ: text(64)},
				{name: "codegen_version", typ: text(16)},
				{name: "applied_at", typ: d.TimestampType()},
			}),
		},
	}
}

// RepoTables returns the DDL of every type table and link table of cat.
// Table and column names that collide with a reserved word of d are quoted.
func RepoTables(cat *schema.Catalog, d dialect.Dialect) []Table {
	key := d.KeyType()
	var out []Table
	for _, td := range cat.Types() {
		name := d.Ident(td.QualifiedTable())
		raw := td.QualifiedTable()
		cols := []column{
			{name: sqlgen.ColPK, typ: key},
			{name: sqlgen.ColID, typ: key},
			{name: sqlgen.ColInserted, typ: d.TimestampType()},
			{name: sqlgen.ColDeleted, typ: d.TimestampType()},
			{name: sqlgen.ColParent, typ: key},
			{name: sqlgen.ColType, typ: key},
			{name: sqlgen.ColStatus, typ: d.IntType()},
			{name: sqlgen.ColOwner, typ: key},
		}
		indexes := []string{
			createIndex(d.Ident(indexName(raw, "version")), name, sqlgen.ColID, sqlgen.ColDeleted),
			createIndex(d.Ident(indexName(raw, "parent")), name, sqlgen.ColParent),
		}
		for _, f := range td.Fields {
			col := d.Ident(f.Name)
			// Uniqueness is checked against current versions only, so it
			// cannot be a database constraint.
			cols = append(cols, column{name: col, typ: d.ColumnType(f), null: true})
			switch {
			case f.IndexName != "":
				indexes = append(indexes, createIndex(d.Ident(f.IndexName), name, col))
			case f.Unique && f.Type != schema.FieldMultiText && f.Type != schema.FieldBlob && f.Type != schema.FieldGeometry:
				indexes = append(indexes, createIndex(d.Ident(indexName(raw, f.Name)), name, col))
			}
		}
		out = append(out, Table{
			Name:    name,
			Section: "repo",
			Create:  createTable(name, cols, sqlgen.ColPK),
			Indexes: indexes,
		})
	}

	for _, lt := range cat.Links() {
		name := d.Ident(lt.QualifiedTable())
		from, to := d.Ident(lt.FromColumn), d.Ident(lt.ToColumn)
		out = append(out, Table{
			Name:    name,
			Section: "link",
			Create: createTable(name, []column{
				{name: from, typ: key},
				{name: to, typ: key},
			}, from, to),
			Indexes: []string{createIndex(d.Ident(indexName(lt.QualifiedTable(), lt.ToColumn)), name, to)},
		})
	}
	return out
}
