package lake

import (
	"database/sql"
	"fmt"
	"strings"
)

// versionsTable tracks one version counter per table.
const versionsTable = "_lake_versions"

// insertChunkRows caps rows per multi-row INSERT statement.
const insertChunkRows = 500

// dialect renders SQL for a backend.
type dialect struct {
	name   string
	prefix string // Catalog/schema qualifier, e.g. "lake." or ""
	types  map[ColumnType]string

	// uniqueVersions is false for catalogs without key constraints (DuckLake).
	uniqueVersions bool
}

var duckdbDialect = dialect{
	name:           "duckdb",
	uniqueVersions: true,
	types: map[ColumnType]string{
		TypeInt8:    "TINYINT",
		TypeInt16:   "SMALLINT",
		TypeInt32:   "INTEGER",
		TypeInt64:   "BIGINT",
		TypeFloat64: "DOUBLE",
		TypeString:  "VARCHAR",
		TypeBool:    "BOOLEAN",
	},
}

var postgresDialect = dialect{
	name:           "postgres",
	uniqueVersions: true,
	types: map[ColumnType]string{
		TypeInt8:    "SMALLINT",
		TypeInt16:   "SMALLINT",
		TypeInt32:   "INTEGER",
		TypeInt64:   "BIGINT",
		TypeFloat64: "DOUBLE PRECISION",
		TypeString:  "TEXT",
		TypeBool:    "BOOLEAN",
	},
}

func (d dialect) withPrefix(prefix string) dialect {
	if prefix != "" && !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	d.prefix = prefix
	return d
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (d dialect) table(name string) string {
	return d.prefix + quoteIdent(name)
}

func (d dialect) createVersions() string {
	key := ""
	if d.uniqueVersions {
		key = " PRIMARY KEY"
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (table_name VARCHAR NOT NULL%s, version BIGINT NOT NULL)",
		d.table(versionsTable), key,
	)
}

func (d dialect) createTable(def TableDef) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		null := " NOT NULL"
		if c.Nullable {
			null = ""
		}
		cols[i] = quoteIdent(c.Name) + " " + d.types[c.Type] + null
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.table(def.Name), strings.Join(cols, ", "))
}

func (d dialect) selectVersion() string {
	return fmt.Sprintf("SELECT version FROM %s WHERE table_name = $1", d.table(versionsTable))
}

// insertVersion seeds the version row for $1 unless one exists.
func (d dialect) insertVersion() string {
	vt := d.table(versionsTable)
	q := fmt.Sprintf(
		"INSERT INTO %s (table_name, version) SELECT CAST($1 AS VARCHAR), 0 WHERE NOT EXISTS (SELECT 1 FROM %s WHERE table_name = $1)",
		vt, vt,
	)
	if d.uniqueVersions {
		q += " ON CONFLICT DO NOTHING"
	}
	return q
}

// bumpVersionIf increments the version only if it still equals $2.
func (d dialect) bumpVersionIf() string {
	return fmt.Sprintf(
		"UPDATE %s SET version = version + 1 WHERE table_name = $1 AND version = $2",
		d.table(versionsTable),
	)
}

func (d dialect) bumpVersion() string {
	return fmt.Sprintf("UPDATE %s SET version = version + 1 WHERE table_name = $1", d.table(versionsTable))
}

func (d dialect) selectAll(def TableDef) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = quoteIdent(c.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), d.table(def.Name))
}

func (d dialect) deleteAll(def TableDef) string {
	return "DELETE FROM " + d.table(def.Name)
}

// deleteWhere renders a DELETE for pred with $1..$n placeholders.
func (d dialect) deleteWhere(def TableDef, pred Predicate) (string, []any) {
	conds := make([]string, len(pred))
	args := make([]any, len(pred))
	for i, eq := range pred {
		conds[i] = fmt.Sprintf("%s = $%d", quoteIdent(eq.Column), i+1)
		args[i] = eq.Value
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.table(def.Name), strings.Join(conds, " AND ")), args
}

// insertChunks renders multi-row INSERT statements of at most insertChunkRows rows.
func (d dialect) insertChunks(def TableDef, rows []Row) []stmt {
	if len(rows) == 0 {
		return nil
	}

	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = quoteIdent(c.Name)
	}
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", d.table(def.Name), strings.Join(cols, ", "))

	var out []stmt
	for start := 0; start < len(rows); start += insertChunkRows {
		end := min(start+insertChunkRows, len(rows))
		chunk := rows[start:end]

		var sb strings.Builder
		sb.WriteString(head)
		args := make([]any, 0, len(chunk)*len(def.Columns))
		n := 1
		for i, r := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for j := range r {
				if j > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "$%d", n)
				n++
			}
			sb.WriteByte(')')
			args = append(args, r...)
		}
		out = append(out, stmt{query: sb.String(), args: args})
	}
	return out
}

type stmt struct {
	query string
	args  []any
}

// scanDests allocates scan destinations for def's columns.
func scanDests(def TableDef) []any {
	dests := make([]any, len(def.Columns))
	for i, c := range def.Columns {
		switch c.Type {
		case TypeFloat64:
			dests[i] = new(sql.NullFloat64)
		case TypeString:
			dests[i] = new(sql.NullString)
		case TypeBool:
			dests[i] = new(sql.NullBool)
		default:
			dests[i] = new(sql.NullInt64)
		}
	}
	return dests
}

// rowFromDests converts scanned destinations into a Row with exact column types.
func rowFromDests(def TableDef, dests []any) (Row, error) {
	row := make(Row, len(def.Columns))
	for i, c := range def.Columns {
		var v any
		switch d := dests[i].(type) {
		case *sql.NullFloat64:
			if d.Valid {
				v = d.Float64
			}
		case *sql.NullString:
			if d.Valid {
				v = d.String
			}
		case *sql.NullBool:
			if d.Valid {
				v = d.Bool
			}
		case *sql.NullInt64:
			if d.Valid {
				v = d.Int64
			}
		}
		cv, err := coerce(c, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		row[i] = cv
	}
	return row, nil
}
