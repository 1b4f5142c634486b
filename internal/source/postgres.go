package source

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DefaultSchema is the PostgreSQL schema reflected when none is given.
const DefaultSchema = "public"

// PostgresConfig locates a PostgreSQL database.
type PostgresConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
}

// DSN returns the connection URL.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	switch {
	case c.User != "" && c.Password != "":
		u.User = url.UserPassword(c.User, c.Password)
	case c.User != "":
		u.User = url.User(c.User)
	}
	return u.String()
}

// OpenPostgres connects to the database at dsn and reflects the tables of
// schema, DefaultSchema if empty.
func OpenPostgres(ctx context.Context, dsn, schema string) (*Source, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open source: %w", err)
	}
	return &Source{db: db, dialect: postgresDialect{schema: schema}}, nil
}

type postgresDialect struct {
	schema string
}

func (d postgresDialect) tableNames(ctx context.Context, db *sql.DB) ([]string, error) {
	return queryStrings(ctx, db, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name COLLATE "C"
	`, d.schema)
}

func (d postgresDialect) columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.column_name, c.data_type, COALESCE(k.ordinal_position, 0)
		FROM information_schema.columns c
		LEFT JOIN information_schema.table_constraints tc
			ON tc.table_schema = c.table_schema
			AND tc.table_name = c.table_name
			AND tc.constraint_type = 'PRIMARY KEY'
		LEFT JOIN information_schema.key_column_usage k
			ON k.constraint_schema = tc.constraint_schema
			AND k.constraint_name = tc.constraint_name
			AND k.table_name = c.table_name
			AND k.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`, d.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DeclType, &c.PK); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// foreignKeys reads single-column foreign keys whose parent lives in the
// same schema; references into other schemas have no node type to join.
func (d postgresDialect) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT pc.relname, a.attname, pa.attname
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_class pc ON pc.oid = con.confrelid
		JOIN pg_catalog.pg_namespace pn ON pn.oid = pc.relnamespace
		JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = con.conkey[1]
		JOIN pg_catalog.pg_attribute pa ON pa.attrelid = con.confrelid AND pa.attnum = con.confkey[1]
		WHERE con.contype = 'f'
			AND n.nspname = $1 AND pn.nspname = $1 AND c.relname = $2
			AND cardinality(con.conkey) = 1
		ORDER BY con.conname
	`, d.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Parent, &fk.Column, &fk.ParentColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (d postgresDialect) qualify(table string) string {
	return quoteIdent(d.schema) + "." + quoteIdent(table)
}
