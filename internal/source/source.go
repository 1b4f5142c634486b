// Package source reads relational databases for import into the graph.
//
// A Source reflects a database's tables, columns, primary keys and
// single-column foreign keys, and streams table rows. SQLite files and
// PostgreSQL schemas are supported. Nothing here writes to a source.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column describes one column of a source table.
type Column struct {
	Name     string
	DeclType string
	// PK is the column's 1-based position in the primary key, 0 if none.
	PK int
}

// ForeignKey is a single-column reference from a child table to a parent.
type ForeignKey struct {
	Parent       string
	Column       string
	ParentColumn string
}

// Table describes a source table.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// PrimaryKey returns the names of the primary key columns in key order.
func (t Table) PrimaryKey() []string {
	var pk []string
	for pos := 1; ; pos++ {
		found := false
		for _, c := range t.Columns {
			if c.PK == pos {
				pk = append(pk, c.Name)
				found = true
			}
		}
		if !found {
			return pk
		}
	}
}

// dialect holds the catalog queries of one database kind. foreignKeys
// leaves ParentColumn empty when a reference names the parent's primary
// key implicitly.
type dialect interface {
	tableNames(ctx context.Context, db *sql.DB) ([]string, error)
	columns(ctx context.Context, db *sql.DB, table string) ([]Column, error)
	foreignKeys(ctx context.Context, db *sql.DB, table string) ([]ForeignKey, error)
	qualify(table string) string
}

// Source is an open relational database.
type Source struct {
	db      *sql.DB
	dialect dialect
}

// Close closes the source database.
func (s *Source) Close() error {
	return s.db.Close()
}

// Tables reflects every user table with its columns and single-column
// foreign keys, ordered by name.
func (s *Source) Tables(ctx context.Context) ([]Table, error) {
	names, err := s.dialect.tableNames(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t := Table{Name: name}
		if t.Columns, err = s.dialect.columns(ctx, s.db, name); err != nil {
			return nil, fmt.Errorf("table info %s: %w", name, err)
		}
		tables = append(tables, t)
	}

	// Foreign keys that omit the parent column refer to the parent's
	// primary key, so resolve them once every table is known.
	byName := make(map[string]Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	for i := range tables {
		raw, err := s.dialect.foreignKeys(ctx, s.db, tables[i].Name)
		if err != nil {
			return nil, fmt.Errorf("foreign keys %s: %w", tables[i].Name, err)
		}
		for _, fk := range raw {
			if fk.ParentColumn == "" {
				pk := byName[fk.Parent].PrimaryKey()
				if len(pk) != 1 {
					continue
				}
				fk.ParentColumn = pk[0]
			}
			tables[i].ForeignKeys = append(tables[i].ForeignKeys, fk)
		}
	}
	return tables, nil
}

// ScanTable streams the given columns of every row of table to fn.
// []byte values are passed as strings.
func (s *Source) ScanTable(ctx context.Context, table string, columns []string, fn func(values []any) error) error {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), s.dialect.qualify(table))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("scan %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		if err := fn(values); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", table, err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
