package source

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens the SQLite file at path read-only.
func OpenSQLite(ctx context.Context, path string) (*Source, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open source: %w", err)
	}
	return &Source{db: db, dialect: sqliteDialect{}}, nil
}

// sqliteDSN builds a read-only URI filename. The path is percent-encoded
// so that '?' and '#' in it are not taken for the query or fragment.
func sqliteDSN(path string) string {
	p := (&url.URL{Path: path}).EscapedPath()
	if strings.HasPrefix(p, "/") {
		// An absolute path needs the empty authority: file:///abs/path.
		p = "//" + p
	}
	return "file:" + p + "?mode=ro"
}

type sqliteDialect struct{}

func (sqliteDialect) tableNames(ctx context.Context, db *sql.DB) ([]string, error) {
	return queryStrings(ctx, db, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name COLLATE BINARY ASC
	`)
}

func (sqliteDialect) columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, type, pk FROM pragma_table_info(?)", table)
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

func (sqliteDialect) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int][]ForeignKey)
	var order []int
	for rows.Next() {
		var id int
		var fk ForeignKey
		var to sql.NullString
		if err := rows.Scan(&id, &fk.Parent, &fk.Column, &to); err != nil {
			return nil, err
		}
		fk.ParentColumn = to.String
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = append(byID[id], fk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var fks []ForeignKey
	for _, id := range order {
		if parts := byID[id]; len(parts) == 1 {
			fks = append(fks, parts[0])
		}
	}
	return fks, nil
}

func (sqliteDialect) qualify(table string) string {
	return quoteIdent(table)
}
