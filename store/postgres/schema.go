package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaFetcher implements workflow.SchemaFetcher from the live
// information_schema catalog.
type SchemaFetcher struct {
	pool *pgxpool.Pool
}

// NewSchemaFetcher creates a schema fetcher for the public schema.
func NewSchemaFetcher(pool *pgxpool.Pool) *SchemaFetcher {
	return &SchemaFetcher{pool: pool}
}

// ListTables returns the user-visible table names.
func (f *SchemaFetcher) ListTables(ctx context.Context) ([]string, error) {
	rows, err := f.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// FetchSchema returns one "table: col type, col type" line per table,
// the format the workflow's schema parser consumes.
func (f *SchemaFetcher) FetchSchema(ctx context.Context, tables []string) (string, error) {
	query := `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'`
	args := []any{}
	if len(tables) > 0 {
		query += ` AND table_name = ANY($1)`
		args = append(args, tables)
	}
	query += ` ORDER BY table_name, ordinal_position`

	rows, err := f.pool.Query(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("fetch schema: %w", err)
	}
	defer rows.Close()

	type column struct{ name, typ string }
	order := []string{}
	byTable := map[string][]column{}
	for rows.Next() {
		var table, name, typ string
		if err := rows.Scan(&table, &name, &typ); err != nil {
			return "", fmt.Errorf("scan column: %w", err)
		}
		if _, seen := byTable[table]; !seen {
			order = append(order, table)
		}
		byTable[table] = append(byTable[table], column{name, typ})
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, table := range order {
		cols := make([]string, len(byTable[table]))
		for i, c := range byTable[table] {
			cols[i] = c.name + " " + c.typ
		}
		fmt.Fprintf(&b, "%s: %s\n", table, strings.Join(cols, ", "))
	}
	return b.String(), nil
}
