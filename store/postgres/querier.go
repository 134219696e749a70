package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/waybill/agent/pkg/workflow"
	"github.com/malbeclabs/waybill/api/metrics"
)

// Querier implements workflow.Querier against the logistics database.
// Driver errors come back as an error-shaped payload in the result, not
// a Go error; the workflow pattern-matches on them defensively.
type Querier struct {
	pool    *pgxpool.Pool
	maxRows int
}

// NewQuerier creates a querier that caps result sets at maxRows.
func NewQuerier(pool *pgxpool.Pool, maxRows int) *Querier {
	if maxRows <= 0 {
		maxRows = 100
	}
	return &Querier{pool: pool, maxRows: maxRows}
}

// Query executes one read-only statement. Rows beyond the cap are
// dropped and reported via Capped; a total_count window column, when
// the generated query carries one, populates Total.
func (q *Querier) Query(ctx context.Context, sql string) (workflow.QueryResult, error) {
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")

	start := time.Now()
	rows, err := q.pool.Query(ctx, sql)
	if err != nil {
		metrics.RecordPostgresQuery(time.Since(start), err)
		return workflow.QueryResult{SQL: sql, Error: err.Error()}, nil
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	result := workflow.QueryResult{SQL: sql, Columns: columns}
	for rows.Next() {
		if len(result.Rows) >= q.maxRows {
			result.Capped = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			metrics.RecordPostgresQuery(time.Since(start), err)
			return workflow.QueryResult{SQL: sql, Error: "scan error: " + err.Error()}, nil
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		metrics.RecordPostgresQuery(time.Since(start), err)
		return workflow.QueryResult{SQL: sql, Error: err.Error()}, nil
	}
	metrics.RecordPostgresQuery(time.Since(start), nil)

	result.Count = len(result.Rows)
	result.Total = totalFromWindowColumn(result.Rows)
	if result.Total > result.Count {
		result.Capped = true
	}
	return result, nil
}

// totalFromWindowColumn reads the COUNT(*) OVER () AS total_count value
// the generation prompt asks for on listing queries.
func totalFromWindowColumn(rows []map[string]any) int {
	if len(rows) == 0 {
		return 0
	}
	v, ok := rows[0]["total_count"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	}
	return 0
}
