package postgres

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/waybill/agent/pkg/workflow"
	storetesting "github.com/malbeclabs/waybill/store/testing"
	"github.com/stretchr/testify/require"
)

// newTestPool starts a disposable Postgres, runs migrations, and returns
// a connected pool.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	log := slog.Default()

	db, err := storetesting.NewPostgresDB(ctx, log, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(ctx, log, db.DSN()))

	pool, err := NewPool(ctx, db.DSN())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestCheckpointStoreRoundTrip(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	store := NewCheckpointStore(pool)

	msgs, err := store.History(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, msgs)

	in := []workflow.Message{
		{
			ID:      "m1",
			Role:    workflow.RoleUser,
			Content: "고객별 주문 수를 알려줘",
		},
		{
			ID:      "m2",
			Role:    workflow.RoleAssistant,
			Content: "생성된 쿼리:\nSELECT 1",
			ToolInvocations: []workflow.ToolInvocation{
				{ID: "i1", Name: "run_query", Args: map[string]any{"sql": "SELECT 1"}},
			},
			Annotations: workflow.Annotations{
				QueryApprovalPending: true,
				PendingQuery:         "SELECT 1",
				NeedsUserResponse:    true,
				WorkflowPaused:       true,
			},
			CreatedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, store.Append(ctx, "t1", in...))

	out, err := store.History(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.Equal(t, "m1", out[0].ID)
	require.Equal(t, workflow.RoleUser, out[0].Role)
	require.Equal(t, in[0].Content, out[0].Content)
	require.False(t, out[0].CreatedAt.IsZero(), "unset timestamps get stamped on insert")

	require.Equal(t, "m2", out[1].ID)
	require.Len(t, out[1].ToolInvocations, 1)
	require.Equal(t, "run_query", out[1].ToolInvocations[0].Name)
	require.Equal(t, "SELECT 1", out[1].ToolInvocations[0].Args["sql"])
	require.True(t, out[1].Annotations.QueryApprovalPending)
	require.Equal(t, "SELECT 1", out[1].Annotations.PendingQuery)

	// A second append preserves order across turns.
	require.NoError(t, store.Append(ctx, "t1", workflow.Message{ID: "m3", Role: workflow.RoleUser, Content: "승인"}))
	out, err = store.History(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "m3", out[2].ID)

	// Threads are isolated.
	other, err := store.History(ctx, "t2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestQuerier(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO customers (customer_name, region)
		SELECT '고객' || n, CASE WHEN n % 2 = 0 THEN '서울' ELSE '부산' END
		FROM generate_series(1, 10) AS n`)
	require.NoError(t, err)

	t.Run("rows and columns", func(t *testing.T) {
		q := NewQuerier(pool, 100)
		res, err := q.Query(ctx, "SELECT customer_name, region FROM customers ORDER BY customer_id;")
		require.NoError(t, err)
		require.Empty(t, res.Error)
		require.Equal(t, []string{"customer_name", "region"}, res.Columns)
		require.Equal(t, 10, res.Count)
		require.Equal(t, "고객1", res.Rows[0]["customer_name"])
		require.False(t, res.Capped)
	})

	t.Run("cap applies", func(t *testing.T) {
		q := NewQuerier(pool, 3)
		res, err := q.Query(ctx, "SELECT customer_name FROM customers ORDER BY customer_id")
		require.NoError(t, err)
		require.Equal(t, 3, res.Count)
		require.True(t, res.Capped)
	})

	t.Run("total from window column", func(t *testing.T) {
		q := NewQuerier(pool, 4)
		res, err := q.Query(ctx, `
			SELECT customer_name, COUNT(*) OVER () AS total_count
			FROM customers ORDER BY customer_id`)
		require.NoError(t, err)
		require.Equal(t, 4, res.Count)
		require.Equal(t, 10, res.Total)
		require.True(t, res.Capped)
	})

	t.Run("driver error is payload not Go error", func(t *testing.T) {
		q := NewQuerier(pool, 100)
		res, err := q.Query(ctx, "SELECT * FROM no_such_table")
		require.NoError(t, err)
		require.Contains(t, res.Error, "no_such_table")
	})
}

func TestSchemaFetcher(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	f := NewSchemaFetcher(pool)

	tables, err := f.ListTables(ctx)
	require.NoError(t, err)
	require.Contains(t, tables, "orders")
	require.Contains(t, tables, "deliveries")
	require.Contains(t, tables, "customers")

	text, err := f.FetchSchema(ctx, nil)
	require.NoError(t, err)
	require.Contains(t, text, "orders: ")
	require.Contains(t, text, "order_status")

	// The description round-trips through the workflow's parser.
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		require.Contains(t, line, ": ")
	}

	scoped, err := f.FetchSchema(ctx, []string{"orders"})
	require.NoError(t, err)
	require.Contains(t, scoped, "orders: ")
	require.NotContains(t, scoped, "deliveries: ")
}
