//go:build evals

package evals_test

import (
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/joho/godotenv"
)

func init() {
	possiblePaths := []string{".env", "../../api/.env"}

	for _, path := range possiblePaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// getDebugLevel reads EVAL_DEBUG: 0/unset = quiet, 1 = summaries,
// 2 = full model responses.
func getDebugLevel() (int, bool) {
	v := os.Getenv("EVAL_DEBUG")
	if v == "" {
		return 0, false
	}
	level, err := strconv.Atoi(v)
	if err != nil || level <= 0 {
		return 0, false
	}
	return level, true
}

// extractSQL extracts SQL from a response that may contain markdown code blocks.
func extractSQL(response string) string {
	response = strings.TrimSpace(response)

	sqlBlockRe := regexp.MustCompile("(?s)```sql\\s*\\n?(.*?)\\n?```")
	if matches := sqlBlockRe.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	genericBlockRe := regexp.MustCompile("(?s)```\\s*\\n?(.*?)\\n?```")
	if matches := genericBlockRe.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	return response
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// evalSchemaText mirrors the logistics catalog the migrations create.
const evalSchemaText = `customers: customer_id integer, customer_name text, region text, created_at timestamp
products: product_id integer, product_name text, category text, unit_price numeric
warehouses: warehouse_id integer, warehouse_name text, region text
orders: order_id integer, customer_id integer, order_status text, order_date timestamp, total_amount numeric
order_items: order_item_id integer, order_id integer, product_id integer, quantity integer, unit_price numeric
deliveries: delivery_id integer, order_id integer, warehouse_id integer, status text, shipped_at timestamp, delivered_at timestamp
inventory: inventory_id integer, warehouse_id integer, product_id integer, quantity integer`
