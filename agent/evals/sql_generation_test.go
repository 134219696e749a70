//go:build evals

package evals_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/malbeclabs/waybill/agent/pkg/workflow"
	"github.com/malbeclabs/waybill/agent/pkg/workflow/logistics"
	"github.com/stretchr/testify/require"
)

// TestWaybill_Agent_Evals_Anthropic_SQLGenerationLiteral tests that SQL
// generation produces exactly what was asked for, nothing more.
func TestWaybill_Agent_Evals_Anthropic_SQLGenerationLiteral(t *testing.T) {
	t.Parallel()
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		t.Skip("ANTHROPIC_API_KEY not set, skipping eval test")
	}

	ctx := context.Background()
	debugLevel, debug := getDebugLevel()

	systemPrompt := buildGeneratePrompt(t)
	llmClient := workflow.NewAnthropicLLMClient(anthropic.ModelClaudeHaiku4_5, 1024, 0)

	testCases := []struct {
		name           string
		prompt         string
		mustContain    []string
		mustNotContain []string
	}{
		{
			name:        "simple count returns only a count",
			prompt:      "전체 주문이 몇 건인지 알려줘",
			mustContain: []string{"COUNT", "orders"},
			mustNotContain: []string{
				"GROUP BY", // count alone should not group
				"JOIN",     // no join was asked for
			},
		},
		{
			name:        "status filter uses canonical literal",
			prompt:      "배송 완료된 배송 건수를 알려줘",
			mustContain: []string{"deliveries", "delivered"},
			mustNotContain: []string{
				"배송 완료", // Korean display value must not appear as a stored literal
			},
		},
		{
			name:        "region grouping joins customers",
			prompt:      "지역별 주문 수를 보여줘",
			mustContain: []string{"region", "GROUP BY"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			response, err := llmClient.Complete(ctx, systemPrompt, tc.prompt)
			require.NoError(t, err)

			sql := extractSQL(response)
			if debug {
				if debugLevel == 1 {
					t.Logf("SQL: %s", truncate(sql, 200))
				} else {
					t.Logf("Full response:\n%s", response)
				}
			}
			require.NotEmpty(t, sql, "Should have extracted SQL from response")

			sqlLower := strings.ToLower(sql)
			require.True(t, strings.HasPrefix(strings.TrimSpace(strings.ToUpper(sql)), "SELECT"),
				"generated statement must be a SELECT: %s", sql)

			for _, must := range tc.mustContain {
				require.True(t, strings.Contains(sqlLower, strings.ToLower(must)),
					"SQL should contain '%s' but got: %s", must, sql)
			}
			for _, mustNot := range tc.mustNotContain {
				require.False(t, strings.Contains(sqlLower, strings.ToLower(mustNot)),
					"SQL should NOT contain '%s' but got: %s", mustNot, sql)
			}

			// Whatever the model produced must clear the deterministic gates.
			repaired := logistics.RepairStatusLiterals(sql)
			ok, reason := logistics.ValidateQuerySecurity(repaired)
			require.True(t, ok, "generated SQL failed the security gate (%s): %s", reason, sql)
			ok, reason = logistics.ValidateQuerySchema(repaired, logistics.ParseSchemaText(evalSchemaText))
			require.True(t, ok, "generated SQL failed the schema gate (%s): %s", reason, sql)
		})
	}
}

// TestWaybill_Agent_Evals_Anthropic_SQLRegenerationPreservesQuery tests
// that rejection feedback changes only what was asked.
func TestWaybill_Agent_Evals_Anthropic_SQLRegenerationPreservesQuery(t *testing.T) {
	t.Parallel()
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		t.Skip("ANTHROPIC_API_KEY not set, skipping eval test")
	}

	ctx := context.Background()
	_, debug := getDebugLevel()

	systemPrompt := buildGeneratePrompt(t)
	llmClient := workflow.NewAnthropicLLMClient(anthropic.ModelClaudeHaiku4_5, 1024, 0)

	question := "고객별 주문 수를 알려줘"
	previous := "SELECT c.customer_name, COUNT(*) AS order_count FROM orders o JOIN customers c ON o.customer_id = c.customer_id GROUP BY c.customer_name"
	feedback := "배송 완료된 주문만 집계해줘"

	// The regeneration prompt shape the workflow uses after a rejection.
	userPrompt := fmt.Sprintf("%s\n\n이전 쿼리:\n%s\n\n수정 요청: %s", question, previous, feedback)

	response, err := llmClient.Complete(ctx, systemPrompt, userPrompt)
	require.NoError(t, err)

	sql := extractSQL(response)
	if debug {
		t.Logf("Regenerated SQL:\n%s", sql)
	}
	require.NotEmpty(t, sql)

	sqlLower := strings.ToLower(sql)
	require.Contains(t, sqlLower, "customer_name", "grouping from the previous query must be preserved")
	require.Contains(t, sqlLower, "group by", "aggregation structure must be preserved")
	require.Contains(t, sqlLower, "delivered", "the requested filter must be applied with the canonical literal")
}

func buildGeneratePrompt(t *testing.T) string {
	prompts, err := logistics.LoadPrompts()
	require.NoError(t, err)
	system := strings.ReplaceAll(prompts.Generate, "{{SCHEMA}}", evalSchemaText)
	return strings.ReplaceAll(system, "{{LIMIT}}", "100")
}
