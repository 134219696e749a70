package logistics

import (
	"strings"
	"testing"

	"github.com/malbeclabs/waybill/agent/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func TestCleanSQL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT 1;", "SELECT 1"},
		{"```sql\nSELECT order_id FROM orders\n```", "SELECT order_id FROM orders"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"다음 쿼리를 제안합니다:\n```sql\nSELECT 1;\n```\n확인해주세요.", "SELECT 1"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, cleanSQL(tt.in))
	}
}

func TestExtractRejectionFeedback(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"아니오", ""},
		{"거부", ""},
		{"아니오, 배송 완료 상태만 조회해줘", "배송 완료 상태만 조회해줘"},
		{"수정해줘, 지역별로 묶어서", "해줘, 지역별로 묶어서"},
		{"no, group by region", "group by region"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, extractRejectionFeedback(tt.in), "reply: %s", tt.in)
	}
}

func TestRenderResultTable(t *testing.T) {
	res := workflow.QueryResult{
		Columns: []string{"name", "cnt"},
		Rows: []map[string]any{
			{"name": "서울창고", "cnt": 12},
			{"name": "부산창고", "cnt": 7},
		},
		Count: 2,
	}
	out := renderResultTable(res, 100)
	require.Equal(t, "name | cnt\n서울창고 | 12\n부산창고 | 7\n", out)

	require.Equal(t, "조회된 결과가 없습니다. (0건)", renderResultTable(workflow.QueryResult{}, 100))
}

func TestCountFraming(t *testing.T) {
	require.Equal(t, "총 250건 중 상위 100건만 표시",
		countFraming(workflow.QueryResult{Count: 100, Total: 250, Capped: true}))
	require.Equal(t, "상위 100건만 조회됨, 전체 데이터가 더 많을 수 있음",
		countFraming(workflow.QueryResult{Count: 100, Capped: true}))
	require.Equal(t, "전체 7건 모두 표시",
		countFraming(workflow.QueryResult{Count: 7}))
}

func TestSameQueryRepeats(t *testing.T) {
	draft := func(sql string) workflow.Message {
		return workflow.Message{
			Role:    workflow.RoleAssistant,
			Content: "생성된 쿼리:\n" + sql,
			ToolInvocations: []workflow.ToolInvocation{
				{Name: "run_query", Args: map[string]any{"sql": sql}},
			},
		}
	}

	msgs := []workflow.Message{
		user("어제 주문 수"),
		draft("SELECT count(*) FROM orders"),
		draft("SELECT count(*) FROM orders"),
		draft("SELECT count(*) FROM deliveries"),
		draft("SELECT count(*) FROM orders"),
	}
	require.Equal(t, 3, sameQueryRepeats(msgs, sameQueryWindow))
	require.Equal(t, 0, sameQueryRepeats([]workflow.Message{user("hi")}, sameQueryWindow))
}

func TestHasRecentErrorResult(t *testing.T) {
	msgs := []workflow.Message{
		user("주문 수"),
		{Role: workflow.RoleTool, ToolName: "run_query", Content: "쿼리 실행 오류: relation does not exist",
			Annotations: workflow.Annotations{QueryResult: true, ResultIsError: true}},
	}
	require.True(t, hasRecentErrorResult(msgs, errorLookbackWindow))

	// Outside the lookback window the error no longer blocks.
	for i := 0; i < errorLookbackWindow; i++ {
		msgs = append(msgs, user("다른 질문"))
	}
	require.False(t, hasRecentErrorResult(msgs, errorLookbackWindow))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
	long := strings.Repeat("x", 20)
	out := truncate(long, 10)
	require.True(t, strings.HasPrefix(out, "xxxxxxxxxx"))
	require.Contains(t, out, "truncated")
}
