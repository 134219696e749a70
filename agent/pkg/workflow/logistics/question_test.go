package logistics

import (
	"strings"
	"testing"

	"github.com/malbeclabs/waybill/agent/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare array",
			in:   `["지역별 주문", "제품별 주문"]`,
			want: `["지역별 주문", "제품별 주문"]`,
		},
		{
			name: "surrounding prose",
			in:   "질문을 나누면 다음과 같습니다:\n[\"a\", \"b\"]\n이상입니다.",
			want: `["a", "b"]`,
		},
		{
			name: "fenced",
			in:   "```json\n[\"a\", \"b\"]\n```",
			want: `["a", "b"]`,
		},
		{
			name: "no array passes through",
			in:   "NO_SPLIT",
			want: "NO_SPLIT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, extractJSONArray(tt.in))
		})
	}
}

func TestLastClarificationIndex(t *testing.T) {
	msgs := []workflow.Message{
		user("인기있는 상품?"),
		assistant("어떤 기준인가요?", workflow.Annotations{ClarificationPending: true}),
		user("판매량"),
		assistant("결과입니다", workflow.Annotations{}),
	}
	require.Equal(t, 1, lastClarificationIndex(msgs))
	require.Equal(t, -1, lastClarificationIndex(msgs[2:]))
}

func TestHasCompletedArtifact(t *testing.T) {
	t.Run("query result counts", func(t *testing.T) {
		msgs := []workflow.Message{
			{Role: workflow.RoleTool, Content: "a | b", Annotations: workflow.Annotations{QueryResult: true}},
		}
		require.True(t, hasCompletedArtifact(msgs))
	})

	t.Run("approval request counts", func(t *testing.T) {
		msgs := []workflow.Message{
			assistant("다음 쿼리를 실행하려고 합니다", workflow.Annotations{QueryApprovalPending: true}),
		}
		require.True(t, hasCompletedArtifact(msgs))
	})

	t.Run("long formatted answer counts", func(t *testing.T) {
		msgs := []workflow.Message{
			assistant(strings.Repeat("지난 달 주문은 총 120건이며 ", 10), workflow.Annotations{}),
		}
		require.True(t, hasCompletedArtifact(msgs))
	})

	t.Run("short chatter does not", func(t *testing.T) {
		msgs := []workflow.Message{
			assistant("안녕하세요!", workflow.Annotations{}),
			user("네"),
		}
		require.False(t, hasCompletedArtifact(msgs))
	})
}

func TestOriginalQuestionBefore(t *testing.T) {
	msgs := []workflow.Message{
		user("지역별 배송 현황 보여줘"),
		assistant("어떤 기준인가요?", workflow.Annotations{ClarificationPending: true}),
		user("배송 완료 기준"),
	}
	require.Equal(t, "지역별 배송 현황 보여줘", originalQuestionBefore(msgs, 1))

	// A negative index means "search the whole history".
	require.Equal(t, "배송 완료 기준", originalQuestionBefore(msgs, -1))

	require.Equal(t, "", originalQuestionBefore(msgs[:0], -1))
}

func TestOriginalQuestionBeforeSkipsConsumedReplies(t *testing.T) {
	t.Run("re-issued prompt", func(t *testing.T) {
		prompt := "데이터를 조회하시겠습니까, 문서를 검색하시겠습니까?"
		msgs := []workflow.Message{
			user("반품 기준이 뭐야"),
			assistant(prompt, workflow.Annotations{RoutingClarificationPending: true}),
			user("글쎄"),
			assistant(prompt, workflow.Annotations{RoutingClarificationPending: true}),
			user("문서 검색"),
		}
		require.Equal(t, "반품 기준이 뭐야", originalQuestionBefore(msgs, 3))
	})

	t.Run("rejected approval reply", func(t *testing.T) {
		msgs := []workflow.Message{
			user("고객별 주문 수를 알려줘"),
			assistant("다음 쿼리를 실행하려고 합니다", workflow.Annotations{QueryApprovalPending: true}),
			user("아니오, 배송 완료된 주문만 집계해줘"),
			assistant("쿼리 실행이 거부되었습니다.", workflow.Annotations{QueryRejected: true}),
			assistant("생성된 쿼리:\nSELECT 1", workflow.Annotations{}),
			assistant("다음 쿼리를 실행하려고 합니다", workflow.Annotations{QueryApprovalPending: true}),
		}
		require.Equal(t, "고객별 주문 수를 알려줘", originalQuestionBefore(msgs, 5))
	})

	t.Run("promoted new question is not skipped", func(t *testing.T) {
		msgs := []workflow.Message{
			user("고객별 주문 수를 알려줘"),
			assistant("다음 쿼리를 실행하려고 합니다", workflow.Annotations{QueryApprovalPending: true}),
			user("아니다, 배송이 지연된 건이 몇 건인지 조회해줘"),
			assistant("생성된 쿼리:\nSELECT 2", workflow.Annotations{}),
			assistant("이 쿼리를 실행할까요?", workflow.Annotations{QueryApprovalPending: true}),
		}
		require.Equal(t, "아니다, 배송이 지연된 건이 몇 건인지 조회해줘", originalQuestionBefore(msgs, 4))
	})
}
