package logistics

import (
	"testing"

	"github.com/malbeclabs/waybill/agent/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func TestLooksLikeNewQuestion(t *testing.T) {
	require.False(t, looksLikeNewQuestion("승인"))
	require.False(t, looksLikeNewQuestion("판매량 기준"))
	require.True(t, looksLikeNewQuestion("가장 배송이 많은 지역은?"))
	require.True(t, looksLikeNewQuestion("어제 주문을 처리한 기사는 누구인가요?"))
	require.True(t, looksLikeNewQuestion("서울 지역에서 지난달에 접수된 반품 건수와 처리 현황을 정리해서 보여주세요"))
}

func user(content string) workflow.Message {
	return workflow.Message{Role: workflow.RoleUser, Content: content}
}

func assistant(content string, ann workflow.Annotations) workflow.Message {
	return workflow.Message{Role: workflow.RoleAssistant, Content: content, Annotations: ann}
}

func TestResolveTurn(t *testing.T) {
	approvalPrompt := assistant("다음 쿼리를 실행하려고 합니다: ...", workflow.Annotations{
		QueryApprovalPending: true,
		PendingQuery:         "SELECT 1",
		NeedsUserResponse:    true,
		WorkflowPaused:       true,
	})
	routePrompt := assistant(routingClarificationPrompt, workflow.Annotations{
		RoutingClarificationPending: true,
		NeedsUserResponse:           true,
		WorkflowPaused:              true,
	})
	clarifyPrompt := assistant("어떤 기준으로 비교할까요?", workflow.Annotations{
		ClarificationPending: true,
		NeedsUserResponse:    true,
		WorkflowPaused:       true,
	})

	tests := []struct {
		name string
		msgs []workflow.Message
		want string
	}{
		{
			name: "fresh thread",
			msgs: []workflow.Message{user("어제 주문 수 알려줘")},
			want: nodeAnalyzeQuestion,
		},
		{
			name: "approval reply resumes approval",
			msgs: []workflow.Message{user("어제 주문 수"), approvalPrompt, user("승인")},
			want: nodeProcessApproval,
		},
		{
			name: "rejection reply resumes approval",
			msgs: []workflow.Message{user("어제 주문 수"), approvalPrompt, user("아니오, 조건을 바꿔줘")},
			want: nodeProcessApproval,
		},
		{
			name: "new question clears pending approval",
			msgs: []workflow.Message{user("어제 주문 수"), approvalPrompt, user("가장 배송이 많은 창고는 어디인가요?")},
			want: nodeAnalyzeQuestion,
		},
		{
			name: "unrecognized short reply still resumes approval",
			msgs: []workflow.Message{user("어제 주문 수"), approvalPrompt, user("음...")},
			want: nodeProcessApproval,
		},
		{
			name: "routing clarification reply",
			msgs: []workflow.Message{user("배송 기준"), routePrompt, user("문서 검색")},
			want: nodeClarifyRoute,
		},
		{
			name: "new question clears routing clarification",
			msgs: []workflow.Message{user("배송 기준"), routePrompt, user("어제 주문을 처리한 기사는 누구인가요?")},
			want: nodeAnalyzeQuestion,
		},
		{
			name: "ambiguity clarification reply",
			msgs: []workflow.Message{user("인기 상품?"), clarifyPrompt, user("판매량 기준")},
			want: nodeClarifyQuestion,
		},
		{
			name: "completed turn starts fresh",
			msgs: []workflow.Message{
				user("어제 주문 수"),
				assistant("총 12건입니다.", workflow.Annotations{}),
				user("오늘은?"),
			},
			want: nodeAnalyzeQuestion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resolveTurn(tt.msgs).node)
		})
	}
}
