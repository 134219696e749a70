package logistics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasAmbiguousTerm(t *testing.T) {
	tests := []struct {
		question string
		want     bool
	}{
		{"가장 인기있는 상품은 무엇인가요?", true},
		{"성과가 좋은 창고를 알려줘", true},
		{"가장 인기있는 상품을 판매량 기준으로 알려줘", false},
		{"지난달 매출이 좋은 지역은?", false},
		{"어제 배송된 주문 수를 알려줘", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, HasAmbiguousTerm(tt.question), "question: %s", tt.question)
	}
}

func TestApprovalAndRejectionReplies(t *testing.T) {
	for _, reply := range []string{"승인", "실행해주세요", "예", "ok", "Yes", "확인", "좋아요"} {
		require.True(t, IsApprovalReply(reply), "reply: %s", reply)
	}
	for _, reply := range []string{"거부", "취소할게요", "아니오", "아니요", "no", "수정해줘", "다시 만들어줘"} {
		require.True(t, IsRejectionReply(reply), "reply: %s", reply)
	}
	require.False(t, IsApprovalReply("어제 주문 내역"))
	require.False(t, IsRejectionReply("서울 창고 재고"))
}

func TestHasModificationIntent(t *testing.T) {
	require.True(t, HasModificationIntent("주문 데이터 삭제해줘"))
	require.True(t, HasModificationIntent("새 창고를 등록해줘"))
	require.True(t, HasModificationIntent("고객 정보 업데이트해줘"))

	// Read intent wins when both are present.
	require.False(t, HasModificationIntent("주문 삭제 내역을 조회해줘"))
	require.False(t, HasModificationIntent("삭제된 주문 목록 보여줘"))

	// Plain reads never trip.
	require.False(t, HasModificationIntent("어제 주문 수를 알려줘"))
}

func TestHasDocumentModificationIntent(t *testing.T) {
	require.True(t, HasDocumentModificationIntent("배송 정책 문서 작성"))
	require.True(t, HasDocumentModificationIntent("반품 규정 문서 수정"))
	require.False(t, HasDocumentModificationIntent("반품 정책 문서를 찾아줘"))
	require.False(t, HasDocumentModificationIntent("배송 절차가 어떻게 되나요"))
}

func TestHasReadIntent(t *testing.T) {
	require.True(t, HasReadIntent("배송 지연 주문을 조회해줘"))
	require.True(t, HasReadIntent("주문이 몇 건이야"))
	require.False(t, HasReadIntent("안녕하세요"))
}
