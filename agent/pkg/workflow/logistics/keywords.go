package logistics

import "strings"

// Centrally defined keyword tables. Transition predicates and security
// gates match against these, never against strings embedded in prompt
// text, so the lists stay enumerable by tests.

// AmbiguousKeywords are subjective-quality terms that force a
// clarification round when no concrete metric accompanies them.
var AmbiguousKeywords = []string{
	"성과", "인기", "좋은", "나쁜", "많은", "적은", "잘", "나쁘게", "인기있는", "인기 있는",
	"best", "popular", "top",
}

// MetricKeywords are concrete-metric terms whose presence resolves a
// subjective question on its own.
var MetricKeywords = []string{
	"매출", "판매량", "판매 건수", "건수", "수익", "금액", "개수", "수량", "기간",
	"revenue", "count", "sales", "amount",
}

// ApprovalKeywords mark a user reply as approving a pending query.
var ApprovalKeywords = []string{
	"승인", "실행", "예", "ok", "yes", "y", "확인", "좋아", "좋아요",
}

// RejectionKeywords mark a user reply as rejecting a pending query.
var RejectionKeywords = []string{
	"거부", "취소", "아니오", "아니요", "no", "n", "수정", "다시", "재생성",
}

// ReadIntentKeywords force routing to proceed as a read request even
// when a table name superficially resembles a dangerous keyword.
var ReadIntentKeywords = []string{
	"조회", "보여줘", "알려줘", "보기", "목록", "리스트", "조회해줘", "찾아줘", "검색", "확인",
	"몇", "개수", "얼마",
	"show", "list", "select", "find", "count",
}

// ModificationPhrases are standalone action phrases that force REJECT
// before intent classification. Matching is on complete phrases, never
// substrings of table names.
var ModificationPhrases = []string{
	"업데이트 해줘", "업데이트해줘", "수정 해줘", "수정해줘", "변경 해줘", "변경해줘",
	"삭제 해줘", "삭제해줘", "추가 해줘", "추가해줘", "생성 해줘", "생성해줘",
	"만들어줘", "만들어 줘", "등록 해줘", "등록해줘", "입력 해줘", "입력해줘",
	"주문 삭제", "테이블 생성", "데이터 변경", "데이터 삭제",
}

// DocumentModificationKeywords gate the RAG pipeline: any hit rejects
// the request before retrieval.
var DocumentModificationKeywords = []string{
	"문서 생성", "문서 수정", "문서 삭제", "문서 작성", "문서 편집", "문서 변경",
	"pdf 생성", "pdf 수정", "pdf 삭제", "pdf 작성", "pdf 편집",
	"create document", "modify document", "delete document", "write document", "edit document",
	"업데이트", "수정", "삭제", "생성", "작성", "편집", "변경",
}

// DangerousSQLKeywords are statement verbs that must not appear in a
// candidate query. Matched on complete word tokens of the SQL text.
var DangerousSQLKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "TRUNCATE",
	"ALTER", "CREATE", "GRANT", "REVOKE", "EXEC", "EXECUTE",
	"MERGE", "REPLACE", "LOAD", "COPY", "IMPORT", "EXPORT",
}

// SystemTableNames are catalog/metadata tables a candidate query may
// never touch.
var SystemTableNames = []string{
	"SQLITE_MASTER", "SQLITE_TEMP_MASTER", "SQLITE_SEQUENCE",
	"PG_CATALOG", "INFORMATION_SCHEMA",
}

// StatusLiteralRepairs maps localized status literals the model commonly
// emits to the canonical stored enum values. This is a safety net for a
// known mistake, not a general translator; order matters so the
// two-word forms rewrite before their substrings.
var StatusLiteralRepairs = []struct {
	From string
	To   string
}{
	{"'배송 완료'", "'delivered'"},
	{"'배송완료'", "'delivered'"},
	{"'배송 지연'", "'delayed'"},
	{"'배송중'", "'shipped'"},
	{"'대기중'", "'pending'"},
	{"'지연'", "'delayed'"},
}

// ReferenceIDColumns are identifier columns acceptable to surface to the
// user numerically even when a human-readable name column exists.
var ReferenceIDColumns = []string{"order_id", "delivery_id", "warehouse_id"}

// Fixed user-facing messages.
const (
	MsgSecurityRefusal    = "죄송합니다. 데이터 수정, 삭제, 생성 등의 작업은 보안상의 이유로 허용되지 않습니다. 읽기 전용 조회만 가능합니다."
	MsgDocumentRefusal    = "죄송합니다. 문서 생성, 수정, 삭제 등의 작업은 보안상의 이유로 허용되지 않습니다. 문서 조회만 가능합니다."
	MsgOutOfScope         = "죄송합니다. 물류 데이터 조회 및 문서 검색과 관련된 질문만 답변할 수 있습니다."
	MsgSelectOnly         = "SELECT 쿼리만 실행할 수 있습니다."
	MsgEmptyQuery         = "빈 쿼리는 실행할 수 없습니다."
	MsgSystemTableAccess  = "시스템/메타데이터 테이블에 대한 직접 접근은 허용되지 않습니다."
	MsgTurnIncomplete     = "요청을 완료하지 못했습니다. 질문을 조금 더 구체적으로 바꿔서 다시 시도해주세요."
	MsgRejectAcknowledged = "쿼리 실행을 취소했습니다. 다른 질문이 있으시면 말씀해주세요."
)

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// HasAmbiguousTerm reports whether the question contains a subjective
// term with no concrete metric to anchor it.
func HasAmbiguousTerm(question string) bool {
	q := strings.ToLower(question)
	return containsAny(q, AmbiguousKeywords) && !containsAny(q, MetricKeywords)
}

// IsApprovalReply reports whether a user reply approves a pending query.
func IsApprovalReply(reply string) bool {
	return containsAny(strings.ToLower(strings.TrimSpace(reply)), ApprovalKeywords)
}

// IsRejectionReply reports whether a user reply rejects a pending query.
func IsRejectionReply(reply string) bool {
	return containsAny(strings.ToLower(strings.TrimSpace(reply)), RejectionKeywords)
}

// HasReadIntent reports whether the question carries an explicit
// read-intent keyword.
func HasReadIntent(question string) bool {
	return containsAny(strings.ToLower(question), ReadIntentKeywords)
}

// HasModificationIntent reports whether the question contains an
// explicit modification action phrase. Read intent wins when both are
// present: "주문 삭제 내역 조회해줘" is a read request about deletions.
func HasModificationIntent(question string) bool {
	q := strings.ToLower(question)
	if containsAny(q, ReadIntentKeywords) {
		return false
	}
	return containsAny(q, ModificationPhrases)
}

// HasDocumentModificationIntent gates the RAG pipeline.
func HasDocumentModificationIntent(question string) bool {
	q := strings.ToLower(question)
	if containsAny(q, ReadIntentKeywords) {
		return false
	}
	return containsAny(q, DocumentModificationKeywords)
}
