package logistics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/waybill/agent/pkg/workflow"
)

// Loop-prevention bounds for the SQL pipeline.
const (
	sameQueryLimit       = 3  // identical query generated this many times terminates the turn
	sameQueryWindow      = 20 // messages examined for repeats
	errorLookbackWindow  = 5  // messages examined for error-shaped results
	resultArtifactLimit  = 5  // distinct query results tolerated per window
	resultArtifactWindow = 30
	maxResultChars       = 5000 // result text shown to the model
)

// listTables validates any table the user explicitly named against the
// live catalog before anything else runs. Exact-name fidelity is a hard
// requirement: a misspelled table terminates the turn with the name as
// written, never a silent correction to a similar real table.
func (a *Agent) listTables(ctx context.Context, s *State) (string, error) {
	tables, err := a.cfg.Schema.ListTables(ctx)
	if err != nil {
		s.appendTool("list_tables", "오류: "+err.Error(), workflow.Annotations{ResultIsError: true})
		s.appendAssistant("테이블 목록을 가져오는 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요.", workflow.Annotations{})
		return nodeEnd, nil
	}

	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[strings.ToLower(t)] = true
	}
	for _, named := range ExplicitTableNames(s.Question) {
		if !known[named] {
			s.appendAssistant(
				fmt.Sprintf("'%s' 테이블은 존재하지 않습니다. 테이블 이름을 확인하고 질문을 다시 작성해주세요.", named),
				workflow.Annotations{},
			)
			return nodeEnd, nil
		}
	}

	s.appendTool("list_tables", strings.Join(tables, ", "), workflow.Annotations{})
	return nodeGetSchema, nil
}

// getSchema fetches the catalog description used by generation and
// validation.
func (a *Agent) getSchema(ctx context.Context, s *State) (string, error) {
	text, err := a.cfg.Schema.FetchSchema(ctx, nil)
	if err != nil {
		s.appendTool("get_schema", "오류: "+err.Error(), workflow.Annotations{ResultIsError: true})
		s.appendAssistant("스키마 정보를 가져오는 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요.", workflow.Annotations{})
		return nodeEnd, nil
	}
	s.appendTool("get_schema", text, workflow.Annotations{})

	if strings.Contains(text, "존재하지 않습니다") {
		s.appendAssistant(text, workflow.Annotations{})
		return nodeEnd, nil
	}

	s.SchemaText = text
	s.Schema = ParseSchemaText(text)
	return nodeGenerateQuery, nil
}

// ensureSchema loads the catalog when generation is entered without
// passing through get_schema, e.g. regeneration after a rejection on a
// resumed turn.
func (a *Agent) ensureSchema(ctx context.Context, s *State) error {
	if s.Schema != nil {
		return nil
	}
	text, err := a.cfg.Schema.FetchSchema(ctx, nil)
	if err != nil {
		return fmt.Errorf("fetch schema: %w", err)
	}
	s.SchemaText = text
	s.Schema = ParseSchemaText(text)
	return nil
}

// generateQuery produces a candidate query, unless the conversation
// already holds unconsumed results for the newest question, in which
// case it skips straight to formatting. Loop guards run first.
func (a *Agent) generateQuery(ctx context.Context, s *State) (string, error) {
	if guard := a.checkLoopGuards(s); guard != "" {
		a.logInfo("loop guard tripped", "thread", s.ThreadID, "guard", guard)
		s.appendAssistant(MsgTurnIncomplete, workflow.Annotations{})
		return nodeEnd, nil
	}

	// History-position check: results that arrived after the newest
	// user question are unconsumed and should be formatted, not
	// regenerated over.
	_, userIdx := s.lastUser()
	if resultIdx := lastQueryResultIndex(s.Messages); resultIdx > userIdx {
		return nodeFormatResults, nil
	}

	if err := a.ensureSchema(ctx, s); err != nil {
		return "", err
	}

	system := strings.ReplaceAll(a.prompts.Generate, "{{SCHEMA}}", s.SchemaText)
	system = strings.ReplaceAll(system, "{{LIMIT}}", fmt.Sprintf("%d", a.cfg.LimitForLargeResults))

	prompt := s.Question
	if s.Feedback != "" {
		if prev := lastDraftQuery(s.Messages); prev != "" {
			prompt = fmt.Sprintf("%s\n\n이전 쿼리:\n%s\n\n수정 요청: %s", s.Question, prev, s.Feedback)
		} else {
			prompt = fmt.Sprintf("%s\n\n수정 요청: %s", s.Question, s.Feedback)
		}
		s.Feedback = ""
	}

	resp, err := a.cfg.LLM.Complete(ctx, system, prompt, workflow.WithCacheControl())
	if err != nil {
		return "", fmt.Errorf("generate query: %w", err)
	}
	query := cleanSQL(resp)

	draft := s.append(workflow.Message{
		ID:      uuid.NewString(),
		Role:    workflow.RoleAssistant,
		Content: "생성된 쿼리:\n" + query,
		ToolInvocations: []workflow.ToolInvocation{{
			ID:   uuid.NewString(),
			Name: "run_query",
			Args: map[string]any{"sql": query},
		}},
	})
	s.PendingQuery = query
	a.logInfo("query generated", "thread", s.ThreadID, "sql", query, "draft", draft.ID)
	return nodeCheckQuery, nil
}

// checkQuery repairs known status-literal mistakes, then re-validates
// security and schema. Any failure revises the draft in place (same
// message identity) with a user-facing explanation and short-circuits
// the pipeline.
func (a *Agent) checkQuery(_ context.Context, s *State) (string, error) {
	la := s.lastAssistant()
	if la == nil || len(la.ToolInvocations) == 0 {
		return nodeEnd, nil
	}

	repaired := RepairStatusLiterals(s.PendingQuery)
	if repaired != s.PendingQuery {
		a.logInfo("status literals repaired", "thread", s.ThreadID)
		s.PendingQuery = repaired
		la.Content = "생성된 쿼리:\n" + repaired
		la.ToolInvocations[0].Args["sql"] = repaired
	}

	if ok, reason := ValidateQuerySecurity(s.PendingQuery); !ok {
		la.Content = reason
		la.ToolInvocations = nil
		return nodeEnd, nil
	}
	if s.Schema != nil {
		if ok, reason := ValidateQuerySchema(s.PendingQuery, s.Schema); !ok {
			la.Content = reason
			la.ToolInvocations = nil
			return nodeEnd, nil
		}
	}

	return nodeRequestApproval, nil
}

// requestApproval suspends the pipeline on the human-in-the-loop gate.
// The exact query and its invocation descriptor ride in the message
// annotations so approval can re-materialize the invocation without
// re-parsing display text.
func (a *Agent) requestApproval(_ context.Context, s *State) (string, error) {
	invocation := &workflow.ToolInvocation{
		ID:   uuid.NewString(),
		Name: "run_query",
		Args: map[string]any{"sql": s.PendingQuery},
	}
	if la := s.lastAssistant(); la != nil && len(la.ToolInvocations) > 0 {
		invocation = &la.ToolInvocations[0]
	}

	content := fmt.Sprintf(
		"다음 쿼리를 실행하려고 합니다:\n\n%s\n\n실행하시려면 '예' 또는 '승인', 취소하시려면 '아니오'라고 답해주세요. 수정이 필요하면 '아니오, [수정 내용]' 형식으로 알려주세요.",
		s.PendingQuery,
	)
	s.appendAssistant(content, workflow.Annotations{
		QueryApprovalPending: true,
		PendingQuery:         s.PendingQuery,
		PendingInvocation:    invocation,
		OriginalQuestion:     s.Question,
		NeedsUserResponse:    true,
		WorkflowPaused:       true,
	})
	s.suspend()
	return nodeEnd, nil
}

// processApproval consumes the user's reply to a pending approval.
// Approval executes the pending query byte-identical; rejection with
// correction text loops back to generation with the text as feedback;
// an unrecognized reply re-issues the same prompt rather than guessing.
func (a *Agent) processApproval(_ context.Context, s *State) (string, error) {
	pending := lastPendingApproval(s.Messages)
	if pending == nil {
		return nodeAnalyzeQuestion, nil
	}
	user, _ := s.lastUser()
	if user == nil {
		s.suspend()
		return nodeEnd, nil
	}
	reply := strings.TrimSpace(user.Content)

	switch {
	case IsApprovalReply(reply):
		s.PendingQuery = pending.Annotations.PendingQuery
		s.Question = approvedQuestion(s.Messages, pending)
		s.appendAssistant("쿼리 실행이 승인되었습니다.", workflow.Annotations{QueryApproved: true})
		a.logInfo("query approved", "thread", s.ThreadID, "sql", s.PendingQuery)
		return nodeRunQuery, nil

	case IsRejectionReply(reply):
		feedback := extractRejectionFeedback(reply)
		s.Question = approvedQuestion(s.Messages, pending)
		s.appendAssistant("쿼리 실행이 거부되었습니다.", workflow.Annotations{QueryRejected: true})
		if feedback != "" {
			s.Feedback = feedback
			a.logInfo("query rejected with feedback", "thread", s.ThreadID, "feedback", feedback)
			return nodeGenerateQuery, nil
		}
		s.appendAssistant(MsgRejectAcknowledged, workflow.Annotations{})
		return nodeEnd, nil
	}

	// Unrecognized reply: re-issue the same approval prompt.
	s.appendAssistant(pending.Content, workflow.Annotations{
		QueryApprovalPending: true,
		PendingQuery:         pending.Annotations.PendingQuery,
		PendingInvocation:    pending.Annotations.PendingInvocation,
		OriginalQuestion:     pending.Annotations.OriginalQuestion,
		NeedsUserResponse:    true,
		WorkflowPaused:       true,
	})
	s.suspend()
	return nodeEnd, nil
}

// approvedQuestion recovers the question a pending approval belongs
// to, so regeneration and formatting run against the question, not the
// approve/reject reply that resumed the turn.
func approvedQuestion(msgs []workflow.Message, pending *workflow.Message) string {
	if q := pending.Annotations.OriginalQuestion; q != "" {
		return q
	}
	return originalQuestionBefore(msgs, indexOf(msgs, pending.ID))
}

// runQuery executes exactly one query per pass and records the exact
// text executed.
func (a *Agent) runQuery(ctx context.Context, s *State) (string, error) {
	query := s.PendingQuery
	if query == "" {
		return nodeEnd, nil
	}

	if a.cfg.EnableQueryLogging {
		a.logInfo("executing query", "thread", s.ThreadID, "sql", query)
	}

	qctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := a.cfg.Querier.Query(qctx, query)
	duration := time.Since(start)
	if err != nil {
		res = workflow.QueryResult{SQL: query, Error: err.Error()}
	}

	if a.cfg.Audit != nil {
		entry := workflow.AuditEntry{
			ThreadID: s.ThreadID,
			TurnID:   s.TurnID,
			Route:    string(RouteSQL),
			SQL:      query,
			RowCount: res.Count,
			Duration: duration,
			Error:    res.Error,
			At:       start,
		}
		if aerr := a.cfg.Audit.Record(ctx, entry); aerr != nil && a.cfg.Logger != nil {
			a.cfg.Logger.Warn("audit record failed", "error", aerr)
		}
	}

	if res.Error != "" {
		s.appendTool("run_query", "쿼리 실행 오류: "+res.Error, workflow.Annotations{
			QueryResult:   true,
			ExecutedSQL:   query,
			ResultIsError: true,
		})
		s.appendAssistant("쿼리 실행 중 오류가 발생했습니다. 질문을 바꿔서 다시 시도해주세요.", workflow.Annotations{})
		return nodeEnd, nil
	}

	s.appendTool("run_query", renderResultTable(res, a.cfg.MaxQueryResults), workflow.Annotations{
		QueryResult: true,
		ExecutedSQL: query,
	})
	s.lastResult = &res
	return nodeFormatResults, nil
}

// formatResults converts raw rows into the Korean answer, enforcing the
// name-over-identifier and count-framing contracts.
func (a *Agent) formatResults(ctx context.Context, s *State) (string, error) {
	resultText := ""
	framing := ""
	if s.lastResult != nil {
		resultText = renderResultTable(*s.lastResult, a.cfg.MaxQueryResults)
		framing = countFraming(*s.lastResult)
	} else if idx := lastQueryResultIndex(s.Messages); idx >= 0 {
		resultText = s.Messages[idx].Content
	}
	if resultText == "" {
		s.appendAssistant("조회된 결과가 없습니다.", workflow.Annotations{})
		return nodeEnd, nil
	}

	prompt := fmt.Sprintf("질문: %s\n\n조회 결과:\n%s", s.Question, truncate(resultText, maxResultChars))
	if framing != "" {
		prompt += "\n\n결과 건수 안내: " + framing
	}

	resp, err := a.cfg.LLM.Complete(ctx, a.prompts.Format, prompt)
	if err != nil {
		return "", fmt.Errorf("format results: %w", err)
	}
	s.appendAssistant(strings.TrimSpace(resp), workflow.Annotations{})
	return nodeEnd, nil
}

// checkLoopGuards returns the name of the first tripped guard, or "".
func (a *Agent) checkLoopGuards(s *State) string {
	if sameQueryRepeats(s.Messages, sameQueryWindow) >= sameQueryLimit {
		return "same_query"
	}
	if hasRecentErrorResult(s.Messages, errorLookbackWindow) {
		return "recent_error"
	}
	if queryResultCount(s.Messages, resultArtifactWindow) > resultArtifactLimit {
		return "result_flood"
	}
	return ""
}

// sameQueryRepeats returns the highest repeat count of any single query
// text generated within the window.
func sameQueryRepeats(msgs []workflow.Message, window int) int {
	counts := map[string]int{}
	max := 0
	for _, m := range tail(msgs, window) {
		for _, inv := range m.ToolInvocations {
			if inv.Name != "run_query" {
				continue
			}
			if sql, ok := inv.Args["sql"].(string); ok && sql != "" {
				counts[sql]++
				if counts[sql] > max {
					max = counts[sql]
				}
			}
		}
	}
	return max
}

func hasRecentErrorResult(msgs []workflow.Message, window int) bool {
	for _, m := range tail(msgs, window) {
		if m.Annotations.ResultIsError {
			return true
		}
		if m.Role == workflow.RoleTool && strings.Contains(m.Content, "오류") {
			return true
		}
	}
	return false
}

func queryResultCount(msgs []workflow.Message, window int) int {
	count := 0
	for _, m := range tail(msgs, window) {
		if m.Annotations.QueryResult {
			count++
		}
	}
	return count
}

func lastQueryResultIndex(msgs []workflow.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Annotations.QueryResult && !msgs[i].Annotations.ResultIsError {
			return i
		}
	}
	return -1
}

// lastDraftQuery finds the most recent generated query text for
// rejection feedback context.
func lastDraftQuery(msgs []workflow.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Annotations.PendingQuery != "" {
			return msgs[i].Annotations.PendingQuery
		}
		for _, inv := range msgs[i].ToolInvocations {
			if inv.Name == "run_query" {
				if sql, ok := inv.Args["sql"].(string); ok {
					return sql
				}
			}
		}
	}
	return ""
}

func lastPendingApproval(msgs []workflow.Message) *workflow.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == workflow.RoleAssistant && msgs[i].Annotations.QueryApprovalPending {
			return &msgs[i]
		}
	}
	return nil
}

func indexOf(msgs []workflow.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// extractRejectionFeedback strips the leading rejection keyword and
// separators, returning the free-text correction request if any.
func extractRejectionFeedback(reply string) string {
	rest := strings.TrimSpace(reply)
	lower := strings.ToLower(rest)
	for _, kw := range RejectionKeywords {
		if strings.HasPrefix(lower, kw) {
			rest = strings.TrimSpace(rest[len(kw):])
			rest = strings.TrimLeft(rest, ",.、 ")
			break
		}
	}
	if rest == reply {
		// Keyword appeared mid-sentence; the whole reply is context.
		for _, kw := range RejectionKeywords {
			if strings.Contains(lower, kw) && len([]rune(rest)) > len([]rune(kw))+2 {
				return rest
			}
		}
		return ""
	}
	return rest
}

// cleanSQL strips markdown fences and surrounding prose from a model
// response, leaving the bare statement.
func cleanSQL(response string) string {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```sql"); idx != -1 {
		start := idx + len("```sql")
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		} else {
			response = response[start:]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + len("```")
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		} else {
			response = response[start:]
		}
	}

	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(response), ";"))
}

func tail(msgs []workflow.Message, n int) []workflow.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

// renderResultTable renders rows as a compact pipe-separated table for
// the formatting model.
func renderResultTable(res workflow.QueryResult, maxRows int) string {
	if res.Count == 0 || len(res.Rows) == 0 {
		return "조회된 결과가 없습니다. (0건)"
	}

	cols := res.Columns
	if len(cols) == 0 {
		for c := range res.Rows[0] {
			cols = append(cols, c)
		}
		sort.Strings(cols)
	}

	var b strings.Builder
	b.WriteString(strings.Join(cols, " | "))
	b.WriteString("\n")
	rows := res.Rows
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	for _, row := range rows {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = fmt.Sprintf("%v", row[c])
		}
		b.WriteString(strings.Join(vals, " | "))
		b.WriteString("\n")
	}
	return b.String()
}

// countFraming states whether a cap was applied and the true total when
// known. The formatting model must repeat this framing verbatim in
// spirit: capped results always disclose the cap.
func countFraming(res workflow.QueryResult) string {
	switch {
	case res.Capped && res.Total > 0:
		return fmt.Sprintf("총 %d건 중 상위 %d건만 표시", res.Total, res.Count)
	case res.Capped:
		return fmt.Sprintf("상위 %d건만 조회됨, 전체 데이터가 더 많을 수 있음", res.Count)
	default:
		return fmt.Sprintf("전체 %d건 모두 표시", res.Count)
	}
}
