package logistics

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/waybill/agent/pkg/workflow"
)

// Route is the router's classification of a question.
type Route string

const (
	RouteSQL       Route = "SQL"
	RouteRAG       Route = "RAG"
	RouteDirect    Route = "DIRECT"
	RouteReject    Route = "REJECT"
	RouteUncertain Route = "UNCERTAIN"
)

// maxDisambiguationRetries bounds the routing clarification loop; after
// this many unclear replies the router falls back to SQL, the safer
// majority case.
const maxDisambiguationRetries = 3

// routeQuestion classifies the working question into exactly one
// workflow. The deterministic security check runs before intent
// classification; an explicit modification action forces REJECT, and
// explicit read intent forces classification to proceed no matter what
// the question's table names look like.
func (a *Agent) routeQuestion(ctx context.Context, s *State) (string, error) {
	if HasModificationIntent(s.Question) {
		a.logInfo("modification intent rejected", "thread", s.ThreadID, "question", s.Question)
		return nodeRejectResponse, nil
	}

	resp, err := a.cfg.LLM.Complete(ctx, a.prompts.Routing, "Question: "+s.Question)
	if err != nil {
		return "", fmt.Errorf("route question: %w", err)
	}
	route := parseRoute(resp)

	// The model must not override the deterministic read-intent rule:
	// a read request is never rejected for resembling a keyword.
	if route == RouteReject && HasReadIntent(s.Question) {
		route = RouteSQL
	}

	a.logInfo("question routed", "thread", s.ThreadID, "route", string(route))

	switch route {
	case RouteRAG:
		return nodeRAGGate, nil
	case RouteDirect:
		return nodeDirectResponse, nil
	case RouteReject:
		return nodeRejectResponse, nil
	case RouteUncertain:
		return nodeClarifyRoute, nil
	default:
		return nodeListTables, nil
	}
}

func parseRoute(resp string) Route {
	decision := strings.ToUpper(strings.TrimSpace(resp))
	switch {
	case strings.Contains(decision, "REJECT"):
		return RouteReject
	case strings.Contains(decision, "UNCERTAIN"):
		return RouteUncertain
	case strings.Contains(decision, "RAG"):
		return RouteRAG
	case strings.Contains(decision, "DIRECT"):
		return RouteDirect
	case strings.Contains(decision, "SQL"):
		return RouteSQL
	default:
		// Conservative default: data lookups are the majority case and
		// safer to attempt-then-fail than silently drop.
		return RouteSQL
	}
}

const routingClarificationPrompt = "질문의 의도를 명확히 하고 싶습니다. " +
	"데이터베이스에서 데이터를 조회하시겠습니까, 아니면 정책/규정 문서를 검색하시겠습니까? " +
	"(예: \"데이터 조회\" 또는 \"문서 검색\")"

var dbIntentKeywords = []string{"데이터", "조회", "데이터베이스", "디비", "숫자", "통계", "database", "db", "sql"}
var docIntentKeywords = []string{"문서", "정책", "규정", "매뉴얼", "절차", "가이드", "document", "doc"}

// clarifyRoute runs the SQL-vs-RAG disambiguation sub-dialogue. On
// first entry it asks the user to choose and suspends; on re-entry it
// parses the reply, re-issuing the same prompt on an unintelligible
// answer until the retry bound trips.
func (a *Agent) clarifyRoute(_ context.Context, s *State) (string, error) {
	if !s.routeReply {
		s.appendAssistant(routingClarificationPrompt, workflow.Annotations{
			RoutingClarificationPending: true,
			OriginalQuestion:            s.Question,
			NeedsUserResponse:           true,
			WorkflowPaused:              true,
		})
		s.suspend()
		return nodeEnd, nil
	}
	s.routeReply = false

	user, _ := s.lastUser()
	reply := strings.ToLower(strings.TrimSpace(user.Content))
	original := restoreDisambiguatedQuestion(s)

	switch {
	case containsAny(reply, docIntentKeywords):
		s.Question = original
		return nodeRAGGate, nil
	case containsAny(reply, dbIntentKeywords):
		s.Question = original
		return nodeListTables, nil
	}

	if routingClarificationCount(s.Messages) >= maxDisambiguationRetries {
		a.logInfo("disambiguation retries exhausted, defaulting to SQL", "thread", s.ThreadID)
		s.Question = original
		return nodeListTables, nil
	}

	// Re-issue carries the original question forward; the unclear reply
	// must never become the question a later round resumes on.
	s.appendAssistant(routingClarificationPrompt, workflow.Annotations{
		RoutingClarificationPending: true,
		OriginalQuestion:            original,
		NeedsUserResponse:           true,
		WorkflowPaused:              true,
	})
	s.suspend()
	return nodeEnd, nil
}

// restoreDisambiguatedQuestion recovers the question that triggered the
// disambiguation dialogue from the latest outstanding routing
// clarification request: its annotation when present, otherwise the
// user question preceding the dialogue.
func restoreDisambiguatedQuestion(s *State) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == workflow.RoleAssistant && s.Messages[i].Annotations.RoutingClarificationPending {
			if q := s.Messages[i].Annotations.OriginalQuestion; q != "" {
				return q
			}
			if q := originalQuestionBefore(s.Messages, i); q != "" {
				return q
			}
		}
	}
	return s.Question
}

// routingClarificationCount counts disambiguation prompts already
// issued for the current question run.
func routingClarificationCount(msgs []workflow.Message) int {
	count := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == workflow.RoleAssistant && m.Annotations.RoutingClarificationPending {
			count++
			continue
		}
		// Stop counting at the last completed artifact; earlier
		// dialogues belonged to earlier questions.
		if m.Annotations.QueryResult || (m.Role == workflow.RoleAssistant && !m.Annotations.Pending() && m.Content != "") {
			break
		}
	}
	return count
}

// directResponse answers without touching data or documents.
func (a *Agent) directResponse(ctx context.Context, s *State) (string, error) {
	resp, err := a.cfg.LLM.Complete(ctx, a.prompts.Direct, s.Question)
	if err != nil {
		return "", fmt.Errorf("direct response: %w", err)
	}
	s.appendAssistant(strings.TrimSpace(resp), workflow.Annotations{})
	return nodeEnd, nil
}

// rejectResponse is the fixed refusal for modification requests.
func (a *Agent) rejectResponse(_ context.Context, s *State) (string, error) {
	s.appendAssistant(MsgSecurityRefusal, workflow.Annotations{})
	return nodeEnd, nil
}

// outOfScopeResponse is the fixed refusal for questions outside the
// logistics domain.
func (a *Agent) outOfScopeResponse(_ context.Context, s *State) (string, error) {
	s.appendAssistant(MsgOutOfScope, workflow.Annotations{})
	return nodeEnd, nil
}
