package logistics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/malbeclabs/waybill/agent/pkg/workflow"
)

// analyzeQuestion classifies the working question for ambiguity. The
// deterministic keyword guard dominates the LLM verdict: a subjective
// term with no concrete metric always forces clarification.
func (a *Agent) analyzeQuestion(ctx context.Context, s *State) (string, error) {
	if HasAmbiguousTerm(s.Question) {
		a.logInfo("ambiguity keyword guard tripped", "thread", s.ThreadID, "question", s.Question)
		return nodeClarifyQuestion, nil
	}

	verdict, err := a.cfg.LLM.Complete(ctx, a.prompts.Ambiguity, s.Question)
	if err != nil {
		return "", fmt.Errorf("analyze question: %w", err)
	}
	verdict = strings.ToUpper(strings.TrimSpace(verdict))

	a.logInfo("question analyzed", "thread", s.ThreadID, "verdict", verdict)

	if strings.Contains(verdict, "NEEDS_CLARIFICATION") {
		return nodeClarifyQuestion, nil
	}
	return nodeSplitQuestion, nil
}

// clarifyQuestion runs the clarification dialogue. On first entry it
// emits a single clarifying question and suspends; on re-entry with a
// user reply it either combines the reply into the original question or
// promotes the reply to a fresh question.
func (a *Agent) clarifyQuestion(ctx context.Context, s *State) (string, error) {
	if s.clarifyReply {
		return a.clarifyQuestionReply(s)
	}

	// Re-entry without a new user reply must not emit a second
	// clarifying question.
	reqIdx := lastClarificationIndex(s.Messages)
	if reqIdx >= 0 {
		if _, userIdx := s.lastUser(); userIdx < reqIdx {
			s.suspend()
			return nodeEnd, nil
		}
	}

	q, err := a.cfg.LLM.Complete(ctx, a.prompts.Clarify, s.Question)
	if err != nil {
		return "", fmt.Errorf("clarify question: %w", err)
	}
	s.appendAssistant(strings.TrimSpace(q), workflow.Annotations{
		ClarificationPending: true,
		OriginalQuestion:     s.Question,
		NeedsUserResponse:    true,
		WorkflowPaused:       true,
	})
	s.suspend()
	return nodeEnd, nil
}

// clarifyQuestionReply handles the turn after a clarification request.
func (a *Agent) clarifyQuestionReply(s *State) (string, error) {
	user, userIdx := s.lastUser()
	if user == nil {
		s.suspend()
		return nodeEnd, nil
	}
	reply := strings.TrimSpace(user.Content)

	reqIdx := lastClarificationIndex(s.Messages)

	// A completed downstream artifact between the clarification request
	// and the newest user message means the prior turn fully finished,
	// so the new message is a fresh question, not a clarification reply.
	if reqIdx >= 0 && hasCompletedArtifact(s.Messages[reqIdx+1:userIdx]) {
		s.Question = reply
		s.clarifyReply = false
		return nodeAnalyzeQuestion, nil
	}
	if looksLikeNewQuestion(reply) {
		s.Question = reply
		s.clarifyReply = false
		return nodeAnalyzeQuestion, nil
	}

	// Too short to act on; re-ask the same clarifying question. The
	// re-issue carries the original question forward so a later round
	// never combines against this filler reply.
	if len([]rune(reply)) < 3 && reqIdx >= 0 {
		s.appendAssistant(s.Messages[reqIdx].Content, workflow.Annotations{
			ClarificationPending: true,
			OriginalQuestion:     s.Messages[reqIdx].Annotations.OriginalQuestion,
			NeedsUserResponse:    true,
			WorkflowPaused:       true,
		})
		s.suspend()
		return nodeEnd, nil
	}

	original := ""
	if reqIdx >= 0 {
		original = s.Messages[reqIdx].Annotations.OriginalQuestion
	}
	if original == "" {
		original = originalQuestionBefore(s.Messages, reqIdx)
	}
	if original == "" {
		original = s.Question
	}
	s.Question = fmt.Sprintf("%s (%s)", original, reply)
	a.logInfo("clarification combined", "thread", s.ThreadID, "question", s.Question)
	return nodeSplitQuestion, nil
}

// splitQuestion asks the LLM whether the question bundles multiple
// independent analyses. Only the first sub-question is dispatched this
// turn; the full decomposition is annotated so a later turn can pick up
// the rest.
func (a *Agent) splitQuestion(ctx context.Context, s *State) (string, error) {
	resp, err := a.cfg.LLM.Complete(ctx, a.prompts.Split, s.Question)
	if err != nil {
		return "", fmt.Errorf("split question: %w", err)
	}
	resp = strings.TrimSpace(resp)

	if resp == "" || strings.Contains(strings.ToUpper(resp), "NO_SPLIT") {
		return nodeRouteQuestion, nil
	}

	var subs []string
	if err := json.Unmarshal([]byte(extractJSONArray(resp)), &subs); err != nil || len(subs) < 2 {
		return nodeRouteQuestion, nil
	}

	s.appendAssistant(
		fmt.Sprintf("질문을 %d개로 나누어 첫 번째 질문부터 답변드립니다.", len(subs)),
		workflow.Annotations{
			SplitQuestions:   subs,
			OriginalQuestion: s.Question,
		},
	)
	s.Question = subs[0]
	a.logInfo("question split", "thread", s.ThreadID, "count", len(subs), "first", subs[0])
	return nodeRouteQuestion, nil
}

// lastClarificationIndex finds the most recent outstanding ambiguity
// clarification request.
func lastClarificationIndex(msgs []workflow.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == workflow.RoleAssistant && msgs[i].Annotations.ClarificationPending {
			return i
		}
	}
	return -1
}

// hasCompletedArtifact reports whether the window contains evidence of
// a completed workflow: a query result, an approval request, or a
// substantial formatted answer.
func hasCompletedArtifact(msgs []workflow.Message) bool {
	for _, m := range msgs {
		if m.Annotations.QueryResult {
			return true
		}
		if m.Role == workflow.RoleAssistant && m.Annotations.QueryApprovalPending {
			return true
		}
		if m.Role == workflow.RoleAssistant && len([]rune(m.Content)) > 100 &&
			(strings.Contains(m.Content, "총") || strings.Contains(m.Content, "건")) {
			return true
		}
	}
	return false
}

// originalQuestionBefore returns the user question the pending prompt
// at reqIdx was asking about. Replies an earlier round of the same
// dialogue already consumed (a filler answer that got the prompt
// re-issued, a rejection that produced a revised query) are skipped so
// multi-round dialogues recover the question that opened them, not the
// previous reply.
func originalQuestionBefore(msgs []workflow.Message, reqIdx int) string {
	if reqIdx < 0 || reqIdx > len(msgs) {
		reqIdx = len(msgs)
	}
	for i := reqIdx - 1; i >= 0; i-- {
		if msgs[i].Role != workflow.RoleUser {
			continue
		}
		if consumedDialogueReply(msgs, i) {
			continue
		}
		return strings.TrimSpace(msgs[i].Content)
	}
	return ""
}

// consumedDialogueReply reports whether the user message at idx was
// consumed by a pending-prompt dialogue rather than starting a new
// question: it answers a pending prompt and the assistant's next
// message is approval bookkeeping or a re-issue of that same prompt.
func consumedDialogueReply(msgs []workflow.Message, idx int) bool {
	prompt := -1
	for i := idx - 1; i >= 0; i-- {
		if msgs[i].Role == workflow.RoleAssistant {
			prompt = i
			break
		}
	}
	if prompt < 0 || !msgs[prompt].Annotations.Pending() {
		return false
	}
	for i := idx + 1; i < len(msgs); i++ {
		if msgs[i].Role != workflow.RoleAssistant {
			continue
		}
		ann := msgs[i].Annotations
		if ann.QueryApproved || ann.QueryRejected {
			return true
		}
		return ann.Pending() && msgs[i].Content == msgs[prompt].Content
	}
	return false
}

// extractJSONArray pulls the first JSON array out of an LLM response
// that may carry surrounding prose or fences.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
