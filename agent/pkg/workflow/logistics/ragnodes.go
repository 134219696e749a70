package logistics

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/waybill/agent/pkg/workflow"
)

// RAG pipeline bounds.
const (
	retrieveK        = 3 // passages fetched per retrieval
	maxRewriteLoops  = 2 // question rewrites before answering best-effort
	insufficientNote = "제공된 문서에서 충분한 내용을 찾지 못해 확인된 범위에서만 답변드립니다."
)

// ragGate mirrors the SQL pipeline's security gate: document
// create/modify/delete requests are refused before any retrieval.
func (a *Agent) ragGate(_ context.Context, s *State) (string, error) {
	if HasDocumentModificationIntent(s.Question) {
		a.logInfo("document modification rejected", "thread", s.ThreadID, "question", s.Question)
		s.appendAssistant(MsgDocumentRefusal, workflow.Annotations{})
		return nodeEnd, nil
	}
	return nodeRAGDecide, nil
}

// ragDecide either answers directly or requests retrieval. Without a
// configured retriever the model answers from the conversation alone.
func (a *Agent) ragDecide(ctx context.Context, s *State) (string, error) {
	if a.cfg.Retriever == nil {
		resp, err := a.cfg.LLM.Complete(ctx, a.prompts.Direct, s.Question)
		if err != nil {
			return "", fmt.Errorf("rag respond: %w", err)
		}
		s.appendAssistant(strings.TrimSpace(resp), workflow.Annotations{})
		return nodeEnd, nil
	}

	resp, err := a.cfg.LLM.Complete(ctx, a.prompts.RAGDecide, s.Question)
	if err != nil {
		return "", fmt.Errorf("rag decide: %w", err)
	}
	resp = strings.TrimSpace(resp)

	if strings.EqualFold(resp, "RETRIEVE") || strings.Contains(strings.ToUpper(resp), "RETRIEVE") {
		return nodeRetrieve, nil
	}
	s.appendAssistant(resp, workflow.Annotations{})
	return nodeEnd, nil
}

// retrieve fetches document passages for the working question.
func (a *Agent) retrieve(ctx context.Context, s *State) (string, error) {
	docs, err := a.cfg.Retriever.Retrieve(ctx, s.Question, retrieveK)
	if err != nil {
		s.appendTool("retrieve_documents", "오류: "+err.Error(), workflow.Annotations{ResultIsError: true})
		s.appendAssistant("문서 검색 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요.", workflow.Annotations{})
		return nodeEnd, nil
	}

	s.retrieved = docs
	s.appendTool("retrieve_documents", strings.Join(docs, "\n\n---\n\n"), workflow.Annotations{})
	a.logInfo("documents retrieved", "thread", s.ThreadID, "count", len(docs))
	return nodeGradeDocuments, nil
}

// gradeDocuments is a binary relevance judgment over the retrieved
// context. Irrelevant context routes to a bounded rewrite loop.
func (a *Agent) gradeDocuments(ctx context.Context, s *State) (string, error) {
	if len(s.retrieved) == 0 {
		return a.rewriteOrAnswer(s)
	}

	prompt := fmt.Sprintf("질문: %s\n\n검색된 문서:\n%s", s.Question, strings.Join(s.retrieved, "\n\n---\n\n"))
	verdict, err := a.cfg.LLM.Complete(ctx, a.prompts.Grade, prompt)
	if err != nil {
		return "", fmt.Errorf("grade documents: %w", err)
	}

	if strings.Contains(strings.ToLower(strings.TrimSpace(verdict)), "yes") {
		return nodeGenerateAnswer, nil
	}
	return a.rewriteOrAnswer(s)
}

// rewriteOrAnswer enforces the rewrite bound: past it, answer from
// whatever context exists rather than looping.
func (a *Agent) rewriteOrAnswer(s *State) (string, error) {
	if s.rewrites >= maxRewriteLoops {
		a.logInfo("rewrite retries exhausted", "thread", s.ThreadID)
		s.insufficientContext = true
		return nodeGenerateAnswer, nil
	}
	s.rewrites++
	return nodeRewriteQuestion, nil
}

// rewriteQuestion reformulates the question for better retrieval and
// resubmits it.
func (a *Agent) rewriteQuestion(ctx context.Context, s *State) (string, error) {
	resp, err := a.cfg.LLM.Complete(ctx, a.prompts.Rewrite, s.Question)
	if err != nil {
		return "", fmt.Errorf("rewrite question: %w", err)
	}
	if rewritten := strings.TrimSpace(resp); rewritten != "" {
		s.Question = rewritten
	}
	a.logInfo("question rewritten", "thread", s.ThreadID, "question", s.Question)
	return nodeRAGDecide, nil
}

// generateAnswer writes the final answer grounded strictly in the
// retrieved context.
func (a *Agent) generateAnswer(ctx context.Context, s *State) (string, error) {
	contextText := strings.Join(s.retrieved, "\n\n---\n\n")
	if contextText == "" {
		contextText = "(검색된 문서 없음)"
	}
	system := strings.ReplaceAll(a.prompts.Answer, "{{CONTEXT}}", contextText)

	resp, err := a.cfg.LLM.Complete(ctx, system, s.Question)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer := strings.TrimSpace(resp)
	if s.insufficientContext {
		answer = insufficientNote + "\n\n" + answer
	}
	s.appendAssistant(answer, workflow.Annotations{})
	return nodeEnd, nil
}
