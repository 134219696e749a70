// Package logistics implements the conversational workflow for the
// logistics assistant: a directed graph of named nodes coordinating
// question analysis, routing, SQL generation with human-in-the-loop
// approval, and document retrieval, with conversation state persisted
// per thread and reconstructed from message history each turn.
package logistics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/waybill/agent/pkg/workflow"
)

// Agent runs one conversation turn at a time over a persisted thread.
type Agent struct {
	cfg     workflow.Config
	prompts *Prompts
	graph   *graph
}

// New builds the workflow graph. LLM, Store, Querier, and Schema are
// required; Retriever and Audit are optional.
func New(cfg workflow.Config) (*Agent, error) {
	if cfg.LLM == nil {
		return nil, errors.New("LLM client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Querier == nil {
		return nil, errors.New("querier is required")
	}
	if cfg.Schema == nil {
		return nil, errors.New("schema fetcher is required")
	}
	if cfg.MaxQueryResults <= 0 {
		cfg.MaxQueryResults = 100
	}
	if cfg.SmallResultThreshold <= 0 {
		cfg.SmallResultThreshold = 50
	}
	if cfg.LimitForLargeResults <= 0 {
		cfg.LimitForLargeResults = 100
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}

	prompts, err := LoadPrompts()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts
	}

	a := &Agent{cfg: cfg, prompts: prompts}

	g := newGraph()
	g.addNode(nodeAnalyzeQuestion, a.analyzeQuestion)
	g.addNode(nodeClarifyQuestion, a.clarifyQuestion)
	g.addNode(nodeSplitQuestion, a.splitQuestion)
	g.addNode(nodeRouteQuestion, a.routeQuestion)
	g.addNode(nodeClarifyRoute, a.clarifyRoute)
	g.addNode(nodeListTables, a.listTables)
	g.addNode(nodeGetSchema, a.getSchema)
	g.addNode(nodeGenerateQuery, a.generateQuery)
	g.addNode(nodeCheckQuery, a.checkQuery)
	g.addNode(nodeRequestApproval, a.requestApproval)
	g.addNode(nodeProcessApproval, a.processApproval)
	g.addNode(nodeRunQuery, a.runQuery)
	g.addNode(nodeFormatResults, a.formatResults)
	g.addNode(nodeRAGGate, a.ragGate)
	g.addNode(nodeRAGDecide, a.ragDecide)
	g.addNode(nodeRetrieve, a.retrieve)
	g.addNode(nodeGradeDocuments, a.gradeDocuments)
	g.addNode(nodeRewriteQuestion, a.rewriteQuestion)
	g.addNode(nodeGenerateAnswer, a.generateAnswer)
	g.addNode(nodeDirectResponse, a.directResponse)
	g.addNode(nodeRejectResponse, a.rejectResponse)
	g.addNode(nodeOutOfScopeResponse, a.outOfScopeResponse)
	a.graph = g

	return a, nil
}

// Run executes one turn: append the user message to the thread, resolve
// where the conversation logically continues, run the graph, persist
// everything this turn appended, and return the assistant's reply.
//
// A thread must be driven by at most one in-flight turn at a time; the
// caller serializes.
func (a *Agent) Run(ctx context.Context, threadID, userMessage string) (workflow.TurnResult, error) {
	turnID := uuid.NewString()
	ctx = workflow.ContextWithTurnIDs(ctx, threadID, turnID)

	history, err := a.cfg.Store.History(ctx, threadID)
	if err != nil {
		return workflow.TurnResult{}, fmt.Errorf("load history: %w", err)
	}

	s := &State{
		ThreadID: threadID,
		TurnID:   turnID,
		Messages: history,
		newFrom:  len(history),
		Question: userMessage,
	}
	s.append(workflow.Message{Role: workflow.RoleUser, Content: userMessage})

	entry := resolveTurn(s.Messages)
	switch entry.node {
	case nodeClarifyQuestion:
		s.clarifyReply = true
	case nodeClarifyRoute:
		s.routeReply = true
	}

	a.logInfo("turn started", "thread", threadID, "turn", turnID, "entry", entry.node)

	if err := a.graph.run(ctx, s, entry.node); err != nil {
		// Persist the user message so history stays truthful even on
		// failure; the HTTP layer surfaces a generic message.
		_ = a.cfg.Store.Append(ctx, threadID, s.NewMessages()...)
		return workflow.TurnResult{}, err
	}

	if err := a.cfg.Store.Append(ctx, threadID, s.NewMessages()...); err != nil {
		return workflow.TurnResult{}, fmt.Errorf("persist turn: %w", err)
	}

	result := workflow.TurnResult{Response: MsgTurnIncomplete}
	if la := s.lastAssistant(); la != nil {
		result.Response = la.Content
		result.NeedsUserResponse = la.Annotations.NeedsUserResponse
		result.WorkflowPaused = la.Annotations.WorkflowPaused
	}
	a.logInfo("turn finished", "thread", threadID, "turn", turnID,
		"paused", result.WorkflowPaused, "messages", len(s.NewMessages()))
	return result, nil
}

func (a *Agent) logInfo(msg string, args ...any) {
	if a.cfg.Logger != nil {
		a.cfg.Logger.Info(msg, args...)
	}
}
