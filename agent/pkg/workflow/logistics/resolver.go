package logistics

import (
	"strings"

	"github.com/malbeclabs/waybill/agent/pkg/workflow"
)

// interrogativeKeywords mark a reply as a fresh question rather than a
// short clarification or approval answer.
var interrogativeKeywords = []string{
	"누구", "어떤", "몇", "언제", "어디", "왜", "어떻게", "가장", "최고", "최대", "기사", "처리한", "누구인가",
}

// looksLikeNewQuestion applies the reply heuristics: long replies and
// replies carrying interrogative/ranking keywords are new questions,
// short keyword-free replies are answers to the outstanding prompt.
func looksLikeNewQuestion(reply string) bool {
	reply = strings.TrimSpace(reply)
	if len([]rune(reply)) > 30 {
		return true
	}
	return containsAny(reply, interrogativeKeywords)
}

// turnEntry is the typed decision of where a resumed turn logically
// continues. State is reconstructed from message history each turn;
// there is no stored cursor.
type turnEntry struct {
	node string
}

// resolveTurn decides the entry node for a turn whose newest message is
// the just-appended user message. Priority order:
//
//  1. a pending SQL approval with an approve/reject-shaped reply goes
//     straight to approval processing, never re-classification;
//  2. a pending approval with a reply that reads as a brand-new
//     question clears the pending state implicitly;
//  3. a pending routing disambiguation resumes the router's
//     clarification dialogue;
//  4. a pending ambiguity clarification resumes the question agent;
//  5. everything else starts from analysis.
func resolveTurn(msgs []workflow.Message) turnEntry {
	var user *workflow.Message
	var userIdx int = -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == workflow.RoleUser {
			user = &msgs[i]
			userIdx = i
			break
		}
	}
	if user == nil {
		return turnEntry{node: nodeAnalyzeQuestion}
	}

	// The pending prompt, if any, is the last assistant message before
	// this user message.
	var prior *workflow.Message
	for i := userIdx - 1; i >= 0; i-- {
		if msgs[i].Role == workflow.RoleAssistant {
			prior = &msgs[i]
			break
		}
	}
	if prior == nil {
		return turnEntry{node: nodeAnalyzeQuestion}
	}

	switch {
	case prior.Annotations.QueryApprovalPending:
		if IsApprovalReply(user.Content) || IsRejectionReply(user.Content) {
			return turnEntry{node: nodeProcessApproval}
		}
		if looksLikeNewQuestion(user.Content) {
			return turnEntry{node: nodeAnalyzeQuestion}
		}
		// Unrecognized short reply: approval processing re-issues the
		// same prompt rather than guessing.
		return turnEntry{node: nodeProcessApproval}

	case prior.Annotations.RoutingClarificationPending:
		if looksLikeNewQuestion(user.Content) {
			return turnEntry{node: nodeAnalyzeQuestion}
		}
		return turnEntry{node: nodeClarifyRoute}

	case prior.Annotations.ClarificationPending:
		return turnEntry{node: nodeClarifyQuestion}
	}

	return turnEntry{node: nodeAnalyzeQuestion}
}
