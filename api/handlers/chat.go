package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/malbeclabs/waybill/agent/pkg/workflow/logistics"
	"github.com/malbeclabs/waybill/api/metrics"
)

const (
	defaultThreadID = "main_session"
	maxMessageRunes = 2000
)

// ChatRequest is the incoming chat turn.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ChatResponse carries the assistant reply plus pause flags the client uses
// to render an approval or clarification prompt.
type ChatResponse struct {
	Response          string `json:"response"`
	NeedsUserResponse bool   `json:"needs_user_response"`
	WorkflowPaused    bool   `json:"workflow_paused"`
}

// ChatHandler serves POST /chat. Turns on the same thread are serialized so
// concurrent requests cannot interleave one conversation's history.
type ChatHandler struct {
	agent *logistics.Agent

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

func NewChatHandler(agent *logistics.Agent) *ChatHandler {
	return &ChatHandler{
		agent:   agent,
		threads: make(map[string]*sync.Mutex),
	}
}

func (h *ChatHandler) threadLock(threadID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lock, ok := h.threads[threadID]
	if !ok {
		lock = &sync.Mutex{}
		h.threads[threadID] = lock
	}
	return lock
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "잘못된 요청 형식입니다.")
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		badRequest(w, "메시지를 입력해주세요.")
		return
	}
	if utf8.RuneCountInString(req.Message) > maxMessageRunes {
		badRequest(w, "메시지가 너무 깁니다. 2000자 이내로 입력해주세요.")
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = defaultThreadID
	}

	lock := h.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	result, err := h.agent.Run(r.Context(), threadID, req.Message)
	if err != nil {
		metrics.RecordTurn("error", time.Since(start))
		internalError(w, "agent turn failed", err)
		return
	}

	outcome := "completed"
	if result.WorkflowPaused {
		outcome = "paused"
	}
	metrics.RecordTurn(outcome, time.Since(start))

	slog.Info("chat turn",
		"thread_id", threadID,
		"paused", result.WorkflowPaused,
		"duration", time.Since(start).Round(time.Millisecond))

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:          result.Response,
		NeedsUserResponse: result.NeedsUserResponse,
		WorkflowPaused:    result.WorkflowPaused,
	})
}
