package workflow

import (
	"context"
	"log/slog"
	"time"
)

// Context keys for turn tracing
type ctxKeyThreadID struct{}
type ctxKeyTurnID struct{}

// ContextWithTurnIDs adds thread and turn IDs to a context for tracing.
func ContextWithTurnIDs(ctx context.Context, threadID, turnID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyThreadID{}, threadID)
	ctx = context.WithValue(ctx, ctxKeyTurnID{}, turnID)
	return ctx
}

// ThreadIDFromContext extracts the thread ID from context, if present.
func ThreadIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyThreadID{}).(string)
	return id, ok
}

// TurnIDFromContext extracts the turn ID from context, if present.
func TurnIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyTurnID{}).(string)
	return id, ok
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolInvocation is a capability call requested by the assistant.
type ToolInvocation struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Annotations carries the control signals attached to a message.
// These are an enumerated set, not a free-form map, so transition
// predicates can pattern-match on them exhaustively.
type Annotations struct {
	NeedsUserResponse bool `json:"needs_user_response,omitempty"`
	WorkflowPaused    bool `json:"workflow_paused,omitempty"`

	// Question-agent clarification dialogue.
	ClarificationPending bool `json:"clarification_pending,omitempty"`

	// Router SQL-vs-RAG disambiguation dialogue.
	RoutingClarificationPending bool `json:"routing_clarification_pending,omitempty"`

	// SQL approval gate. PendingQuery and PendingInvocation carry the
	// exact query awaiting approval so it can be re-materialized without
	// re-parsing display text.
	QueryApprovalPending bool            `json:"query_approval_pending,omitempty"`
	PendingQuery         string          `json:"pending_query,omitempty"`
	PendingInvocation    *ToolInvocation `json:"pending_tool_invocation,omitempty"`
	QueryApproved        bool            `json:"query_approved,omitempty"`
	QueryRejected        bool            `json:"query_rejected,omitempty"`

	// Question decomposition output.
	SplitQuestions   []string `json:"split_questions,omitempty"`
	OriginalQuestion string   `json:"original_question,omitempty"`

	// Tool-result markers used by turn resolution and loop guards.
	QueryResult   bool   `json:"query_result,omitempty"`
	ExecutedSQL   string `json:"executed_sql,omitempty"`
	ResultIsError bool   `json:"result_is_error,omitempty"`
}

// Pending reports whether any suspension-causing annotation is set.
func (a Annotations) Pending() bool {
	return a.ClarificationPending || a.RoutingClarificationPending || a.QueryApprovalPending
}

// Message is a single turn unit in a conversation.
// Content may be empty when the message only carries a tool invocation.
// ID is intentionally shared across revisions of an in-flight draft
// (the query check step revises a draft in place rather than creating
// a new message).
type Message struct {
	ID              string           `json:"id"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	ToolName        string           `json:"tool_name,omitempty"`
	Annotations     Annotations      `json:"annotations,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Store persists conversation history keyed by thread ID.
// Appends within a turn are atomic; history is append-only.
type Store interface {
	// History returns all messages for a thread in order.
	// A thread with no history returns an empty slice and no error.
	History(ctx context.Context, threadID string) ([]Message, error)

	// Append atomically appends messages to a thread, creating the
	// thread on first use.
	Append(ctx context.Context, threadID string, msgs ...Message) error
}

// CompleteOptions holds options for LLM completion.
type CompleteOptions struct {
	CacheSystemPrompt bool // Enable prompt caching for the system prompt
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithCacheControl enables prompt caching for the system prompt.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// LLMClient is the interface for interacting with an LLM.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// Querier executes SQL queries against the logistics database.
// Errors from the underlying driver come back as an error-shaped
// payload in QueryResult.Error rather than a Go error; the Go error is
// reserved for transport-level failures.
type Querier interface {
	Query(ctx context.Context, sql string) (QueryResult, error)
}

// SchemaFetcher retrieves catalog information from the logistics database.
type SchemaFetcher interface {
	// ListTables returns the user-visible table names.
	ListTables(ctx context.Context) ([]string, error)

	// FetchSchema returns a formatted description of columns and types
	// for the given tables (all tables when the list is empty).
	FetchSchema(ctx context.Context, tables []string) (string, error)
}

// Retriever fetches document passages for the RAG pipeline.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// PromptsProvider provides access to prompt templates.
type PromptsProvider interface {
	GetPrompt(name string) string
}

// AuditEntry records one executed query for observability.
type AuditEntry struct {
	ThreadID string
	TurnID   string
	Route    string
	SQL      string
	RowCount int
	Duration time.Duration
	Error    string
	At       time.Time
}

// AuditSink receives audit entries. Implementations must be safe for
// concurrent use; failures are logged, never surfaced to the user.
type AuditSink interface {
	Record(ctx context.Context, e AuditEntry) error
}

// QueryResult holds the result of a query execution.
type QueryResult struct {
	SQL     string
	Columns []string
	Rows    []map[string]any
	Count   int    // rows returned
	Total   int    // total matching rows when known, 0 otherwise
	Capped  bool   // true when a LIMIT cap was applied
	Error   string // error-shaped payload from the driver, empty on success
}

// Config holds the configuration for the workflow.
type Config struct {
	Logger    *slog.Logger
	LLM       LLMClient
	Querier   Querier
	Schema    SchemaFetcher
	Retriever Retriever
	Store     Store
	Prompts   PromptsProvider
	Audit     AuditSink // optional

	MaxQueryResults      int           // hard cap on rows surfaced to the model (default 100)
	SmallResultThreshold int           // below this, results are rendered in full (default 50)
	LimitForLargeResults int           // LIMIT injected on uncapped queries (default 100)
	QueryTimeout         time.Duration // per-statement execution ceiling (default 30s)
	EnableQueryLogging   bool
}

// TurnResult is what one request/response cycle produces.
type TurnResult struct {
	Response          string
	NeedsUserResponse bool
	WorkflowPaused    bool
}
