package logistics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/malbeclabs/waybill/agent/pkg/workflow"
)

// Node names in the workflow graph.
const (
	nodeEnd = "end"

	nodeAnalyzeQuestion = "analyze_question"
	nodeClarifyQuestion = "clarify_question"
	nodeSplitQuestion   = "split_question"

	nodeRouteQuestion = "route_question"
	nodeClarifyRoute  = "clarify_route"

	nodeListTables      = "list_tables"
	nodeGetSchema       = "get_schema"
	nodeGenerateQuery   = "generate_query"
	nodeCheckQuery      = "check_query"
	nodeRequestApproval = "request_approval"
	nodeProcessApproval = "process_approval"
	nodeRunQuery        = "run_query"
	nodeFormatResults   = "format_results"

	nodeRAGGate         = "rag_gate"
	nodeRAGDecide       = "generate_query_or_respond"
	nodeRetrieve        = "retrieve"
	nodeGradeDocuments  = "grade_documents"
	nodeRewriteQuestion = "rewrite_question"
	nodeGenerateAnswer  = "generate_answer"

	nodeDirectResponse     = "direct_response"
	nodeRejectResponse     = "reject_response"
	nodeOutOfScopeResponse = "out_of_scope_response"
)

// maxTurnSteps is the last-resort circuit breaker on node transitions
// within one turn.
const maxTurnSteps = 30

// State is the working state of one turn. Nodes append messages and
// set the transition inputs; nothing here outlives the turn except the
// appended messages.
type State struct {
	ThreadID string
	TurnID   string

	// Messages is the full history including this turn's user message;
	// entries from newFrom on are new this turn and get persisted when
	// the turn ends.
	Messages []workflow.Message
	newFrom  int

	// Question is the working question: possibly combined with a
	// clarification answer, or the first split sub-question.
	Question string

	// Feedback carries rejection correction text into regeneration.
	Feedback string

	// clarifyReply and routeReply mark that this turn entered as a
	// reply to an outstanding clarification or disambiguation request.
	clarifyReply bool
	routeReply   bool

	SchemaText   string
	Schema       Schema
	PendingQuery string
	lastResult   *workflow.QueryResult

	retrieved           []string
	rewrites            int
	insufficientContext bool
	suspended           bool
}

// NewMessages returns the messages appended during this turn.
func (s *State) NewMessages() []workflow.Message {
	return s.Messages[s.newFrom:]
}

func (s *State) append(m workflow.Message) *workflow.Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.Messages = append(s.Messages, m)
	return &s.Messages[len(s.Messages)-1]
}

func (s *State) appendAssistant(content string, ann workflow.Annotations) *workflow.Message {
	return s.append(workflow.Message{Role: workflow.RoleAssistant, Content: content, Annotations: ann})
}

func (s *State) appendTool(toolName, content string, ann workflow.Annotations) *workflow.Message {
	return s.append(workflow.Message{Role: workflow.RoleTool, ToolName: toolName, Content: content, Annotations: ann})
}

// lastUser returns the most recent user message and its index, or nil.
func (s *State) lastUser() (*workflow.Message, int) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == workflow.RoleUser {
			return &s.Messages[i], i
		}
	}
	return nil, -1
}

// lastAssistant returns the most recent assistant message, or nil.
func (s *State) lastAssistant() *workflow.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == workflow.RoleAssistant {
			return &s.Messages[i]
		}
	}
	return nil
}

// byID finds a message by identity for in-place draft revision.
func (s *State) byID(id string) *workflow.Message {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return &s.Messages[i]
		}
	}
	return nil
}

// suspend marks the turn as yielded to the user. The graph stops after
// the current node; the thread resumes on the next user message.
func (s *State) suspend() {
	s.suspended = true
}

type nodeFunc func(ctx context.Context, s *State) (string, error)

// graph is the directed graph of named nodes. Conditional transitions
// live inside the node functions: each returns the name of the next
// node, or nodeEnd.
type graph struct {
	nodes map[string]nodeFunc
}

func newGraph() *graph {
	return &graph{nodes: make(map[string]nodeFunc)}
}

func (g *graph) addNode(name string, fn nodeFunc) {
	g.nodes[name] = fn
}

// run executes nodes from entry until nodeEnd, a suspension, or the
// step ceiling. Hitting the ceiling ends the turn gracefully with a
// could-not-complete message rather than an error.
func (g *graph) run(ctx context.Context, s *State, entry string) error {
	cur := entry
	for steps := 0; cur != nodeEnd; steps++ {
		if steps >= maxTurnSteps {
			s.appendAssistant(MsgTurnIncomplete, workflow.Annotations{})
			return nil
		}
		fn, ok := g.nodes[cur]
		if !ok {
			return fmt.Errorf("unknown workflow node %q", cur)
		}
		next, err := fn(ctx, s)
		if err != nil {
			return fmt.Errorf("node %s: %w", cur, err)
		}
		if s.suspended {
			return nil
		}
		cur = next
	}
	return nil
}
