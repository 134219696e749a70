package logistics

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/waybill/agent/pkg/workflow/logistics/prompts"
)

// Prompts holds the workflow prompt templates loaded from embedded files.
type Prompts struct {
	Ambiguity string
	Clarify   string
	Split     string
	Routing   string
	Generate  string
	Format    string
	RAGDecide string
	Grade     string
	Rewrite   string
	Answer    string
	Direct    string
}

// GetPrompt returns the prompt content for the given name.
// This implements the workflow.PromptsProvider interface.
func (p *Prompts) GetPrompt(name string) string {
	switch name {
	case "ambiguity":
		return p.Ambiguity
	case "clarify":
		return p.Clarify
	case "split":
		return p.Split
	case "routing":
		return p.Routing
	case "generate":
		return p.Generate
	case "format":
		return p.Format
	case "rag_decide":
		return p.RAGDecide
	case "grade":
		return p.Grade
	case "rewrite":
		return p.Rewrite
	case "answer":
		return p.Answer
	case "direct":
		return p.Direct
	default:
		return ""
	}
}

// LoadPrompts loads all workflow prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}
	for _, entry := range []struct {
		file string
		dst  *string
	}{
		{"AMBIGUITY.md", &p.Ambiguity},
		{"CLARIFY.md", &p.Clarify},
		{"SPLIT.md", &p.Split},
		{"ROUTING.md", &p.Routing},
		{"GENERATE.md", &p.Generate},
		{"FORMAT.md", &p.Format},
		{"RAG_DECIDE.md", &p.RAGDecide},
		{"GRADE.md", &p.Grade},
		{"REWRITE.md", &p.Rewrite},
		{"ANSWER.md", &p.Answer},
		{"DIRECT.md", &p.Direct},
	} {
		data, err := prompts.FS.ReadFile(entry.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt %s: %w", entry.file, err)
		}
		*entry.dst = strings.TrimSpace(string(data))
	}
	return p, nil
}
