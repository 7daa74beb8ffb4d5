package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// ReflectInput describes one synthesis question over stored memories.
type ReflectInput struct {
	TenantID    string
	WorkspaceID string
	ContextID   string

	// Question is what the caller wants answered from memory.
	Question string

	// Limit caps how many memories ground the answer. Defaults to 10.
	Limit int

	Tolerance     types.Tolerance
	IncludeGlobal bool

	Types []types.MemoryType
	Tags  []string
}

// ReflectResult carries the synthesized answer and the memories behind it.
type ReflectResult struct {
	Answer string `json:"answer"`

	// Memories are the recalled memories the answer was grounded on, in the
	// rank order they were handed to the model.
	Memories []*types.Memory `json:"memories"`
}

const reflectPromptTemplate = `Answer the question using ONLY the memories below.
If the memories do not contain the answer, say so plainly.
Cite memories by their number, like [2].

Memories:
%s

Question: %s

Answer:`

// Reflect answers a question by recalling the relevant memories and having
// the model synthesize over them. It needs a configured model; without one it
// fails rather than degrade, because an unsynthesized answer is just recall.
func (e *Engine) Reflect(ctx context.Context, input ReflectInput) (*ReflectResult, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", storage.ErrInvalidInput)
	}
	if e.llm == nil {
		return nil, fmt.Errorf("%w: reflection requires a model", llm.ErrLLMUnavailable)
	}
	if input.Limit < 1 {
		input.Limit = 10
	}

	recalled, err := e.Recall(ctx, RecallInput{
		TenantID:      input.TenantID,
		WorkspaceID:   input.WorkspaceID,
		ContextID:     input.ContextID,
		Query:         input.Question,
		Limit:         input.Limit,
		Mode:          types.ModeRAG,
		Tolerance:     input.Tolerance,
		IncludeGlobal: input.IncludeGlobal,
		Types:         input.Types,
		Tags:          input.Tags,
	})
	if err != nil {
		return nil, err
	}
	if len(recalled.Memories) == 0 {
		return &ReflectResult{Answer: "No relevant memories found."}, nil
	}

	var sb strings.Builder
	for i, m := range recalled.Memories {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, m.Content)
	}

	answer, err := e.llm.Synthesize(ctx,
		fmt.Sprintf(reflectPromptTemplate, sb.String(), input.Question), 0, llm.ProfileReflection)
	if err != nil {
		return nil, fmt.Errorf("engine: reflect: %w", err)
	}

	return &ReflectResult{
		Answer:   strings.TrimSpace(answer),
		Memories: recalled.Memories,
	}, nil
}
