package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramdev/engram/internal/llm"
)

// LLMReranker asks the LLM to order candidates by relevance to the query.
// The model returns a JSON array of zero-based indices, best first.
type LLMReranker struct {
	client llm.Client
}

func NewLLMReranker(client llm.Client) *LLMReranker {
	return &LLMReranker{client: client}
}

const rerankPromptTemplate = `Rank the following documents by relevance to the query.
Query: %s

Documents:
%s

Respond with ONLY a JSON array of the document numbers in relevance order, most relevant first. Example: [2, 0, 1]`

func (r *LLMReranker) Rerank(ctx context.Context, query string, docs []Document, k int) ([]Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for i, d := range docs {
		content := d.Content
		if len(content) > 300 {
			content = content[:300]
		}
		fmt.Fprintf(&sb, "%d: %s\n", i, content)
	}

	prompt := fmt.Sprintf(rerankPromptTemplate, query, sb.String())
	raw, err := r.client.Synthesize(ctx, prompt, 256, llm.ProfileExtraction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankFailed, err)
	}

	var order []int
	if err := json.Unmarshal([]byte(llm.RepairJSON(llm.ExtractJSON(raw))), &order); err != nil {
		return nil, fmt.Errorf("%w: parse ranking: %v", ErrRerankFailed, err)
	}

	seen := make(map[int]bool, len(order))
	var out []Document
	for _, idx := range order {
		if idx < 0 || idx >= len(docs) || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, docs[idx])
	}
	// Documents the model dropped keep their original relative order.
	for i, d := range docs {
		if !seen[i] {
			out = append(out, d)
		}
	}

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

var _ Reranker = (*LLMReranker)(nil)
