package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/engramdev/engram/internal/llm"
)

// Classifier picks a relationship label for a pair of memory contents using
// the LLM. Classification is best effort: any failure falls back to
// DefaultRelationship so graph enrichment never blocks on the model.
type Classifier struct {
	client llm.Client
}

func NewClassifier(client llm.Client) *Classifier {
	return &Classifier{client: client}
}

const classifyPromptTemplate = `Classify the relationship between two memories.

Memory A: %s

Memory B: %s

Choose exactly one label from this list:
%s

Respond with ONLY a JSON object: {"relationship": "<label>"}`

type classifyResult struct {
	Relationship string `json:"relationship"`
}

// ClassifyRelationship returns the catalog label that best describes how
// contentA relates to contentB, or DefaultRelationship when the model is
// unavailable, returns garbage, or picks a label outside the catalog.
func (c *Classifier) ClassifyRelationship(ctx context.Context, contentA, contentB string) string {
	if c == nil || c.client == nil {
		return DefaultRelationship
	}

	prompt := fmt.Sprintf(classifyPromptTemplate,
		truncate(contentA, 400), truncate(contentB, 400),
		strings.Join(All(), ", "))

	raw, err := c.client.Synthesize(ctx, prompt, 64, llm.ProfileExtraction)
	if err != nil {
		log.Printf("ontology: classify relationship: %v", err)
		return DefaultRelationship
	}

	var result classifyResult
	if err := json.Unmarshal([]byte(llm.RepairJSON(llm.ExtractJSON(raw))), &result); err != nil {
		log.Printf("ontology: parse classification: %v", err)
		return DefaultRelationship
	}

	label := strings.TrimSpace(strings.ToLower(result.Relationship))
	if !Validate(label) {
		log.Printf("ontology: model returned unknown label %q, using %s", label, DefaultRelationship)
		return DefaultRelationship
	}
	return label
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
