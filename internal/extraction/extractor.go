// Package extraction turns raw text into structured memory material: fact
// decomposition for composite content, cognitive classification, and bulk
// extraction from session transcripts.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/pkg/types"
)

// categoryTable maps the extraction categories the model is asked to use onto
// the cognitive type and subtype of the stored memory.
var categoryTable = map[string]struct {
	Type    types.MemoryType
	Subtype types.MemorySubtype
}{
	"profile":     {types.TypeSemantic, types.SubtypeProfile},
	"preferences": {types.TypeSemantic, types.SubtypePreference},
	"entities":    {types.TypeSemantic, types.SubtypeEntity},
	"events":      {types.TypeEpisodic, types.SubtypeEvent},
	"cases":       {types.TypeEpisodic, types.SubtypeCase},
	"patterns":    {types.TypeProcedural, types.SubtypePattern},
}

// MapCategory resolves an extraction category to a (type, subtype) pair.
// Unknown categories fall back to plain semantic knowledge.
func MapCategory(category string) (types.MemoryType, types.MemorySubtype) {
	if entry, ok := categoryTable[strings.ToLower(strings.TrimSpace(category))]; ok {
		return entry.Type, entry.Subtype
	}
	return types.TypeSemantic, ""
}

// Extractor runs LLM-backed decomposition and classification.
type Extractor struct {
	client llm.Client
}

func NewExtractor(client llm.Client) *Extractor {
	return &Extractor{client: client}
}

const decomposePromptTemplate = `Break the following text into independent, self-contained facts.
Each fact must stand alone without needing the others for context.

Text: %s

Respond with ONLY a JSON array of fact strings. Example: ["fact one", "fact two"]`

// DecomposeToFacts splits composite content into standalone facts. When the
// model is unavailable or returns nothing usable, the original content comes
// back as a single fact so the caller's pipeline still runs.
func (e *Extractor) DecomposeToFacts(ctx context.Context, content string) []string {
	if e == nil || e.client == nil {
		return []string{content}
	}

	raw, err := e.client.Synthesize(ctx, fmt.Sprintf(decomposePromptTemplate, content), 0, llm.ProfileExtraction)
	if err != nil {
		log.Printf("extraction: decompose: %v", err)
		return []string{content}
	}

	var facts []string
	if err := json.Unmarshal([]byte(llm.RepairJSON(llm.ExtractJSON(raw))), &facts); err != nil {
		log.Printf("extraction: parse facts: %v", err)
		return []string{content}
	}

	var out []string
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return []string{content}
	}
	return out
}

const classifyPromptTemplate = `Classify the following text into exactly one category:
profile, preferences, entities, events, cases, patterns.

Text: %s

Respond with ONLY a JSON object: {"category": "<category>"}`

// ClassifyContent assigns a cognitive type and subtype to content. Any model
// failure degrades to plain semantic with no subtype.
func (e *Extractor) ClassifyContent(ctx context.Context, content string) (types.MemoryType, types.MemorySubtype) {
	if e == nil || e.client == nil {
		return types.TypeSemantic, ""
	}

	raw, err := e.client.Synthesize(ctx, fmt.Sprintf(classifyPromptTemplate, content), 64, llm.ProfileExtraction)
	if err != nil {
		log.Printf("extraction: classify: %v", err)
		return types.TypeSemantic, ""
	}

	var result struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(llm.RepairJSON(llm.ExtractJSON(raw))), &result); err != nil {
		log.Printf("extraction: parse classification: %v", err)
		return types.TypeSemantic, ""
	}
	return MapCategory(result.Category)
}

// SessionOptions tunes bulk extraction from a transcript.
type SessionOptions struct {
	// MinImportance drops extracted items the model rated below this value.
	MinImportance float64

	// MaxMemories caps how many candidates one transcript may yield.
	// Zero means the default of 20.
	MaxMemories int

	// DedupContent drops candidates whose content repeats within the batch.
	DedupContent bool
}

const sessionPromptTemplate = `Extract the facts worth remembering long-term from this conversation.
Categories: profile, preferences, entities, events, cases, patterns.
Rate each fact's importance from 0.0 to 1.0.

Conversation:
%s

Respond with ONLY a JSON array: [{"content": "...", "category": "...", "importance": 0.5}]`

type extractedItem struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
}

// ExtractFromSession pulls memory candidates out of a session transcript.
// Returned memories carry generated ids and classification but are not
// persisted; the caller routes them through the normal remember pipeline.
func (e *Extractor) ExtractFromSession(ctx context.Context, scope types.Scope, transcript string, opts SessionOptions) ([]*types.Memory, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}
	if e == nil || e.client == nil {
		return nil, llm.ErrLLMUnavailable
	}
	if opts.MaxMemories <= 0 {
		opts.MaxMemories = 20
	}

	raw, err := e.client.Synthesize(ctx, fmt.Sprintf(sessionPromptTemplate, transcript), 0, llm.ProfileExtraction)
	if err != nil {
		return nil, fmt.Errorf("extraction: session: %w", err)
	}

	var items []extractedItem
	if err := json.Unmarshal([]byte(llm.RepairJSON(llm.ExtractJSON(raw))), &items); err != nil {
		return nil, fmt.Errorf("extraction: parse session items: %w", err)
	}

	seen := make(map[string]bool)
	var out []*types.Memory
	for _, item := range items {
		content := strings.TrimSpace(item.Content)
		if content == "" || item.Importance < opts.MinImportance {
			continue
		}
		if opts.DedupContent {
			key := strings.ToLower(content)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		if len(out) >= opts.MaxMemories {
			break
		}

		memType, subtype := MapCategory(item.Category)
		out = append(out, &types.Memory{
			ID:          types.NewMemoryID(),
			TenantID:    scope.TenantID,
			WorkspaceID: scope.WorkspaceID,
			Content:     content,
			ContentHash: types.HashContent(content),
			Type:        memType,
			Subtype:     subtype,
			Importance:  item.Importance,
			Status:      types.StatusActive,
		})
	}
	return out, nil
}
