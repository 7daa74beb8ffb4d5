// Package tiering maintains the hierarchical summaries of a memory: a one
// line abstract and a paragraph overview sitting above the full content.
// Recall serves whichever tier the caller asks for, falling back to truncated
// content when a tier has not been generated yet.
package tiering

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/internal/task"
	"github.com/engramdev/engram/pkg/types"
)

// TaskTypeGenerateTiers is the background task for asynchronous tier
// generation. The payload carries memory_id.
const TaskTypeGenerateTiers = "generate_tiers"

// minContentLength is the content size below which tiers add nothing; the
// full content already fits in an abstract.
const minContentLength = 120

// TaskScheduler enqueues background work. Satisfied by *task.Scheduler.
type TaskScheduler interface {
	Schedule(t task.Task) error
}

// Generator produces and persists summary tiers.
type Generator struct {
	store  storage.Store
	client llm.Client
}

func NewGenerator(store storage.Store, client llm.Client) *Generator {
	return &Generator{store: store, client: client}
}

const tierPromptTemplate = `Summarize the following text at two levels of detail.
"abstract": one sentence, at most 100 characters.
"overview": one paragraph, at most 500 characters.

Text: %s

Respond with ONLY a JSON object: {"abstract": "...", "overview": "..."}`

// GenerateTiers produces the abstract and overview for a memory and persists
// them. Short content is skipped: the full text already is its own abstract.
func (g *Generator) GenerateTiers(ctx context.Context, scope types.Scope, memoryID string) error {
	m, err := g.store.GetMemory(ctx, scope, memoryID, false)
	if err != nil {
		return fmt.Errorf("tiering: %w", err)
	}
	if len(m.Content) < minContentLength {
		return nil
	}

	raw, err := g.client.Synthesize(ctx, fmt.Sprintf(tierPromptTemplate, m.Content), 0, llm.ProfileReflection)
	if err != nil {
		return fmt.Errorf("tiering: generate for %s: %w", memoryID, err)
	}

	var tiers struct {
		Abstract string `json:"abstract"`
		Overview string `json:"overview"`
	}
	if err := json.Unmarshal([]byte(llm.RepairJSON(llm.ExtractJSON(raw))), &tiers); err != nil {
		return fmt.Errorf("tiering: parse tiers for %s: %w", memoryID, err)
	}

	tiers.Abstract = strings.TrimSpace(tiers.Abstract)
	tiers.Overview = strings.TrimSpace(tiers.Overview)
	if tiers.Abstract == "" && tiers.Overview == "" {
		return fmt.Errorf("tiering: empty tiers for %s", memoryID)
	}

	m.Abstract = tiers.Abstract
	m.Overview = tiers.Overview
	if err := g.store.UpdateMemory(ctx, m); err != nil {
		return fmt.Errorf("tiering: persist tiers for %s: %w", memoryID, err)
	}
	return nil
}

// RequestTierGeneration enqueues asynchronous tier generation for a memory.
func RequestTierGeneration(scheduler TaskScheduler, scope types.Scope, memoryID string) error {
	return scheduler.Schedule(task.Task{
		Type:        TaskTypeGenerateTiers,
		TenantID:    scope.TenantID,
		WorkspaceID: scope.WorkspaceID,
		Payload:     map[string]interface{}{"memory_id": memoryID},
	})
}

// Handler adapts the generator to the task scheduler.
func (g *Generator) Handler() task.HandlerFunc {
	return func(ctx context.Context, t task.Task) error {
		memoryID, _ := t.Payload["memory_id"].(string)
		if memoryID == "" {
			return fmt.Errorf("tiering: task %s missing memory_id", t.ID)
		}
		return g.GenerateTiers(ctx, types.NewScope(t.TenantID, t.WorkspaceID), memoryID)
	}
}

// TierContent returns the requested tier of a memory with fallback to
// truncated content, mirroring what recall serves.
func TierContent(m *types.Memory, level types.DetailLevel) string {
	return storage.ProjectDetailLevel(m, level).Content
}
