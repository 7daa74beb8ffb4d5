package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/engramdev/engram/internal/dedup"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/internal/task"
	"github.com/engramdev/engram/internal/tiering"
	"github.com/engramdev/engram/pkg/types"
)

// mergeSeparator joins the old and new content when a remember lands in the
// merge band.
const mergeSeparator = "\n\n---\n\n"

// RememberInput describes one write to long-term memory.
type RememberInput struct {
	TenantID    string
	WorkspaceID string
	ContextID   string

	Content string

	// Type is optional; when empty the engine classifies the content.
	Type    types.MemoryType
	Subtype types.MemorySubtype

	Tags     []string
	Metadata map[string]interface{}

	// Importance defaults to 0.5 when not set.
	Importance float64
	Pinned     bool

	// Inline forces decomposition and enrichment to run synchronously even
	// when a scheduler is configured.
	Inline bool
}

// RememberResult reports what the write pipeline did.
type RememberResult struct {
	Memory *types.Memory

	// Action is the dedup outcome: skip, update, merge, or create.
	Action dedup.Action

	SimilarityScore float64

	// AutoClassified is true when the engine picked the cognitive type.
	AutoClassified bool

	// Decomposed is true when the content was split into facts inline.
	// FactCount is the number of facts stored in that case.
	Decomposed bool
	FactCount  int
}

// Remember is the write path: ensure scope, embed, dedup, then store or fold
// into an existing memory. Novel composite content is decomposed into facts;
// every stored memory goes through the post-store pipeline (tiers,
// contradiction check, auto-association).
func (e *Engine) Remember(ctx context.Context, input RememberInput) (*RememberResult, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if input.Type != "" && !types.ValidMemoryType(input.Type) {
		return nil, fmt.Errorf("%w: unknown memory type %q", storage.ErrInvalidInput, input.Type)
	}
	if input.Importance < 0 || input.Importance > 1 {
		return nil, fmt.Errorf("%w: importance must be in [0, 1]", storage.ErrInvalidInput)
	}

	ws, err := e.workspaces.EnsureWorkspace(ctx, input.TenantID, input.WorkspaceID)
	if err != nil {
		return nil, err
	}
	scope := types.NewScope(ws.TenantID, ws.ID)
	c, err := e.workspaces.EnsureContext(ctx, scope, input.ContextID)
	if err != nil {
		return nil, err
	}
	input.WorkspaceID = ws.ID
	input.ContextID = c.ID
	input.TenantID = ws.TenantID

	hash := types.HashContent(input.Content)

	// Embedding is essential: without a vector the memory is invisible to
	// dedup and recall, so a provider failure fails the write.
	vec, err := e.embedder.Embed(ctx, input.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedding.ErrEmbeddingFailed, err)
	}

	check, err := e.checker.Check(ctx, scope, hash, vec)
	if err != nil {
		return nil, err
	}

	switch check.Action {
	case dedup.ActionSkip:
		existing, err := e.store.GetMemory(ctx, scope, check.ExistingMemoryID, false)
		if err != nil {
			return nil, err
		}
		return &RememberResult{Memory: existing, Action: dedup.ActionSkip, SimilarityScore: check.SimilarityScore}, nil

	case dedup.ActionUpdate:
		m, err := e.applyUpdate(ctx, scope, check.ExistingMemoryID, input, hash, vec)
		if err != nil {
			return nil, err
		}
		e.invalidateRecall(scope)
		return &RememberResult{Memory: m, Action: dedup.ActionUpdate, SimilarityScore: check.SimilarityScore}, nil

	case dedup.ActionMerge:
		m, err := e.applyMerge(ctx, scope, check.ExistingMemoryID, input)
		if err != nil {
			return nil, err
		}
		e.invalidateRecall(scope)
		return &RememberResult{Memory: m, Action: dedup.ActionMerge, SimilarityScore: check.SimilarityScore}, nil
	}

	m, autoClassified := e.buildMemory(ctx, input, hash, vec)
	if err := e.store.CreateMemory(ctx, m); err != nil {
		return nil, err
	}

	result := &RememberResult{
		Memory:          m,
		Action:          dedup.ActionCreate,
		SimilarityScore: check.SimilarityScore,
		AutoClassified:  autoClassified,
	}

	if e.shouldDecompose(m) {
		if input.Inline || e.scheduler == nil {
			count, err := e.DecomposeAndProcess(ctx, m)
			if err != nil {
				return nil, err
			}
			if count > 1 {
				result.Decomposed = true
				result.FactCount = count
			}
			return result, nil
		}
		e.schedule(task.Task{
			Type:        TaskTypeDecomposeFacts,
			TenantID:    m.TenantID,
			WorkspaceID: m.WorkspaceID,
			Payload:     map[string]interface{}{"memory_id": m.ID},
		})
	}

	e.postStorePipeline(ctx, m, input.Inline, autoClassified)
	return result, nil
}

// applyUpdate refreshes an existing memory with a near-identical restatement.
// The newer phrasing wins outright: content, embedding, and importance all
// come from the restatement, with importance floored at 0.5 because a restated
// memory was evidently worth repeating. A stale high importance is allowed to
// drop when the new write rates the content lower.
func (e *Engine) applyUpdate(ctx context.Context, scope types.Scope, id string, input RememberInput, hash string, vec []float32) (*types.Memory, error) {
	m, err := e.store.GetMemory(ctx, scope, id, false)
	if err != nil {
		return nil, err
	}

	m.Content = input.Content
	m.ContentHash = hash
	m.Embedding = vec
	m.Importance = input.Importance
	if m.Importance < 0.5 {
		m.Importance = 0.5
	}
	m.Abstract = ""
	m.Overview = ""

	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return nil, err
	}
	e.requestTiers(ctx, m, input.Inline)
	return m, nil
}

// applyMerge folds overlapping new content into the existing memory and
// re-embeds the combined text. Importance keeps the higher of the two.
func (e *Engine) applyMerge(ctx context.Context, scope types.Scope, id string, input RememberInput) (*types.Memory, error) {
	m, err := e.store.GetMemory(ctx, scope, id, false)
	if err != nil {
		return nil, err
	}

	merged := m.Content + mergeSeparator + input.Content
	vec, err := e.embedder.Embed(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedding.ErrEmbeddingFailed, err)
	}

	m.Content = merged
	m.ContentHash = types.HashContent(merged)
	m.Embedding = vec
	if input.Importance > m.Importance {
		m.Importance = input.Importance
	}
	m.Abstract = ""
	m.Overview = ""

	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return nil, err
	}
	e.requestTiers(ctx, m, input.Inline)
	return m, nil
}

func (e *Engine) buildMemory(ctx context.Context, input RememberInput, hash string, vec []float32) (*types.Memory, bool) {
	memType := input.Type
	subtype := input.Subtype
	autoClassified := false
	if memType == "" {
		memType, subtype = e.classify(ctx, input.Content)
		autoClassified = true
	}

	importance := input.Importance
	if importance == 0 {
		importance = 0.5
	}

	return &types.Memory{
		ID:          types.NewMemoryID(),
		TenantID:    input.TenantID,
		WorkspaceID: input.WorkspaceID,
		ContextID:   input.ContextID,
		Content:     input.Content,
		ContentHash: hash,
		Type:        memType,
		Subtype:     subtype,
		Tags:        input.Tags,
		Metadata:    input.Metadata,
		Importance:  importance,
		Pinned:      input.Pinned,
		Status:      types.StatusActive,
		Embedding:   vec,
	}, autoClassified
}

// classify picks a cognitive type for unlabeled content. Cheap keyword
// heuristics run first; the extractor's model refines the answer later in the
// enrichment pass.
func (e *Engine) classify(ctx context.Context, content string) (types.MemoryType, types.MemorySubtype) {
	lower := strings.ToLower(content)

	proceduralMarkers := []string{"how to", "step 1", "first,", "then run", "in order to", "procedure", "workflow"}
	for _, marker := range proceduralMarkers {
		if strings.Contains(lower, marker) {
			return types.TypeProcedural, ""
		}
	}

	episodicMarkers := []string{"yesterday", "today", "last week", "this morning", "we decided", "happened", "during the"}
	for _, marker := range episodicMarkers {
		if strings.Contains(lower, marker) {
			return types.TypeEpisodic, ""
		}
	}

	return types.TypeSemantic, ""
}

// shouldDecompose reports whether content is composite enough to split into
// facts: decomposition enabled, not working memory, long enough, and holding
// more than one sentence.
func (e *Engine) shouldDecompose(m *types.Memory) bool {
	if !e.opts.DecompositionEnabled || e.extractor == nil {
		return false
	}
	if m.Type == types.TypeWorking {
		return false
	}
	if len(m.Content) < e.opts.DecompositionMinLength {
		return false
	}
	return countSentences(m.Content) > 1
}

// countSentences counts terminators ('.', ';', '?', '!') followed by
// whitespace or end of text.
func countSentences(s string) int {
	count := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', ';', '?', '!':
			if i == len(s)-1 || s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t' || s[i+1] == '\r' {
				count++
			}
		}
	}
	return count
}

// DecomposeAndProcess splits a composite memory into standalone facts, stores
// each through the dedup pipeline, links them back to the parent with part_of
// edges, and archives the parent. A single-fact result leaves the memory as is
// and runs the normal post-store pipeline on it. Returns the number of facts
// stored.
func (e *Engine) DecomposeAndProcess(ctx context.Context, parent *types.Memory) (int, error) {
	facts := e.extractor.DecomposeToFacts(ctx, parent.Content)
	if len(facts) <= 1 {
		e.postStorePipeline(ctx, parent, true, false)
		return len(facts), nil
	}

	stored := 0
	for _, fact := range facts {
		m, err := e.IngestFact(ctx, parent, fact)
		if err != nil {
			log.Printf("engine: ingest fact for %s: %v", parent.ID, err)
			continue
		}
		if m == nil {
			continue // exact duplicate of an existing memory
		}
		stored++

		if e.assoc != nil {
			_, err := e.assoc.Associate(ctx, parent.Scope(), m.ID, parent.ID, "part_of", 1.0, map[string]interface{}{
				"auto_generated": true,
				"source":         "fact_decomposition",
			})
			if err != nil {
				log.Printf("engine: link fact %s to %s: %v", m.ID, parent.ID, err)
			}
		}
	}

	// The facts supersede the composite even when every one of them folded
	// into an existing memory, so the parent is archived regardless of how
	// many rows the loop created.
	parent.Status = types.StatusArchived
	if err := e.store.UpdateMemory(ctx, parent); err != nil {
		log.Printf("engine: archive composite %s: %v", parent.ID, err)
	}
	e.invalidateRecall(parent.Scope())
	return stored, nil
}

// IngestFact stores one decomposed fact. The fact inherits the parent's
// workspace, type, and tags, records its origin via SourceMemoryID, and runs
// through the full dedup pipeline like any other write: a near-identical
// restatement refreshes the existing memory, an overlapping fact merges into
// it, and only an exact hash duplicate is dropped (returned as nil).
func (e *Engine) IngestFact(ctx context.Context, parent *types.Memory, fact string) (*types.Memory, error) {
	hash := types.HashContent(fact)
	vec, err := e.embedder.Embed(ctx, fact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embedding.ErrEmbeddingFailed, err)
	}

	scope := parent.Scope()
	check, err := e.checker.Check(ctx, scope, hash, vec)
	if err != nil {
		return nil, err
	}

	factInput := RememberInput{
		TenantID:    parent.TenantID,
		WorkspaceID: parent.WorkspaceID,
		ContextID:   parent.ContextID,
		Content:     fact,
		Importance:  parent.Importance,
		Inline:      true,
	}
	switch check.Action {
	case dedup.ActionSkip:
		return nil, nil
	case dedup.ActionUpdate:
		return e.applyUpdate(ctx, scope, check.ExistingMemoryID, factInput, hash, vec)
	case dedup.ActionMerge:
		return e.applyMerge(ctx, scope, check.ExistingMemoryID, factInput)
	}

	subtype := parent.Subtype
	if subtype == "" {
		subtype = types.SubtypeFact
	}
	m := &types.Memory{
		ID:             types.NewMemoryID(),
		TenantID:       parent.TenantID,
		WorkspaceID:    parent.WorkspaceID,
		ContextID:      parent.ContextID,
		Content:        fact,
		ContentHash:    hash,
		Type:           parent.Type,
		Subtype:        subtype,
		Tags:           parent.Tags,
		Importance:     parent.Importance,
		Status:         types.StatusActive,
		SourceMemoryID: parent.ID,
		Embedding:      vec,
	}
	if err := e.store.CreateMemory(ctx, m); err != nil {
		return nil, err
	}

	e.postStorePipelineNoDecompose(ctx, m)
	return m, nil
}

// postStorePipeline runs the enrichment that follows every successful store:
// recall cache invalidation, summary tiers, contradiction detection, and
// auto-association. classifyType re-runs classification with the model, for
// writes where the engine picked the type itself. Inline mode runs it all
// synchronously; otherwise tiers and enrichment go to the scheduler.
func (e *Engine) postStorePipeline(ctx context.Context, m *types.Memory, inline, classifyType bool) {
	e.invalidateRecall(m.Scope())
	e.requestTiers(ctx, m, inline)

	if e.detector != nil {
		if _, err := e.detector.CheckNewMemory(ctx, m); err != nil {
			log.Printf("engine: contradiction check for %s: %v", m.ID, err)
		}
	}

	if inline || e.scheduler == nil {
		e.enrich(ctx, m.Scope(), m.ID, classifyType)
		return
	}
	e.schedule(task.Task{
		Type:        TaskTypeAutoEnrich,
		TenantID:    m.TenantID,
		WorkspaceID: m.WorkspaceID,
		Payload: map[string]interface{}{
			"memory_id":     m.ID,
			"classify_type": classifyType,
		},
	})
}

func (e *Engine) postStorePipelineNoDecompose(ctx context.Context, m *types.Memory) {
	// Facts are already atomic and carry their parent's classification.
	e.postStorePipeline(ctx, m, true, false)
}

func (e *Engine) requestTiers(ctx context.Context, m *types.Memory, inline bool) {
	if e.tiers == nil {
		return
	}
	if inline || e.scheduler == nil {
		if err := e.tiers.GenerateTiers(ctx, m.Scope(), m.ID); err != nil {
			log.Printf("engine: tiers for %s: %v", m.ID, err)
		}
		return
	}
	if scheduler, ok := e.scheduler.(tiering.TaskScheduler); ok {
		if err := tiering.RequestTierGeneration(scheduler, m.Scope(), m.ID); err != nil {
			log.Printf("engine: schedule tiers for %s: %v", m.ID, err)
		}
	}
}

// enrich links a memory to its nearest neighbors and, when the write carried
// no explicit classification, refines type and subtype with the model.
func (e *Engine) enrich(ctx context.Context, scope types.Scope, memoryID string, classifyType bool) {
	m, err := e.store.GetMemory(ctx, scope, memoryID, false)
	if err != nil {
		log.Printf("engine: enrich %s: %v", memoryID, err)
		return
	}

	if e.assoc != nil {
		e.assoc.AutoAssociate(ctx, m)
	}

	if classifyType && e.extractor != nil {
		memType, subtype := e.extractor.ClassifyContent(ctx, m.Content)
		if memType != m.Type || subtype != m.Subtype {
			m.Type = memType
			m.Subtype = subtype
			if err := e.store.UpdateMemory(ctx, m); err != nil {
				log.Printf("engine: reclassify %s: %v", m.ID, err)
			}
		}
	}
}

// DecomposeFactsHandler returns the task handler for asynchronous fact
// decomposition.
func (e *Engine) DecomposeFactsHandler() task.HandlerFunc {
	return func(ctx context.Context, t task.Task) error {
		memoryID, _ := t.Payload["memory_id"].(string)
		if memoryID == "" {
			return fmt.Errorf("%w: decompose task missing memory_id", storage.ErrInvalidInput)
		}
		m, err := e.store.GetMemory(ctx, types.NewScope(t.TenantID, t.WorkspaceID), memoryID, false)
		if err != nil {
			return err
		}
		_, err = e.DecomposeAndProcess(ctx, m)
		return err
	}
}

// AutoEnrichHandler returns the task handler for asynchronous enrichment.
func (e *Engine) AutoEnrichHandler() task.HandlerFunc {
	return func(ctx context.Context, t task.Task) error {
		memoryID, _ := t.Payload["memory_id"].(string)
		if memoryID == "" {
			return fmt.Errorf("%w: enrich task missing memory_id", storage.ErrInvalidInput)
		}
		classifyType, _ := t.Payload["classify_type"].(bool)
		e.enrich(ctx, types.NewScope(t.TenantID, t.WorkspaceID), memoryID, classifyType)
		return nil
	}
}

// RememberWorking stores session scratchpad content as a working memory. It
// skips decomposition and satisfies the session write-behind contract.
func (e *Engine) RememberWorking(ctx context.Context, scope types.Scope, contextID, content string, metadata map[string]interface{}) error {
	_, err := e.Remember(ctx, RememberInput{
		TenantID:    scope.TenantID,
		WorkspaceID: scope.WorkspaceID,
		ContextID:   contextID,
		Content:     content,
		Type:        types.TypeWorking,
		Metadata:    metadata,
		Inline:      true,
	})
	return err
}

// BatchItem is the per-input outcome of RememberBatch.
type BatchItem struct {
	Result *RememberResult
	Err    error
}

// RememberBatch runs the write pipeline over a list of inputs in order. Items
// are independent: one failing write records its error and the batch moves on,
// so later inputs can still dedup against earlier ones.
func (e *Engine) RememberBatch(ctx context.Context, inputs []RememberInput) ([]BatchItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", storage.ErrInvalidInput)
	}

	out := make([]BatchItem, len(inputs))
	for i, input := range inputs {
		if err := ctx.Err(); err != nil {
			out[i].Err = err
			continue
		}
		res, err := e.Remember(ctx, input)
		out[i] = BatchItem{Result: res, Err: err}
	}
	return out, nil
}
