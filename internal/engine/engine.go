// Package engine is the memory orchestrator: it owns the write pipeline
// (dedup, classification, decomposition, post-store enrichment) and the read
// pipeline (ranked recall with graph expansion and reranking), delegating
// each concern to its service.
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/engramdev/engram/internal/association"
	"github.com/engramdev/engram/internal/cache"
	"github.com/engramdev/engram/internal/contradiction"
	"github.com/engramdev/engram/internal/dedup"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/extraction"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/reranker"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/internal/task"
	"github.com/engramdev/engram/internal/tiering"
	"github.com/engramdev/engram/internal/workspace"
	"github.com/engramdev/engram/pkg/types"
)

// Background task types owned by the engine.
const (
	TaskTypeDecomposeFacts = "decompose_facts"
	TaskTypeAutoEnrich     = "auto_enrich"
)

// TaskScheduler enqueues background work. Satisfied by *task.Scheduler.
// A nil scheduler makes the engine run everything inline.
type TaskScheduler interface {
	Schedule(t task.Task) error
}

// Options are the engine's tuning knobs. Zero values resolve to defaults.
type Options struct {
	OverfetchFactor      int
	MaxGraphExpansion    int
	TraverseDepth        int
	RecencyWeight        float64
	RecencyHalfLifeHours float64
	SameContextBoost     float64
	SameWorkspaceBoost   float64

	// IncludeAssociations controls whether recall expands direct hits through
	// the association graph when the caller does not say either way.
	IncludeAssociations bool

	DecompositionEnabled   bool
	DecompositionMinLength int

	// HybridRAGThreshold is the top-1 importance below which HYBRID recall
	// falls through from RAG to LLM mode.
	HybridRAGThreshold float64
}

// DefaultOptions returns the production recall and decomposition settings.
func DefaultOptions() Options {
	return Options{
		OverfetchFactor:        3,
		MaxGraphExpansion:      50,
		TraverseDepth:          2,
		RecencyWeight:          0.3,
		RecencyHalfLifeHours:   168,
		SameContextBoost:       1.5,
		SameWorkspaceBoost:     1.2,
		IncludeAssociations:    true,
		DecompositionEnabled:   true,
		DecompositionMinLength: 200,
		HybridRAGThreshold:     0.5,
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.OverfetchFactor < 1 {
		o.OverfetchFactor = def.OverfetchFactor
	}
	if o.MaxGraphExpansion < 1 {
		o.MaxGraphExpansion = def.MaxGraphExpansion
	}
	if o.TraverseDepth < 0 {
		o.TraverseDepth = def.TraverseDepth
	}
	if o.RecencyHalfLifeHours <= 0 {
		o.RecencyHalfLifeHours = def.RecencyHalfLifeHours
	}
	if o.SameContextBoost <= 0 {
		o.SameContextBoost = def.SameContextBoost
	}
	if o.SameWorkspaceBoost <= 0 {
		o.SameWorkspaceBoost = def.SameWorkspaceBoost
	}
	if o.DecompositionMinLength < 1 {
		o.DecompositionMinLength = def.DecompositionMinLength
	}
	if o.HybridRAGThreshold <= 0 {
		o.HybridRAGThreshold = def.HybridRAGThreshold
	}
}

// Engine wires the services into the remember/recall orchestration.
type Engine struct {
	store      storage.Store
	embedder   embedding.Provider
	checker    *dedup.Checker
	assoc      *association.Service
	detector   *contradiction.Detector
	extractor  *extraction.Extractor
	llm        llm.Client
	tiers      *tiering.Generator
	rerank     reranker.Reranker
	workspaces *workspace.Service
	scheduler  TaskScheduler
	cache      cache.Cache
	opts       Options
	now        storage.NowFunc
}

// Deps carries the engine's collaborators. Store and Embedder are required;
// everything else degrades gracefully when nil.
type Deps struct {
	Store      storage.Store
	Embedder   embedding.Provider
	Checker    *dedup.Checker
	Assoc      *association.Service
	Detector   *contradiction.Detector
	Extractor  *extraction.Extractor
	LLM        llm.Client
	Tiers      *tiering.Generator
	Reranker   reranker.Reranker
	Workspaces *workspace.Service
	Scheduler  TaskScheduler
	Cache      cache.Cache
}

func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("engine: embedding provider is required")
	}
	opts.normalize()

	if deps.Checker == nil {
		deps.Checker = dedup.NewChecker(deps.Store, dedup.DefaultOptions())
	}
	if deps.Workspaces == nil {
		deps.Workspaces = workspace.NewService(deps.Store)
	}
	return &Engine{
		store:      deps.Store,
		embedder:   deps.Embedder,
		checker:    deps.Checker,
		assoc:      deps.Assoc,
		detector:   deps.Detector,
		extractor:  deps.Extractor,
		llm:        deps.LLM,
		tiers:      deps.Tiers,
		rerank:     deps.Reranker,
		workspaces: deps.Workspaces,
		scheduler:  deps.Scheduler,
		cache:      deps.Cache,
		opts:       opts,
		now:        storage.UTCNow,
	}, nil
}

// SetNowFunc overrides the engine clock. Test hook.
func (e *Engine) SetNowFunc(now storage.NowFunc) {
	e.now = now
}

// recallCachePrefix scopes cached recall results to a tenant workspace so
// writes can invalidate them as a group.
func recallCachePrefix(scope types.Scope) string {
	return "recall:" + scope.String() + ":"
}

// Forget deletes a memory. Soft delete hides it from every read path; hard
// delete purges the row, its associations, and its full-text entry. Returns
// whether a row was affected.
func (e *Engine) Forget(ctx context.Context, scope types.Scope, id string, hard bool) (bool, error) {
	affected, err := e.store.DeleteMemory(ctx, scope, id, hard)
	if err != nil {
		return false, err
	}
	if affected {
		e.invalidateRecall(scope)
	}
	return affected, nil
}

// Decay lowers one memory's importance: new = max(0, old - rate).
func (e *Engine) Decay(ctx context.Context, scope types.Scope, id string, rate float64) (*types.Memory, error) {
	if rate < 0 {
		return nil, fmt.Errorf("%w: decay rate must be >= 0", storage.ErrInvalidInput)
	}
	m, err := e.store.GetMemory(ctx, scope, id, false)
	if err != nil {
		return nil, err
	}
	m.Importance -= rate
	if m.Importance < 0 {
		m.Importance = 0
	}
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get is a tracking read scoped to a tenant workspace.
func (e *Engine) Get(ctx context.Context, scope types.Scope, id string) (*types.Memory, error) {
	return e.store.GetMemory(ctx, scope, id, true)
}

// GetByID is a tracking read without a workspace filter.
func (e *Engine) GetByID(ctx context.Context, id string) (*types.Memory, error) {
	return e.store.GetMemoryByID(ctx, id, true)
}

func (e *Engine) invalidateRecall(scope types.Scope) {
	if e.cache == nil {
		return
	}
	e.cache.ClearPrefix(recallCachePrefix(scope))
}

func (e *Engine) schedule(t task.Task) bool {
	if e.scheduler == nil {
		return false
	}
	if err := e.scheduler.Schedule(t); err != nil {
		log.Printf("engine: schedule %s: %v", t.Type, err)
		return false
	}
	return true
}
