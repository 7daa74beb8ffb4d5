package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/reranker"
	"github.com/engramdev/engram/internal/session"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/internal/task"
	"github.com/engramdev/engram/pkg/types"
)

// Tolerance floors: the effective relevance threshold never drops below the
// caller's tolerance band unless explicitly bypassed with a non-positive
// MinRelevance.
const (
	strictFloor   = 0.6
	moderateFloor = 0.3
	looseFloor    = 0.15
)

// llmPoolCap bounds the widened candidate pool LLM-mode recall fetches.
const llmPoolCap = 50

// expansionDecay is the per-hop score penalty for graph-discovered memories.
const expansionDecay = 0.8

// RecallInput describes one retrieval.
type RecallInput struct {
	TenantID    string
	WorkspaceID string
	ContextID   string

	Query string
	Limit int

	Mode      types.RecallMode
	Tolerance types.Tolerance

	// MinRelevance overrides the tolerance floor. Nil means use the floor;
	// a non-positive value bypasses filtering entirely.
	MinRelevance *float64

	DetailLevel types.DetailLevel

	// IncludeGlobal widens the search to the tenant's _global workspace.
	IncludeGlobal bool

	// IncludeAssociations pulls in memories linked to the direct hits. Nil
	// defers to the engine option, which defaults to expanding.
	IncludeAssociations *bool

	Types []types.MemoryType
	Tags  []string

	// SessionID, when set, slides that session's expiry window as a side
	// effect of the recall.
	SessionID string
}

// RecallTimings breaks recall latency down by stage.
type RecallTimings struct {
	SearchMS int64 `json:"search_ms"`
	ExpandMS int64 `json:"expand_ms"`
	RerankMS int64 `json:"rerank_ms"`
}

// RecallResult carries the ranked memories and how they were produced.
type RecallResult struct {
	Memories []*types.Memory `json:"memories"`

	// Mode is the strategy that actually produced the results; HYBRID
	// reports which leg won.
	Mode types.RecallMode `json:"mode"`

	Threshold float64       `json:"threshold"`
	FromCache bool          `json:"from_cache"`
	Timings   RecallTimings `json:"timings"`
}

// Recall is the read path: ranked vector search with scope and recency
// boosts, optional LLM-widened retrieval, graph expansion, reranking, and
// detail projection. Results are cached per workspace until the next write.
func (e *Engine) Recall(ctx context.Context, input RecallInput) (*RecallResult, error) {
	if input.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace is required", storage.ErrInvalidInput)
	}
	if input.Limit < 1 {
		input.Limit = 10
	}
	if input.Mode == "" {
		input.Mode = types.ModeRAG
	}
	if input.DetailLevel == "" {
		input.DetailLevel = types.DetailFull
	}

	scope := types.NewScope(input.TenantID, input.WorkspaceID)
	input.TenantID = scope.TenantID
	expand := e.opts.IncludeAssociations
	if input.IncludeAssociations != nil {
		expand = *input.IncludeAssociations
	}

	threshold := resolveThreshold(input.MinRelevance, input.Tolerance)
	e.touchSession(input)

	cacheKey := e.recallCacheKey(scope, input, expand, threshold)
	if e.cache != nil {
		if v, ok := e.cache.Get(cacheKey); ok {
			if cached, ok := v.(*RecallResult); ok {
				hit := *cached
				hit.FromCache = true
				return &hit, nil
			}
		}
	}

	result := &RecallResult{Mode: input.Mode, Threshold: threshold}

	var candidates []*types.Memory
	searchStart := time.Now()

	if trivialQuery(input.Query) {
		recent, err := e.store.GetRecentMemories(ctx, scope, storage.RecentOptions{
			Limit:       input.Limit,
			DetailLevel: input.DetailLevel,
		})
		if err != nil {
			return nil, err
		}
		result.Memories = recent
		result.Timings.SearchMS = time.Since(searchStart).Milliseconds()
		e.finishRecall(ctx, cacheKey, result)
		return result, nil
	}

	switch input.Mode {
	case types.ModeRAG:
		var err error
		candidates, err = e.ragSearch(ctx, input, threshold, input.Limit*e.opts.OverfetchFactor, input.Query)
		if err != nil {
			return nil, err
		}

	case types.ModeLLM:
		var err error
		candidates, err = e.llmSearch(ctx, input, threshold)
		if err != nil {
			return nil, err
		}

	case types.ModeHybrid:
		var err error
		candidates, err = e.ragSearch(ctx, input, threshold, input.Limit*e.opts.OverfetchFactor, input.Query)
		if err != nil {
			return nil, err
		}
		if e.hybridNeedsLLM(candidates) {
			widened, err := e.llmSearch(ctx, input, threshold)
			if err != nil {
				log.Printf("engine: hybrid llm leg: %v", err)
			} else {
				candidates = mergeCandidates(candidates, widened)
				result.Mode = types.ModeLLM
			}
		}

	default:
		return nil, fmt.Errorf("%w: unknown recall mode %q", storage.ErrInvalidInput, input.Mode)
	}
	result.Timings.SearchMS = time.Since(searchStart).Milliseconds()

	if expand && len(candidates) > 0 {
		expandStart := time.Now()
		candidates = e.expandGraph(ctx, scope, candidates)
		result.Timings.ExpandMS = time.Since(expandStart).Milliseconds()
	}

	rerankStart := time.Now()
	final := e.rankAndTruncate(ctx, input.Query, candidates, input.Limit)
	result.Timings.RerankMS = time.Since(rerankStart).Milliseconds()

	if input.DetailLevel != types.DetailFull {
		for i, m := range final {
			final[i] = storage.ProjectDetailLevel(m, input.DetailLevel)
		}
	}
	result.Memories = final

	e.finishRecall(ctx, cacheKey, result)
	return result, nil
}

// resolveThreshold turns (explicit minimum, tolerance) into the effective
// relevance floor. An explicit non-positive value disables filtering; an
// explicit positive value is clamped up to the tolerance floor.
func resolveThreshold(min *float64, tolerance types.Tolerance) float64 {
	floor := moderateFloor
	switch tolerance {
	case types.ToleranceStrict:
		floor = strictFloor
	case types.ToleranceLoose:
		floor = looseFloor
	}

	if min == nil {
		return floor
	}
	if *min <= 0 {
		return 0
	}
	if *min < floor {
		return floor
	}
	return *min
}

// trivialQuery reports whether the query is a browse rather than a search.
func trivialQuery(q string) bool {
	q = strings.TrimSpace(q)
	return q == "" || q == "*" || q == "**"
}

// ragSearch embeds the query and runs scoped vector search, applying the
// scope and recency boosts to every hit.
func (e *Engine) ragSearch(ctx context.Context, input RecallInput, threshold float64, fetch int, query string) ([]*types.Memory, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine: embed query: %w", err)
	}

	scope := types.NewScope(input.TenantID, input.WorkspaceID)
	scopes := []types.Scope{scope}
	if input.IncludeGlobal && scope.WorkspaceID != types.GlobalWorkspaceID {
		scopes = append(scopes, scope.WithWorkspace(types.GlobalWorkspaceID))
	}

	now := e.now()
	var out []*types.Memory
	for _, sc := range scopes {
		results, err := e.store.SearchMemories(ctx, sc, vec, storage.SearchOptions{
			Limit:        fetch,
			MinRelevance: threshold,
			Types:        input.Types,
			Tags:         input.Tags,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			out = append(out, e.scoreHit(r.Memory, r.Relevance, input, now))
		}
	}
	return out, nil
}

// scoreHit classifies the hit's scope relative to the query and computes its
// boosted, recency-adjusted score.
func (e *Engine) scoreHit(m *types.Memory, relevance float64, input RecallInput, now time.Time) *types.Memory {
	scope := types.ScopeOther
	boost := 1.0
	switch {
	case m.WorkspaceID == input.WorkspaceID && input.ContextID != "" && m.ContextID == input.ContextID:
		scope = types.ScopeSameContext
		boost = e.opts.SameContextBoost
	case m.WorkspaceID == input.WorkspaceID:
		scope = types.ScopeSameWorkspace
		boost = e.opts.SameWorkspaceBoost
	case m.WorkspaceID == types.GlobalWorkspaceID:
		scope = types.ScopeGlobalWorkspace
	}

	m.SourceScope = scope
	m.RelevanceScore = relevance
	m.BoostedScore = relevance * boost * e.recencyFactor(m, now)
	return m
}

// recencyFactor is 1.0 for brand-new memories and decays toward (1 - weight)
// with the configured half-life.
func (e *Engine) recencyFactor(m *types.Memory, now time.Time) float64 {
	w := e.opts.RecencyWeight
	if w <= 0 {
		return 1.0
	}
	ageHours := now.Sub(m.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return (1 - w) + w*math.Exp(-math.Ln2*ageHours/e.opts.RecencyHalfLifeHours)
}

// llmSearch is the model-assisted leg: the query is optionally rewritten for
// retrieval, the relevance floor is halved, and the candidate pool widened,
// leaving the final selection to the reranker.
func (e *Engine) llmSearch(ctx context.Context, input RecallInput, threshold float64) ([]*types.Memory, error) {
	query := input.Query
	if rewritten := e.rewriteQuery(ctx, input.Query); rewritten != "" {
		query = rewritten
	}

	fetch := input.Limit * 3
	if fetch > llmPoolCap {
		fetch = llmPoolCap
	}
	return e.ragSearch(ctx, input, threshold/2, fetch, query)
}

const rewritePromptTemplate = `Rewrite this search query to maximize semantic retrieval recall.
Expand abbreviations and add close synonyms. Keep it under 30 words.

Query: %s

Respond with ONLY the rewritten query text.`

// rewriteQuery asks the model for a retrieval-friendly restatement. Any
// failure returns "" and the caller keeps the raw query.
func (e *Engine) rewriteQuery(ctx context.Context, query string) string {
	if e.llm == nil {
		return ""
	}
	raw, err := e.llm.Synthesize(ctx, fmt.Sprintf(rewritePromptTemplate, query), 128, llm.ProfileDefault)
	if err != nil {
		log.Printf("engine: query rewrite: %v", err)
		return ""
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"`))
}

// hybridNeedsLLM decides whether the RAG leg was strong enough to stand
// alone: an empty result or a weak top hit falls through to the LLM leg.
func (e *Engine) hybridNeedsLLM(candidates []*types.Memory) bool {
	if len(candidates) == 0 {
		return true
	}
	top := candidates[0]
	for _, m := range candidates[1:] {
		if m.BoostedScore > top.BoostedScore {
			top = m
		}
	}
	return top.Importance < e.opts.HybridRAGThreshold
}

func mergeCandidates(a, b []*types.Memory) []*types.Memory {
	seen := make(map[string]bool, len(a))
	out := make([]*types.Memory, 0, len(a)+len(b))
	for _, m := range a {
		seen[m.ID] = true
		out = append(out, m)
	}
	for _, m := range b {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

// expandGraph walks associations out from each direct hit and scores the
// discovered memories by seed score, path strength, and hop distance:
// seed.BoostedScore * path.TotalStrength * 0.8^depth.
func (e *Engine) expandGraph(ctx context.Context, scope types.Scope, seeds []*types.Memory) []*types.Memory {
	present := make(map[string]bool, len(seeds))
	for _, m := range seeds {
		present[m.ID] = true
	}

	out := seeds
	added := 0
	for _, seed := range seeds {
		if added >= e.opts.MaxGraphExpansion {
			break
		}
		paths, err := e.store.TraverseGraph(ctx, scope, seed.ID, e.opts.TraverseDepth, nil, types.DirectionBoth)
		if err != nil {
			log.Printf("engine: expand from %s: %v", seed.ID, err)
			continue
		}

		for _, p := range paths {
			if added >= e.opts.MaxGraphExpansion {
				break
			}
			if len(p.Nodes) == 0 {
				continue
			}
			node := p.Nodes[len(p.Nodes)-1]
			if present[node.ID] || node.Status != types.StatusActive {
				continue
			}

			score := seed.BoostedScore * p.TotalStrength * math.Pow(expansionDecay, float64(p.Depth))
			discovered := *node
			discovered.SourceScope = types.ScopeAssociation
			discovered.RelevanceScore = score
			discovered.BoostedScore = score

			present[node.ID] = true
			out = append(out, &discovered)
			added++
		}
	}
	return out
}

// rankAndTruncate orders candidates and cuts to limit. A configured reranker
// gets the final say when the pool is larger than the limit; otherwise score
// order decides.
func (e *Engine) rankAndTruncate(ctx context.Context, query string, candidates []*types.Memory, limit int) []*types.Memory {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].BoostedScore > candidates[j].BoostedScore
	})

	if e.rerank == nil || trivialQuery(query) || len(candidates) <= limit {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates
	}

	byID := make(map[string]*types.Memory, len(candidates))
	docs := make([]reranker.Document, len(candidates))
	for i, m := range candidates {
		byID[m.ID] = m
		docs[i] = reranker.Document{Ref: m.ID, Content: m.Content, Score: m.BoostedScore}
	}

	k := reranker.AdaptiveK(limit, len(docs))
	ranked, err := e.rerank.Rerank(ctx, query, docs, k)
	if err != nil {
		log.Printf("engine: rerank: %v", err)
		return candidates[:limit]
	}

	out := make([]*types.Memory, 0, limit)
	for _, d := range ranked {
		if m, ok := byID[d.Ref]; ok {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	if len(out) == 0 {
		return candidates[:limit]
	}
	return out
}

// finishRecall caches the result and records the reads as accesses. Access
// accounting is fire-and-forget.
func (e *Engine) finishRecall(ctx context.Context, cacheKey string, result *RecallResult) {
	if e.cache != nil {
		e.cache.Set(cacheKey, result)
	}

	var wg sync.WaitGroup
	for _, m := range result.Memories {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := e.store.IncrementAccess(ctx, id); err != nil {
				log.Printf("engine: track access %s: %v", id, err)
			}
		}(m.ID)
	}
	wg.Wait()
}

// touchSession slides the calling session's expiry window without blocking
// the recall.
func (e *Engine) touchSession(input RecallInput) {
	if input.SessionID == "" || e.scheduler == nil {
		return
	}
	e.schedule(task.Task{
		Type:        session.TaskTypeTouchSession,
		TenantID:    input.TenantID,
		WorkspaceID: input.WorkspaceID,
		Payload:     map[string]interface{}{"session_id": input.SessionID},
	})
}

// recallCacheKey is deterministic over every input that changes the result.
func (e *Engine) recallCacheKey(scope types.Scope, input RecallInput, expand bool, threshold float64) string {
	var sb strings.Builder
	sb.WriteString(input.Query)
	sb.WriteByte('|')
	sb.WriteString(input.ContextID)
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "%d|%s|%.4f|%s|%t|%t", input.Limit, input.Mode, threshold, input.DetailLevel, input.IncludeGlobal, expand)
	for _, t := range input.Types {
		sb.WriteByte('|')
		sb.WriteString(string(t))
	}
	for _, tag := range input.Tags {
		sb.WriteByte('|')
		sb.WriteString(tag)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%s%x", recallCachePrefix(scope), sum[:16])
}
