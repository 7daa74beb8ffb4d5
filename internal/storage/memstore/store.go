// Package memstore provides an in-memory implementation of storage.Store.
// It is the reference backend for tests and works for ephemeral deployments
// where durability is not required. All operations are guarded by a single
// RWMutex; reads return deep copies so callers never alias internal state.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// Ensure Store implements the full contract at compile time.
var _ storage.Store = (*Store)(nil)

// Store is the in-memory backend.
type Store struct {
	mu  sync.RWMutex
	now storage.NowFunc

	workspaces map[string]*types.Workspace // key: tenant + "\x00" + id
	contexts   map[string]*types.Context   // key: tenant + "\x00" + workspace + "\x00" + id

	memories map[string]*types.Memory // key: memory id
	byHash   map[string]string        // key: tenant + "\x00" + workspace + "\x00" + hash → memory id

	associations map[string]*types.Association // key: association id
	triples      map[string]string             // key: tenant/ws/src/tgt/rel → association id

	sessions map[string]*types.Session
	working  map[string]map[string]*types.WorkingMemoryEntry // session id → key → entry

	contradictions map[string]*types.Contradiction
}

// New creates an empty in-memory store with the reserved workspaces and
// contexts provisioned.
func New() *Store {
	s := &Store{
		now:            storage.UTCNow,
		workspaces:     make(map[string]*types.Workspace),
		contexts:       make(map[string]*types.Context),
		memories:       make(map[string]*types.Memory),
		byHash:         make(map[string]string),
		associations:   make(map[string]*types.Association),
		triples:        make(map[string]string),
		sessions:       make(map[string]*types.Session),
		working:        make(map[string]map[string]*types.WorkingMemoryEntry),
		contradictions: make(map[string]*types.Contradiction),
	}
	s.ensureDefaults()
	return s
}

// SetNowFunc overrides the store's clock. Test hook.
func (s *Store) SetNowFunc(now storage.NowFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

func (s *Store) ensureDefaults() {
	now := s.now()
	for _, id := range []string{types.DefaultWorkspaceID, types.GlobalWorkspaceID} {
		key := wsKey(types.DefaultTenantID, id)
		if _, ok := s.workspaces[key]; !ok {
			s.workspaces[key] = &types.Workspace{
				ID:        id,
				TenantID:  types.DefaultTenantID,
				Name:      id,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		ck := ctxKey(types.DefaultTenantID, id, types.DefaultContextID)
		if _, ok := s.contexts[ck]; !ok {
			s.contexts[ck] = &types.Context{
				ID:          types.DefaultContextID,
				TenantID:    types.DefaultTenantID,
				WorkspaceID: id,
				Name:        types.DefaultContextID,
				CreatedAt:   now,
			}
		}
	}
}

func wsKey(tenant, id string) string { return tenant + "\x00" + id }

func ctxKey(tenant, ws, id string) string { return tenant + "\x00" + ws + "\x00" + id }

func hashKey(sc types.Scope, hash string) string {
	return sc.TenantID + "\x00" + sc.WorkspaceID + "\x00" + hash
}

func tripleKey(a *types.Association) string {
	return a.TenantID + "\x00" + a.WorkspaceID + "\x00" + a.SourceID + "\x00" + a.TargetID + "\x00" + a.Relationship
}

// inScope reports whether the memory belongs to the (tenant, workspace) pair.
func inScope(m *types.Memory, sc types.Scope) bool {
	return m.TenantID == sc.TenantID && m.WorkspaceID == sc.WorkspaceID
}

// --- Workspaces and contexts ---

func (s *Store) CreateWorkspace(ctx context.Context, ws *types.Workspace) error {
	if ws == nil || ws.ID == "" {
		return fmt.Errorf("%w: workspace id is required", storage.ErrInvalidInput)
	}
	if ws.TenantID == "" {
		ws.TenantID = types.DefaultTenantID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := wsKey(ws.TenantID, ws.ID)
	if _, ok := s.workspaces[key]; ok {
		return fmt.Errorf("%w: workspace %s", storage.ErrDuplicate, ws.ID)
	}

	now := s.now()
	ws.CreatedAt = now
	ws.UpdatedAt = now
	cp := *ws
	s.workspaces[key] = &cp

	// Every workspace auto-provisions its _default context.
	ck := ctxKey(ws.TenantID, ws.ID, types.DefaultContextID)
	if _, ok := s.contexts[ck]; !ok {
		s.contexts[ck] = &types.Context{
			ID:          types.DefaultContextID,
			TenantID:    ws.TenantID,
			WorkspaceID: ws.ID,
			Name:        types.DefaultContextID,
			CreatedAt:   now,
		}
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, tenantID, id string) (*types.Workspace, error) {
	if tenantID == "" {
		tenantID = types.DefaultTenantID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[wsKey(tenantID, id)]
	if !ok {
		return nil, fmt.Errorf("%w: workspace %s", storage.ErrNotFound, id)
	}
	cp := *ws
	return &cp, nil
}

func (s *Store) UpdateWorkspace(ctx context.Context, ws *types.Workspace) error {
	if ws == nil || ws.ID == "" {
		return fmt.Errorf("%w: workspace id is required", storage.ErrInvalidInput)
	}
	if ws.TenantID == "" {
		ws.TenantID = types.DefaultTenantID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := wsKey(ws.TenantID, ws.ID)
	if _, ok := s.workspaces[key]; !ok {
		return fmt.Errorf("%w: workspace %s", storage.ErrNotFound, ws.ID)
	}
	ws.UpdatedAt = s.now()
	cp := *ws
	s.workspaces[key] = &cp
	return nil
}

func (s *Store) ListWorkspaceScopes(ctx context.Context) ([]types.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scopes := make([]types.Scope, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		scopes = append(scopes, types.Scope{TenantID: ws.TenantID, WorkspaceID: ws.ID})
	}
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].TenantID != scopes[j].TenantID {
			return scopes[i].TenantID < scopes[j].TenantID
		}
		return scopes[i].WorkspaceID < scopes[j].WorkspaceID
	})
	return scopes, nil
}

func (s *Store) CreateContext(ctx context.Context, c *types.Context) error {
	if c == nil || c.ID == "" || c.WorkspaceID == "" {
		return fmt.Errorf("%w: context id and workspace id are required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: context name is required", storage.ErrInvalidInput)
	}
	if c.TenantID == "" {
		c.TenantID = types.DefaultTenantID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := ctxKey(c.TenantID, c.WorkspaceID, c.ID)
	if _, ok := s.contexts[key]; ok {
		return fmt.Errorf("%w: context %s", storage.ErrDuplicate, c.ID)
	}
	for _, existing := range s.contexts {
		if existing.TenantID == c.TenantID && existing.WorkspaceID == c.WorkspaceID && existing.Name == c.Name {
			return fmt.Errorf("%w: context name %q", storage.ErrDuplicate, c.Name)
		}
	}

	c.CreatedAt = s.now()
	cp := *c
	s.contexts[key] = &cp
	return nil
}

func (s *Store) GetContext(ctx context.Context, scope types.Scope, id string) (*types.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[ctxKey(scope.TenantID, scope.WorkspaceID, id)]
	if !ok {
		return nil, fmt.Errorf("%w: context %s", storage.ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

// --- Memories ---

func cloneMemory(m *types.Memory) *types.Memory {
	cp := *m
	if m.Tags != nil {
		cp.Tags = append([]string(nil), m.Tags...)
	}
	if m.Embedding != nil {
		cp.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

func (s *Store) CreateMemory(ctx context.Context, m *types.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: memory id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if m.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace id is required", storage.ErrInvalidInput)
	}
	if m.TenantID == "" {
		m.TenantID = types.DefaultTenantID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memories[m.ID]; ok {
		return fmt.Errorf("%w: memory %s", storage.ErrDuplicate, m.ID)
	}

	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = types.StatusActive
	}
	if m.ContentHash == "" {
		m.ContentHash = types.HashContent(m.Content)
	}
	m.Tags = types.NormalizeTags(m.Tags)

	s.memories[m.ID] = cloneMemory(m)
	s.byHash[hashKey(m.Scope(), m.ContentHash)] = m.ID
	return nil
}

func (s *Store) UpdateMemory(ctx context.Context, m *types.Memory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: memory id is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.memories[m.ID]
	if !ok {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, m.ID)
	}
	if m.TenantID == "" {
		m.TenantID = old.TenantID
	}

	m.UpdatedAt = s.now()
	if m.ContentHash == "" || m.Content != old.Content {
		m.ContentHash = types.HashContent(m.Content)
	}
	m.Tags = types.NormalizeTags(m.Tags)

	if old.ContentHash != m.ContentHash {
		delete(s.byHash, hashKey(old.Scope(), old.ContentHash))
	}
	s.memories[m.ID] = cloneMemory(m)
	s.byHash[hashKey(m.Scope(), m.ContentHash)] = m.ID
	return nil
}

func (s *Store) GetMemory(ctx context.Context, scope types.Scope, id string, trackAccess bool) (*types.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok || !inScope(m, scope) || m.Status == types.StatusDeleted {
		return nil, fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	if trackAccess {
		m.AccessCount++
		t := s.now()
		m.LastAccessedAt = &t
	}
	return cloneMemory(m), nil
}

func (s *Store) GetMemoryByID(ctx context.Context, id string, trackAccess bool) (*types.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok || m.Status == types.StatusDeleted {
		return nil, fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	if trackAccess {
		m.AccessCount++
		t := s.now()
		m.LastAccessedAt = &t
	}
	return cloneMemory(m), nil
}

func (s *Store) GetMemoryByHash(ctx context.Context, scope types.Scope, hash string) (*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hashKey(scope, hash)]
	if !ok {
		return nil, fmt.Errorf("%w: no memory with hash", storage.ErrNotFound)
	}
	m, ok := s.memories[id]
	if !ok || m.Status == types.StatusDeleted {
		return nil, fmt.Errorf("%w: no memory with hash", storage.ErrNotFound)
	}
	return cloneMemory(m), nil
}

func (s *Store) DeleteMemory(ctx context.Context, scope types.Scope, id string, hard bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok || !inScope(m, scope) {
		return false, nil
	}

	if hard {
		delete(s.memories, id)
		delete(s.byHash, hashKey(m.Scope(), m.ContentHash))
		for aid, a := range s.associations {
			if a.TenantID == scope.TenantID && a.WorkspaceID == scope.WorkspaceID && (a.SourceID == id || a.TargetID == id) {
				delete(s.triples, tripleKey(a))
				delete(s.associations, aid)
			}
		}
		return true, nil
	}

	if m.Status == types.StatusDeleted {
		return false, nil
	}
	now := s.now()
	m.Status = types.StatusDeleted
	m.DeletedAt = &now
	m.UpdatedAt = now
	return true, nil
}

func (s *Store) IncrementAccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok || m.Status == types.StatusDeleted {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	m.AccessCount++
	t := s.now()
	m.LastAccessedAt = &t
	return nil
}

func (s *Store) SearchMemories(ctx context.Context, scope types.Scope, queryVec []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	opts.Normalize()
	if len(queryVec) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []storage.SearchResult
	for _, m := range s.memories {
		if !inScope(m, scope) || len(m.Embedding) == 0 {
			continue
		}
		if !storage.MatchesOptions(m, opts) {
			continue
		}
		rel := storage.Cosine(queryVec, m.Embedding)
		if rel < opts.MinRelevance {
			continue
		}
		results = append(results, storage.SearchResult{Memory: cloneMemory(m), Relevance: rel})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})

	if opts.Offset >= len(results) {
		return nil, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *Store) FullTextSearch(ctx context.Context, scope types.Scope, query string, limit, offset int) ([]*types.Memory, error) {
	if limit < 1 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*types.Memory
	for _, m := range s.memories {
		if !inScope(m, scope) || m.Status == types.StatusDeleted {
			continue
		}
		content := strings.ToLower(m.Content)
		hit := len(terms) == 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				hit = true
				break
			}
		}
		if hit {
			matches = append(matches, cloneMemory(m))
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) GetRecentMemories(ctx context.Context, scope types.Scope, opts storage.RecentOptions) ([]*types.Memory, error) {
	if opts.Limit < 1 {
		opts.Limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*types.Memory
	for _, m := range s.memories {
		if !inScope(m, scope) || m.Status == types.StatusDeleted {
			continue
		}
		if !opts.CreatedAfter.IsZero() && !m.CreatedAt.After(opts.CreatedAfter) {
			continue
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if opts.Offset >= len(matches) {
		return nil, nil
	}
	matches = matches[opts.Offset:]
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	out := make([]*types.Memory, 0, len(matches))
	for _, m := range matches {
		out = append(out, storage.ProjectDetailLevel(cloneMemory(m), opts.DetailLevel))
	}
	return out, nil
}

func (s *Store) GetMemoriesForDecay(ctx context.Context, q storage.DecayQuery) ([]*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []*types.Memory
	for _, m := range s.memories {
		if !inScope(m, q.Scope) || m.Status != types.StatusActive {
			continue
		}
		if q.ExcludePinned && m.Pinned {
			continue
		}
		if m.AgeDays(now) < q.MinAgeDays {
			continue
		}
		out = append(out, cloneMemory(m))
	}
	return out, nil
}

func (s *Store) GetArchivalCandidates(ctx context.Context, q storage.ArchivalQuery) ([]*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []*types.Memory
	for _, m := range s.memories {
		if !inScope(m, q.Scope) || m.Status != types.StatusActive || m.Pinned {
			continue
		}
		if m.Importance > q.MaxImportance || m.AccessCount > q.MaxAccessCount {
			continue
		}
		if m.AgeDays(now) < q.MinAgeDays {
			continue
		}
		out = append(out, cloneMemory(m))
	}
	return out, nil
}

func (s *Store) GetWorkspaceStats(ctx context.Context, scope types.Scope) (*types.WorkspaceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &types.WorkspaceStats{WorkspaceID: scope.WorkspaceID}
	for _, m := range s.memories {
		if !inScope(m, scope) || m.Status == types.StatusDeleted {
			continue
		}
		stats.MemoryCount++
		if m.Status == types.StatusArchived {
			stats.ArchivedCount++
		}
	}
	for _, a := range s.associations {
		if a.TenantID == scope.TenantID && a.WorkspaceID == scope.WorkspaceID {
			stats.AssociationCount++
		}
	}
	for _, sess := range s.sessions {
		if sess.TenantID == scope.TenantID && sess.WorkspaceID == scope.WorkspaceID {
			stats.SessionCount++
		}
	}
	for _, c := range s.contradictions {
		if c.TenantID == scope.TenantID && c.WorkspaceID == scope.WorkspaceID && !c.IsResolved() {
			stats.ContradictionCount++
		}
	}
	return stats, nil
}
