package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// scopeFor is the default-tenant scope of a workspace.
func scopeFor(ws string) types.Scope { return types.NewScope("", ws) }

func newMemory(ws, id, content string) *types.Memory {
	return &types.Memory{
		ID:          id,
		TenantID:    types.DefaultTenantID,
		WorkspaceID: ws,
		ContextID:   types.DefaultContextID,
		Content:     content,
		Type:        types.TypeSemantic,
		Importance:  0.5,
		Status:      types.StatusActive,
	}
}

func TestNew_ProvisionsReservedWorkspaces(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, id := range []string{types.DefaultWorkspaceID, types.GlobalWorkspaceID} {
		ws, err := s.GetWorkspace(ctx, "", id)
		require.NoError(t, err)
		assert.Equal(t, id, ws.ID)

		c, err := s.GetContext(ctx, scopeFor(id), types.DefaultContextID)
		require.NoError(t, err)
		assert.Equal(t, types.DefaultContextID, c.ID)
	}
}

func TestCreateWorkspace_AutoProvisionsDefaultContext(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.CreateWorkspace(ctx, &types.Workspace{ID: "proj", TenantID: "t1", Name: "Project"})
	require.NoError(t, err)

	c, err := s.GetContext(ctx, types.NewScope("t1", "proj"), types.DefaultContextID)
	require.NoError(t, err)
	assert.Equal(t, "proj", c.WorkspaceID)
}

func TestGetMemoryByHash(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	m := newMemory(ws, types.NewMemoryID(), "A")
	require.NoError(t, s.CreateMemory(ctx, m))

	got, err := s.GetMemoryByHash(ctx, scopeFor(ws), types.HashContent("A"))
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	// Hash lookup is workspace scoped.
	_, err = s.GetMemoryByHash(ctx, scopeFor(types.GlobalWorkspaceID), types.HashContent("A"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Soft-deleted memories are not duplicate candidates.
	_, err = s.DeleteMemory(ctx, scopeFor(ws), m.ID, false)
	require.NoError(t, err)
	_, err = s.GetMemoryByHash(ctx, scopeFor(ws), types.HashContent("A"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetMemory_TrackAccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	m := newMemory(ws, types.NewMemoryID(), "tracked content")
	require.NoError(t, s.CreateMemory(ctx, m))

	// Non-tracking reads leave the counter alone.
	got, err := s.GetMemory(ctx, scopeFor(ws), m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AccessCount)
	assert.Nil(t, got.LastAccessedAt)

	got, err = s.GetMemory(ctx, scopeFor(ws), m.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.NotNil(t, got.LastAccessedAt)

	got, err = s.GetMemory(ctx, scopeFor(ws), m.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
}

func TestDeleteMemory_SoftAndHard(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	m := newMemory(ws, types.NewMemoryID(), "to be forgotten")
	require.NoError(t, s.CreateMemory(ctx, m))

	affected, err := s.DeleteMemory(ctx, scopeFor(ws), m.ID, false)
	require.NoError(t, err)
	assert.True(t, affected)

	_, err = s.GetMemory(ctx, scopeFor(ws), m.ID, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Second soft delete affects nothing.
	affected, err = s.DeleteMemory(ctx, scopeFor(ws), m.ID, false)
	require.NoError(t, err)
	assert.False(t, affected)

	affected, err = s.DeleteMemory(ctx, scopeFor(ws), m.ID, true)
	require.NoError(t, err)
	assert.True(t, affected)
}

func TestHardDelete_PurgesAssociations(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	a := newMemory(ws, "mem_a", "memory a")
	b := newMemory(ws, "mem_b", "memory b")
	require.NoError(t, s.CreateMemory(ctx, a))
	require.NoError(t, s.CreateMemory(ctx, b))

	require.NoError(t, s.CreateAssociation(ctx, &types.Association{
		ID: types.NewAssociationID(), WorkspaceID: ws,
		SourceID: "mem_a", TargetID: "mem_b", Relationship: "similar_to", Strength: 0.9,
	}))

	_, err := s.DeleteMemory(ctx, scopeFor(ws), "mem_a", true)
	require.NoError(t, err)

	edges, err := s.GetAssociations(ctx, scopeFor(ws), "mem_b", nil, types.DirectionBoth)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestSearchMemories_OrderAndFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	near := newMemory(ws, "mem_near", "close match")
	near.Embedding = []float32{1, 0, 0}
	far := newMemory(ws, "mem_far", "far match")
	far.Embedding = []float32{0.5, 0.5, 0.7071}
	archived := newMemory(ws, "mem_arch", "archived match")
	archived.Embedding = []float32{1, 0, 0}
	archived.Status = types.StatusArchived

	for _, m := range []*types.Memory{near, far, archived} {
		require.NoError(t, s.CreateMemory(ctx, m))
	}

	results, err := s.SearchMemories(ctx, scopeFor(ws), []float32{1, 0, 0}, storage.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "mem_near", results[0].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Relevance, 1e-6)
	assert.Greater(t, results[0].Relevance, results[1].Relevance)

	// Archived comes back only when asked for.
	results, err = s.SearchMemories(ctx, scopeFor(ws), []float32{1, 0, 0}, storage.SearchOptions{Limit: 10, IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// Type filter.
	results, err = s.SearchMemories(ctx, scopeFor(ws), []float32{1, 0, 0}, storage.SearchOptions{
		Limit: 10, Types: []types.MemoryType{types.TypeWorking},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTraverseGraph_CyclicTerminates(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	for _, id := range []string{"mem_1", "mem_2", "mem_3"} {
		require.NoError(t, s.CreateMemory(ctx, newMemory(ws, id, "node "+id)))
	}
	edge := func(src, tgt string, strength float64) {
		require.NoError(t, s.CreateAssociation(ctx, &types.Association{
			ID: types.NewAssociationID(), WorkspaceID: ws,
			SourceID: src, TargetID: tgt, Relationship: "related_to", Strength: strength,
		}))
	}
	edge("mem_1", "mem_2", 0.8)
	edge("mem_2", "mem_3", 0.9)
	edge("mem_3", "mem_1", 0.5) // cycle

	paths, err := s.TraverseGraph(ctx, scopeFor(ws), "mem_1", 5, nil, types.DirectionOutgoing)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	assert.Equal(t, 1, paths[0].Depth)
	assert.InDelta(t, 0.8, paths[0].TotalStrength, 1e-9)
	assert.Equal(t, 2, paths[1].Depth)
	assert.InDelta(t, 0.8*0.9, paths[1].TotalStrength, 1e-9)

	// No memory id may appear twice in a single path.
	for _, p := range paths {
		seen := map[string]bool{}
		for _, n := range p.Nodes {
			assert.False(t, seen[n.ID], "node %s repeated in path", n.ID)
			seen[n.ID] = true
		}
	}
}

func TestSessionCascadeDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	sess := &types.Session{
		ID: types.NewSessionID(), WorkspaceID: ws, ContextID: types.DefaultContextID,
		TenantID: types.DefaultTenantID, ExpiresAt: time.Now().Add(time.Hour), AutoCommit: true,
	}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, s.SetWorkingMemory(ctx, &types.WorkingMemoryEntry{
		SessionID: sess.ID, Key: "task", Value: "fix the auth bug", ExpiresAt: sess.ExpiresAt,
	}))

	require.NoError(t, s.DeleteSession(ctx, scopeFor(ws), sess.ID))

	_, err := s.GetWorkingMemory(ctx, sess.ID, "task")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCleanupExpiredSessions(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	expired := &types.Session{
		ID: "sess_expired", WorkspaceID: ws, ContextID: types.DefaultContextID,
		TenantID: types.DefaultTenantID, ExpiresAt: time.Now().Add(-time.Minute),
	}
	live := &types.Session{
		ID: "sess_live", WorkspaceID: ws, ContextID: types.DefaultContextID,
		TenantID: types.DefaultTenantID, ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, expired))
	require.NoError(t, s.CreateSession(ctx, live))

	listed, err := s.ListExpiredSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "sess_expired", listed[0].ID)

	n, err := s.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSessionByID(ctx, "sess_expired")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetSessionByID(ctx, "sess_live")
	assert.NoError(t, err)
}

func TestGetArchivalCandidates(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	old := newMemory(ws, "mem_old", "stale and unloved")
	old.Importance = 0.1
	old.CreatedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)
	pinned := newMemory(ws, "mem_pinned", "stale but pinned")
	pinned.Importance = 0.1
	pinned.Pinned = true
	pinned.CreatedAt = old.CreatedAt
	fresh := newMemory(ws, "mem_fresh", "fresh memory")
	fresh.Importance = 0.1

	for _, m := range []*types.Memory{old, pinned, fresh} {
		require.NoError(t, s.CreateMemory(ctx, m))
	}

	got, err := s.GetArchivalCandidates(ctx, storage.ArchivalQuery{
		Scope: scopeFor(ws), MaxImportance: 0.2, MaxAccessCount: 2, MinAgeDays: 30,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mem_old", got[0].ID)
}

func TestContradictionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	c := &types.Contradiction{
		ID: types.NewContradictionID(), WorkspaceID: ws,
		MemoryAID: "mem_a", MemoryBID: "mem_b",
		ContradictionType: types.ContradictionTypeNegation,
		Confidence:        0.8,
		DetectionMethod:   types.DetectionMethodNegationPattern,
	}
	require.NoError(t, s.CreateContradiction(ctx, c))

	open, err := s.ListUnresolvedContradictions(ctx, scopeFor(ws), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	now := time.Now().UTC()
	c.ResolvedAt = &now
	c.Resolution = types.ResolutionKeepA
	require.NoError(t, s.UpdateContradiction(ctx, c))

	open, err = s.ListUnresolvedContradictions(ctx, scopeFor(ws), 10)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestUpdateMemory_RehashesOnContentChange(t *testing.T) {
	s := New()
	ctx := context.Background()
	ws := types.DefaultWorkspaceID

	m := newMemory(ws, types.NewMemoryID(), "old content")
	require.NoError(t, s.CreateMemory(ctx, m))

	m.Content = "new content"
	m.ContentHash = ""
	require.NoError(t, s.UpdateMemory(ctx, m))

	_, err := s.GetMemoryByHash(ctx, scopeFor(ws), types.HashContent("old content"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := s.GetMemoryByHash(ctx, scopeFor(ws), types.HashContent("new content"))
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func TestTenantIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateWorkspace(ctx, &types.Workspace{ID: "shared", TenantID: "tenant-a"}))
	require.NoError(t, s.CreateWorkspace(ctx, &types.Workspace{ID: "shared", TenantID: "tenant-b"}))

	m := &types.Memory{
		ID:          types.NewMemoryID(),
		TenantID:    "tenant-a",
		WorkspaceID: "shared",
		Content:     "api keys rotate monthly",
		Type:        types.TypeSemantic,
		Importance:  0.5,
		Embedding:   []float32{1, 0, 0},
	}
	require.NoError(t, s.CreateMemory(ctx, m))

	a := types.NewScope("tenant-a", "shared")
	b := types.NewScope("tenant-b", "shared")

	got, err := s.GetMemoryByHash(ctx, a, m.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	_, err = s.GetMemoryByHash(ctx, b, m.ContentHash)
	assert.ErrorIs(t, err, storage.ErrNotFound, "hash lookups must not cross tenants")

	results, err := s.SearchMemories(ctx, a, []float32{1, 0, 0}, storage.SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	results, err = s.SearchMemories(ctx, b, []float32{1, 0, 0}, storage.SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results, "vector search must not cross tenants")

	_, err = s.GetMemory(ctx, b, m.ID, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	scopes, err := s.ListWorkspaceScopes(ctx)
	require.NoError(t, err)
	assert.Contains(t, scopes, a)
	assert.Contains(t, scopes, b)
}
