package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// defaultScope is the default-tenant scope of the reserved default workspace.
var defaultScope = types.NewScope("", types.DefaultWorkspaceID)

func newTestMemory(workspaceID, content string, embedding []float32) *types.Memory {
	return &types.Memory{
		ID:          types.NewMemoryID(),
		TenantID:    types.DefaultTenantID,
		WorkspaceID: workspaceID,
		ContextID:   types.DefaultContextID,
		Content:     content,
		Type:        types.TypeSemantic,
		Importance:  0.5,
		DecayFactor: 1.0,
		Embedding:   embedding,
	}
}

func TestNew_ProvisionsReservedWorkspaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{types.DefaultWorkspaceID, types.GlobalWorkspaceID} {
		ws, err := s.GetWorkspace(ctx, "", id)
		require.NoError(t, err)
		assert.Equal(t, id, ws.ID)

		c, err := s.GetContext(ctx, types.NewScope("", id), types.DefaultContextID)
		require.NoError(t, err)
		assert.Equal(t, types.DefaultContextID, c.Name)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := newTestMemory(types.DefaultWorkspaceID, "Postgres uses MVCC for concurrency", []float32{0.1, 0.2, 0.3})
	m.Tags = []string{"Databases", "postgres"}
	m.Metadata = map[string]interface{}{"source": "docs"}
	require.NoError(t, s.CreateMemory(ctx, m))

	got, err := s.GetMemory(ctx, defaultScope, m.ID, false)
	require.NoError(t, err)

	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, types.HashContent(m.Content), got.ContentHash)
	assert.Equal(t, []string{"databases", "postgres"}, got.Tags)
	assert.Equal(t, "docs", got.Metadata["source"])
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, 0, got.AccessCount)
	assert.Nil(t, got.LastAccessedAt)
}

func TestGetMemory_TrackAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := newTestMemory(types.DefaultWorkspaceID, "tracked read", nil)
	require.NoError(t, s.CreateMemory(ctx, m))

	got, err := s.GetMemory(ctx, defaultScope, m.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.NotNil(t, got.LastAccessedAt)

	// Untracked read observes the persisted count.
	again, err := s.GetMemory(ctx, defaultScope, m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, again.AccessCount)
}

func TestGetMemoryByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := newTestMemory(types.DefaultWorkspaceID, "exact content", nil)
	require.NoError(t, s.CreateMemory(ctx, m))

	got, err := s.GetMemoryByHash(ctx, defaultScope, types.HashContent("exact content"))
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = s.GetMemoryByHash(ctx, defaultScope, types.HashContent("other content"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Hash probes are workspace-scoped.
	_, err = s.GetMemoryByHash(ctx, types.NewScope("", types.GlobalWorkspaceID), types.HashContent("exact content"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateMemory_Rehashes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := newTestMemory(types.DefaultWorkspaceID, "before", nil)
	require.NoError(t, s.CreateMemory(ctx, m))

	m.Content = "after"
	require.NoError(t, s.UpdateMemory(ctx, m))

	got, err := s.GetMemory(ctx, defaultScope, m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.HashContent("after"), got.ContentHash)
}

func TestDeleteMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := newTestMemory(types.DefaultWorkspaceID, "to delete", nil)
	require.NoError(t, s.CreateMemory(ctx, m))

	deleted, err := s.DeleteMemory(ctx, defaultScope, m.ID, false)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetMemory(ctx, defaultScope, m.ID, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Soft-deleting again affects nothing.
	deleted, err = s.DeleteMemory(ctx, defaultScope, m.ID, false)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestHardDelete_PurgesAssociations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestMemory(types.DefaultWorkspaceID, "node a", nil)
	b := newTestMemory(types.DefaultWorkspaceID, "node b", nil)
	require.NoError(t, s.CreateMemory(ctx, a))
	require.NoError(t, s.CreateMemory(ctx, b))

	require.NoError(t, s.CreateAssociation(ctx, &types.Association{
		ID:           types.NewAssociationID(),
		WorkspaceID:  types.DefaultWorkspaceID,
		SourceID:     a.ID,
		TargetID:     b.ID,
		Relationship: "related_to",
		Strength:     0.5,
	}))

	deleted, err := s.DeleteMemory(ctx, defaultScope, a.ID, true)
	require.NoError(t, err)
	assert.True(t, deleted)

	edges, err := s.GetAssociations(ctx, defaultScope, b.ID, nil, types.DirectionBoth)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestSearchMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	close := newTestMemory(types.DefaultWorkspaceID, "close match", []float32{1, 0, 0})
	far := newTestMemory(types.DefaultWorkspaceID, "far match", []float32{0, 1, 0})
	require.NoError(t, s.CreateMemory(ctx, close))
	require.NoError(t, s.CreateMemory(ctx, far))

	results, err := s.SearchMemories(ctx, defaultScope, []float32{0.9, 0.1, 0}, storage.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, close.ID, results[0].Memory.ID)
	assert.Greater(t, results[0].Relevance, results[1].Relevance)

	// MinRelevance filters out the orthogonal memory.
	results, err = s.SearchMemories(ctx, defaultScope, []float32{1, 0, 0}, storage.SearchOptions{Limit: 10, MinRelevance: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, close.ID, results[0].Memory.ID)
}

func TestFullTextSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m1 := newTestMemory(types.DefaultWorkspaceID, "the database connection pool was exhausted", nil)
	m2 := newTestMemory(types.DefaultWorkspaceID, "retry with exponential backoff", nil)
	require.NoError(t, s.CreateMemory(ctx, m1))
	require.NoError(t, s.CreateMemory(ctx, m2))

	got, err := s.FullTextSearch(ctx, defaultScope, "database pool", 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m1.ID, got[0].ID)

	// Soft-deleted rows never surface in FTS results.
	_, err = s.DeleteMemory(ctx, defaultScope, m1.ID, false)
	require.NoError(t, err)

	got, err = s.FullTextSearch(ctx, defaultScope, "database pool", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSanitiseFTSQuery(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
	}{
		{"plain terms", "database pool", "database* OR pool*"},
		{"stop words dropped", "what is the database", "database*"},
		{"quotes stripped", `"quoted" phrase`, "quoted* OR phrase*"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitiseFTSQuery(tt.in))
		})
	}
}

func TestAssociations_DuplicateTripleRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestMemory(types.DefaultWorkspaceID, "a", nil)
	b := newTestMemory(types.DefaultWorkspaceID, "b", nil)
	require.NoError(t, s.CreateMemory(ctx, a))
	require.NoError(t, s.CreateMemory(ctx, b))

	edge := func() *types.Association {
		return &types.Association{
			ID:           types.NewAssociationID(),
			WorkspaceID:  types.DefaultWorkspaceID,
			SourceID:     a.ID,
			TargetID:     b.ID,
			Relationship: "causes",
			Strength:     0.7,
		}
	}

	require.NoError(t, s.CreateAssociation(ctx, edge()))
	assert.ErrorIs(t, s.CreateAssociation(ctx, edge()), storage.ErrDuplicate)

	// Same pair under a different relationship is a distinct edge.
	other := edge()
	other.Relationship = "related_to"
	assert.NoError(t, s.CreateAssociation(ctx, other))
}

func TestTraverseGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestMemory(types.DefaultWorkspaceID, "a", nil)
	b := newTestMemory(types.DefaultWorkspaceID, "b", nil)
	c := newTestMemory(types.DefaultWorkspaceID, "c", nil)
	for _, m := range []*types.Memory{a, b, c} {
		require.NoError(t, s.CreateMemory(ctx, m))
	}
	require.NoError(t, s.CreateAssociation(ctx, &types.Association{
		ID: types.NewAssociationID(), WorkspaceID: types.DefaultWorkspaceID,
		SourceID: a.ID, TargetID: b.ID, Relationship: "causes", Strength: 0.8,
	}))
	require.NoError(t, s.CreateAssociation(ctx, &types.Association{
		ID: types.NewAssociationID(), WorkspaceID: types.DefaultWorkspaceID,
		SourceID: b.ID, TargetID: c.ID, Relationship: "causes", Strength: 0.5,
	}))

	paths, err := s.TraverseGraph(ctx, defaultScope, a.ID, 2, nil, types.DirectionOutgoing)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.InDelta(t, 0.8, paths[0].TotalStrength, 1e-9)
	assert.InDelta(t, 0.4, paths[1].TotalStrength, 1e-9)
	assert.Equal(t, 2, paths[1].Depth)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return now })

	sess := &types.Session{
		ID:          types.NewSessionID(),
		WorkspaceID: types.DefaultWorkspaceID,
		ContextID:   types.DefaultContextID,
		TenantID:    types.DefaultTenantID,
		TTLSeconds:  3600,
		ExpiresAt:   now.Add(time.Hour),
		AutoCommit:  true,
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.SetWorkingMemory(ctx, &types.WorkingMemoryEntry{
		SessionID: sess.ID,
		Key:       "current_task",
		Value:     "debugging",
		ExpiresAt: sess.ExpiresAt,
	}))

	e, err := s.GetWorkingMemory(ctx, sess.ID, "current_task")
	require.NoError(t, err)
	assert.Equal(t, "debugging", e.Value)

	// Upsert keeps created_at, replaces the value.
	require.NoError(t, s.SetWorkingMemory(ctx, &types.WorkingMemoryEntry{
		SessionID: sess.ID,
		Key:       "current_task",
		Value:     "testing",
		ExpiresAt: sess.ExpiresAt,
	}))
	e2, err := s.GetWorkingMemory(ctx, sess.ID, "current_task")
	require.NoError(t, err)
	assert.Equal(t, "testing", e2.Value)
	assert.Equal(t, e.CreatedAt, e2.CreatedAt)

	// Expiry cleanup cascades to working memory.
	s.SetNowFunc(func() time.Time { return now.Add(2 * time.Hour) })
	removed, err := s.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.GetSessionByID(ctx, sess.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetWorkingMemory(ctx, sess.ID, "current_task")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetWorkingMemory_UnknownSession(t *testing.T) {
	s := newTestStore(t)
	err := s.SetWorkingMemory(context.Background(), &types.WorkingMemoryEntry{
		SessionID: "sess_missing",
		Key:       "k",
		Value:     "v",
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestContradictionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &types.Contradiction{
		ID:                types.NewContradictionID(),
		WorkspaceID:       types.DefaultWorkspaceID,
		MemoryAID:         "mem_a",
		MemoryBID:         "mem_b",
		ContradictionType: types.ContradictionTypeNegation,
		Confidence:        0.85,
		DetectionMethod:   types.DetectionMethodNegationPattern,
	}
	require.NoError(t, s.CreateContradiction(ctx, c))

	open, err := s.ListUnresolvedContradictions(ctx, defaultScope, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	now := time.Now().UTC()
	c.ResolvedAt = &now
	c.Resolution = types.ResolutionKeepA
	require.NoError(t, s.UpdateContradiction(ctx, c))

	open, err = s.ListUnresolvedContradictions(ctx, defaultScope, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := s.GetContradiction(ctx, defaultScope, c.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved())
	assert.Equal(t, types.ResolutionKeepA, got.Resolution)
}

func TestGetWorkspaceStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := newTestMemory(types.DefaultWorkspaceID, "one", nil)
	require.NoError(t, s.CreateMemory(ctx, m))

	archived := newTestMemory(types.DefaultWorkspaceID, "two", nil)
	archived.Status = types.StatusArchived
	require.NoError(t, s.CreateMemory(ctx, archived))

	stats, err := s.GetWorkspaceStats(ctx, defaultScope)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemoryCount)
	assert.Equal(t, 1, stats.ArchivedCount)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkspace(ctx, &types.Workspace{ID: "shared", TenantID: "tenant-a"}))
	require.NoError(t, s.CreateWorkspace(ctx, &types.Workspace{ID: "shared", TenantID: "tenant-b"}))

	m := newTestMemory("shared", "api keys rotate monthly", []float32{1, 0, 0})
	m.TenantID = "tenant-a"
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

	hits, err := s.FullTextSearch(ctx, b, "rotate", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits, "full-text search must not cross tenants")

	scopes, err := s.ListWorkspaceScopes(ctx)
	require.NoError(t, err)
	assert.Contains(t, scopes, a)
	assert.Contains(t, scopes, b)
}
