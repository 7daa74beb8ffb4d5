package decay

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/storage/memstore"
	"github.com/engramdev/engram/pkg/types"
)

func addMemory(t *testing.T, store *memstore.Store, ws string, importance float64, ageDays float64, pinned bool) *types.Memory {
	t.Helper()
	m := &types.Memory{
		ID:          uuid.NewString(),
		WorkspaceID: ws,
		Content:     "memory " + uuid.NewString(),
		Type:        types.TypeSemantic,
		Importance:  importance,
		Pinned:      pinned,
		CreatedAt:   time.Now().UTC().Add(-time.Duration(ageDays*24) * time.Hour),
	}
	require.NoError(t, store.CreateMemory(context.Background(), m))
	return m
}

func TestDecayWorkspace(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, DefaultOptions())
	ctx := context.Background()

	old := addMemory(t, store, "ws", 0.8, 10, false)
	young := addMemory(t, store, "ws", 0.8, 1, false)
	pinned := addMemory(t, store, "ws", 0.8, 10, true)

	updated, err := svc.DecayWorkspace(ctx, types.NewScope("", "ws"))
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	got, err := store.GetMemory(ctx, types.NewScope("", "ws"), old.ID, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.8*0.95, got.Importance, 1e-9)

	for _, untouched := range []*types.Memory{young, pinned} {
		got, err := store.GetMemory(ctx, types.NewScope("", "ws"), untouched.ID, false)
		require.NoError(t, err)
		assert.Equal(t, 0.8, got.Importance)
	}
}

func TestArchiveStaleMemories(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, DefaultOptions())
	ctx := context.Background()

	stale := addMemory(t, store, "ws", 0.1, 60, false)
	important := addMemory(t, store, "ws", 0.9, 60, false)
	accessed := addMemory(t, store, "ws", 0.1, 60, false)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.IncrementAccess(ctx, accessed.ID))
	}
	pinned := addMemory(t, store, "ws", 0.1, 60, true)

	archived, err := svc.ArchiveStaleMemories(ctx, types.NewScope("", "ws"))
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	got, err := store.GetMemory(ctx, types.NewScope("", "ws"), stale.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status)

	for _, active := range []*types.Memory{important, accessed, pinned} {
		got, err := store.GetMemory(ctx, types.NewScope("", "ws"), active.ID, false)
		require.NoError(t, err)
		assert.Equal(t, types.StatusActive, got.Status)
	}
}

func TestDecayAllWorkspaces(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, DefaultOptions())
	ctx := context.Background()

	require.NoError(t, store.CreateWorkspace(ctx, &types.Workspace{ID: "ws-a"}))
	require.NoError(t, store.CreateWorkspace(ctx, &types.Workspace{ID: "ws-b"}))

	a := addMemory(t, store, "ws-a", 0.8, 10, false)
	b := addMemory(t, store, "ws-b", 0.6, 10, false)

	require.NoError(t, svc.DecayAllWorkspaces(ctx))

	got, err := store.GetMemory(ctx, types.NewScope("", "ws-a"), a.ID, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.8*0.95, got.Importance, 1e-9)

	got, err = store.GetMemory(ctx, types.NewScope("", "ws-b"), b.ID, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.6*0.95, got.Importance, 1e-9)
}

func TestDecayAllWorkspacesSpansTenants(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, DefaultOptions())
	ctx := context.Background()

	require.NoError(t, store.CreateWorkspace(ctx, &types.Workspace{ID: "ws"}))
	require.NoError(t, store.CreateWorkspace(ctx, &types.Workspace{ID: "ws", TenantID: "acme"}))

	def := addMemory(t, store, "ws", 0.8, 10, false)
	acme := &types.Memory{
		ID:          uuid.NewString(),
		TenantID:    "acme",
		WorkspaceID: "ws",
		Content:     "memory " + uuid.NewString(),
		Type:        types.TypeSemantic,
		Importance:  0.6,
		CreatedAt:   time.Now().UTC().Add(-10 * 24 * time.Hour),
	}
	require.NoError(t, store.CreateMemory(ctx, acme))

	require.NoError(t, svc.DecayAllWorkspaces(ctx))

	got, err := store.GetMemory(ctx, types.NewScope("", "ws"), def.ID, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.8*0.95, got.Importance, 1e-9)

	got, err = store.GetMemory(ctx, types.NewScope("acme", "ws"), acme.ID, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.6*0.95, got.Importance, 1e-9)
}

func TestCalculateAccessBoost(t *testing.T) {
	low := &types.Memory{Importance: 0.2}
	boosted := CalculateAccessBoost(low)
	assert.Greater(t, boosted, 0.2)
	assert.LessOrEqual(t, boosted, 1.0)

	// Repeated boosts converge to 1.0 without exceeding it.
	m := &types.Memory{Importance: 0.9}
	for i := 0; i < 100; i++ {
		m.Importance = CalculateAccessBoost(m)
	}
	assert.LessOrEqual(t, m.Importance, 1.0)
	assert.Greater(t, m.Importance, 0.99)

	full := &types.Memory{Importance: 1.0}
	assert.Equal(t, 1.0, CalculateAccessBoost(full))
}
