package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/internal/storage/memstore"
	"github.com/engramdev/engram/pkg/types"
)

func TestEnsureWorkspace_CreatesOnFirstUse(t *testing.T) {
	store := memstore.New()
	svc := NewService(store)
	ctx := context.Background()

	ws, err := svc.EnsureWorkspace(ctx, "tenant", "project-x")
	require.NoError(t, err)
	assert.Equal(t, "project-x", ws.ID)
	assert.Equal(t, "tenant", ws.TenantID)

	// Second call returns the same workspace, not a new one.
	again, err := svc.EnsureWorkspace(ctx, "tenant", "project-x")
	require.NoError(t, err)
	assert.Equal(t, ws.CreatedAt, again.CreatedAt)

	// The default context was provisioned alongside.
	c, err := store.GetContext(ctx, types.NewScope("tenant", "project-x"), types.DefaultContextID)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultContextID, c.ID)
}

func TestEnsureWorkspace_Defaults(t *testing.T) {
	svc := NewService(memstore.New())
	ctx := context.Background()

	ws, err := svc.EnsureWorkspace(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultWorkspaceID, ws.ID)
	assert.Equal(t, types.DefaultTenantID, ws.TenantID)
}

func TestEnsureWorkspace_ReservedAlwaysPresent(t *testing.T) {
	svc := NewService(memstore.New())
	ctx := context.Background()

	for _, id := range []string{types.DefaultWorkspaceID, types.GlobalWorkspaceID} {
		ws, err := svc.EnsureWorkspace(ctx, types.DefaultTenantID, id)
		require.NoError(t, err)
		assert.Equal(t, id, ws.ID)
	}
}

func TestEnsureContext(t *testing.T) {
	store := memstore.New()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.EnsureWorkspace(ctx, "tenant", "ws")
	require.NoError(t, err)

	scope := types.NewScope("tenant", "ws")
	c, err := svc.EnsureContext(ctx, scope, "feature-branch")
	require.NoError(t, err)
	assert.Equal(t, "feature-branch", c.ID)

	again, err := svc.EnsureContext(ctx, scope, "feature-branch")
	require.NoError(t, err)
	assert.Equal(t, c.CreatedAt, again.CreatedAt)

	// Empty context id resolves to the default context.
	def, err := svc.EnsureContext(ctx, scope, "")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultContextID, def.ID)

	_, err = svc.EnsureContext(ctx, types.NewScope("tenant", ""), "x")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestUpdateSettings(t *testing.T) {
	store := memstore.New()
	svc := NewService(store)
	ctx := context.Background()

	settings := types.WorkspaceSettings{
		DecayRate:          0.02,
		SameContextBoost:   1.5,
		SameWorkspaceBoost: 1.2,
	}
	ws, err := svc.UpdateSettings(ctx, "tenant", "ws", settings)
	require.NoError(t, err)
	assert.Equal(t, settings, ws.Settings)

	got, err := store.GetWorkspace(ctx, "tenant", "ws")
	require.NoError(t, err)
	assert.Equal(t, 0.02, got.Settings.DecayRate)
}
