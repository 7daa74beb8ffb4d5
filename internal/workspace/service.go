// Package workspace auto-provisions workspaces and contexts. The engine
// never requires callers to create a workspace up front; the first write to
// an unknown workspace id brings it into existence.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// Service wraps the storage workspace operations with ensure semantics.
type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// EnsureWorkspace returns the workspace, creating it on first use. An empty
// id resolves to the tenant default workspace. Creation races resolve to the
// winner's row.
func (s *Service) EnsureWorkspace(ctx context.Context, tenantID, id string) (*types.Workspace, error) {
	if tenantID == "" {
		tenantID = types.DefaultTenantID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = types.DefaultWorkspaceID
	}

	ws, err := s.store.GetWorkspace(ctx, tenantID, id)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	ws = &types.Workspace{
		ID:        id,
		TenantID:  tenantID,
		Name:      id,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateWorkspace(ctx, ws); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return s.store.GetWorkspace(ctx, tenantID, id)
		}
		return nil, err
	}
	return ws, nil
}

// EnsureContext returns the context, creating it on first use. An empty id
// resolves to the workspace's default context.
func (s *Service) EnsureContext(ctx context.Context, scope types.Scope, id string) (*types.Context, error) {
	if scope.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", storage.ErrInvalidInput)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = types.DefaultContextID
	}

	c, err := s.store.GetContext(ctx, scope, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	c = &types.Context{
		ID:          id,
		TenantID:    scope.TenantID,
		WorkspaceID: scope.WorkspaceID,
		Name:        id,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateContext(ctx, c); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return s.store.GetContext(ctx, scope, id)
		}
		return nil, err
	}
	return c, nil
}

// UpdateSettings persists new workspace settings.
func (s *Service) UpdateSettings(ctx context.Context, tenantID, workspaceID string, settings types.WorkspaceSettings) (*types.Workspace, error) {
	ws, err := s.EnsureWorkspace(ctx, tenantID, workspaceID)
	if err != nil {
		return nil, err
	}
	ws.Settings = settings
	if err := s.store.UpdateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}
