package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

func cloneContradiction(c *types.Contradiction) *types.Contradiction {
	cp := *c
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

func (s *Store) CreateContradiction(ctx context.Context, c *types.Contradiction) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: contradiction id is required", storage.ErrInvalidInput)
	}
	if c.TenantID == "" {
		c.TenantID = types.DefaultTenantID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contradictions[c.ID]; ok {
		return fmt.Errorf("%w: contradiction %s", storage.ErrDuplicate, c.ID)
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = s.now()
	}
	s.contradictions[c.ID] = cloneContradiction(c)
	return nil
}

func (s *Store) GetContradiction(ctx context.Context, scope types.Scope, id string) (*types.Contradiction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contradictions[id]
	if !ok || c.TenantID != scope.TenantID || c.WorkspaceID != scope.WorkspaceID {
		return nil, fmt.Errorf("%w: contradiction %s", storage.ErrNotFound, id)
	}
	return cloneContradiction(c), nil
}

func (s *Store) UpdateContradiction(ctx context.Context, c *types.Contradiction) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: contradiction id is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contradictions[c.ID]; !ok {
		return fmt.Errorf("%w: contradiction %s", storage.ErrNotFound, c.ID)
	}
	s.contradictions[c.ID] = cloneContradiction(c)
	return nil
}

func (s *Store) ListUnresolvedContradictions(ctx context.Context, scope types.Scope, limit int) ([]*types.Contradiction, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Contradiction
	for _, c := range s.contradictions {
		if c.TenantID == scope.TenantID && c.WorkspaceID == scope.WorkspaceID && !c.IsResolved() {
			out = append(out, cloneContradiction(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
