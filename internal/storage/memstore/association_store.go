package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

func cloneAssociation(a *types.Association) *types.Association {
	cp := *a
	if a.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (s *Store) CreateAssociation(ctx context.Context, a *types.Association) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: association id is required", storage.ErrInvalidInput)
	}
	if a.SourceID == a.TargetID {
		return fmt.Errorf("%w: self-association", storage.ErrInvalidInput)
	}
	if a.TenantID == "" {
		a.TenantID = types.DefaultTenantID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey(a)
	if _, ok := s.triples[key]; ok {
		return fmt.Errorf("%w: association %s -> %s (%s)", storage.ErrDuplicate, a.SourceID, a.TargetID, a.Relationship)
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.associations[a.ID] = cloneAssociation(a)
	s.triples[key] = a.ID
	return nil
}

func (s *Store) GetAssociations(ctx context.Context, scope types.Scope, memoryID string, relationships []string, direction types.Direction) ([]*types.Association, error) {
	if direction == "" {
		direction = types.DirectionBoth
	}

	relFilter := make(map[string]bool, len(relationships))
	for _, r := range relationships {
		relFilter[r] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Association
	for _, a := range s.associations {
		if a.TenantID != scope.TenantID || a.WorkspaceID != scope.WorkspaceID {
			continue
		}
		switch direction {
		case types.DirectionOutgoing:
			if a.SourceID != memoryID {
				continue
			}
		case types.DirectionIncoming:
			if a.TargetID != memoryID {
				continue
			}
		default:
			if a.SourceID != memoryID && a.TargetID != memoryID {
				continue
			}
		}
		if len(relFilter) > 0 && !relFilter[a.Relationship] {
			continue
		}
		out = append(out, cloneAssociation(a))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteAssociationsForMemory(ctx context.Context, scope types.Scope, memoryID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, a := range s.associations {
		if a.TenantID != scope.TenantID || a.WorkspaceID != scope.WorkspaceID {
			continue
		}
		if a.SourceID == memoryID || a.TargetID == memoryID {
			delete(s.triples, tripleKey(a))
			delete(s.associations, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) TraverseGraph(ctx context.Context, scope types.Scope, startID string, maxDepth int, relationships []string, direction types.Direction) ([]types.TraversalPath, error) {
	return storage.BFSTraverse(ctx, s, scope, startID, maxDepth, relationships, direction)
}
