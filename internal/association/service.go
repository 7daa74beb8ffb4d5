// Package association manages the typed relationship graph between memories:
// explicit edges, automatic similarity-driven enrichment, and the graph
// queries built on top of both.
package association

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/engramdev/engram/internal/ontology"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// Classifier names a relationship for a pair of memory contents. It is
// satisfied by ontology.Classifier; a nil classifier means auto-association
// labels every edge similar_to.
type Classifier interface {
	ClassifyRelationship(ctx context.Context, contentA, contentB string) string
}

// Service owns association reads and writes.
type Service struct {
	store      storage.Store
	classifier Classifier

	// autoThreshold is the minimum similarity for auto-association.
	autoThreshold float64

	// maxAutoCandidates bounds how many neighbors one memory may link to in
	// a single enrichment pass.
	maxAutoCandidates int
}

func NewService(store storage.Store, classifier Classifier, autoThreshold float64) *Service {
	if autoThreshold <= 0 {
		autoThreshold = 0.6
	}
	return &Service{
		store:             store,
		classifier:        classifier,
		autoThreshold:     autoThreshold,
		maxAutoCandidates: 5,
	}
}

// Associate creates a typed edge between two existing memories. Both
// endpoints must exist in the workspace, self-edges are rejected, and an
// unknown relationship label is accepted with a warning so callers can use
// ad-hoc vocabulary without a catalog release.
func (s *Service) Associate(ctx context.Context, scope types.Scope, sourceID, targetID, relationship string, strength float64, metadata map[string]interface{}) (*types.Association, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: cannot associate a memory with itself", storage.ErrInvalidInput)
	}
	if relationship == "" {
		return nil, fmt.Errorf("%w: relationship is required", storage.ErrInvalidInput)
	}
	if strength < 0 || strength > 1 {
		return nil, fmt.Errorf("%w: strength must be in [0, 1]", storage.ErrInvalidInput)
	}
	if !ontology.Validate(relationship) {
		log.Printf("association: unknown relationship %q on %s -> %s", relationship, sourceID, targetID)
	}

	// Endpoint checks do not count as accesses.
	if _, err := s.store.GetMemory(ctx, scope, sourceID, false); err != nil {
		return nil, fmt.Errorf("association: source: %w", err)
	}
	if _, err := s.store.GetMemory(ctx, scope, targetID, false); err != nil {
		return nil, fmt.Errorf("association: target: %w", err)
	}

	a := &types.Association{
		ID:           types.NewAssociationID(),
		TenantID:     scope.TenantID,
		WorkspaceID:  scope.WorkspaceID,
		SourceID:     sourceID,
		TargetID:     targetID,
		Relationship: relationship,
		Strength:     strength,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAssociation(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetRelated lists edges touching memoryID.
func (s *Service) GetRelated(ctx context.Context, scope types.Scope, memoryID string, relationships []string, direction types.Direction) ([]*types.Association, error) {
	return s.store.GetAssociations(ctx, scope, memoryID, relationships, direction)
}

// Traverse walks the graph from startID up to maxDepth hops.
func (s *Service) Traverse(ctx context.Context, scope types.Scope, startID string, maxDepth int, relationships []string, direction types.Direction) ([]types.TraversalPath, error) {
	return s.store.TraverseGraph(ctx, scope, startID, maxDepth, relationships, direction)
}

// AutoAssociate links a freshly stored memory to its nearest neighbors. Each
// neighbor at or above the similarity threshold gets one edge whose strength
// is the similarity itself. When a classifier is configured it names the
// relationship from the two contents; otherwise the edge is similar_to.
// Failures on individual candidates are logged and skipped, never surfaced.
func (s *Service) AutoAssociate(ctx context.Context, m *types.Memory) []*types.Association {
	if m == nil || len(m.Embedding) == 0 {
		return nil
	}

	results, err := s.store.SearchMemories(ctx, m.Scope(), m.Embedding, storage.SearchOptions{
		Limit:        s.maxAutoCandidates + 1, // the memory itself may rank first
		MinRelevance: s.autoThreshold,
	})
	if err != nil {
		log.Printf("association: auto-associate search for %s: %v", m.ID, err)
		return nil
	}

	var created []*types.Association
	for _, r := range results {
		if r.Memory.ID == m.ID {
			continue
		}
		if len(created) >= s.maxAutoCandidates {
			break
		}

		relationship := "similar_to"
		if s.classifier != nil {
			relationship = s.classifier.ClassifyRelationship(ctx, m.Content, r.Memory.Content)
		}

		a := &types.Association{
			ID:           types.NewAssociationID(),
			TenantID:     m.TenantID,
			WorkspaceID:  m.WorkspaceID,
			SourceID:     m.ID,
			TargetID:     r.Memory.ID,
			Relationship: relationship,
			Strength:     r.Relevance,
			Metadata: map[string]interface{}{
				"auto_generated":   true,
				"similarity_score": r.Relevance,
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.CreateAssociation(ctx, a); err != nil {
			log.Printf("association: auto-associate %s -> %s: %v", m.ID, r.Memory.ID, err)
			continue
		}
		created = append(created, a)
	}
	return created
}

// FindContradictions lists contradicts edges touching memoryID in either
// direction.
func (s *Service) FindContradictions(ctx context.Context, scope types.Scope, memoryID string) ([]*types.Association, error) {
	return s.store.GetAssociations(ctx, scope, memoryID, []string{"contradicts"}, types.DirectionBoth)
}

// GetCausalChain follows causal edges outward from startID.
func (s *Service) GetCausalChain(ctx context.Context, scope types.Scope, startID string, maxDepth int) ([]types.TraversalPath, error) {
	return s.store.TraverseGraph(ctx, scope, startID, maxDepth,
		ontology.ByCategory(ontology.CategoryCausal), types.DirectionOutgoing)
}

// GetSolutionsForProblem returns the memories whose solution-category edges
// point at problemID.
func (s *Service) GetSolutionsForProblem(ctx context.Context, scope types.Scope, problemID string) ([]*types.Memory, error) {
	edges, err := s.store.GetAssociations(ctx, scope, problemID,
		ontology.ByCategory(ontology.CategorySolution), types.DirectionIncoming)
	if err != nil {
		return nil, err
	}

	var out []*types.Memory
	for _, e := range edges {
		m, err := s.store.GetMemory(ctx, scope, e.SourceID, false)
		if err != nil {
			log.Printf("association: solution memory %s: %v", e.SourceID, err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// GetRelatedByCategory lists edges touching memoryID whose relationship falls
// in the given ontology category.
func (s *Service) GetRelatedByCategory(ctx context.Context, scope types.Scope, memoryID string, cat ontology.Category, direction types.Direction) ([]*types.Association, error) {
	labels := ontology.ByCategory(cat)
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: unknown category %q", storage.ErrInvalidInput, cat)
	}
	return s.store.GetAssociations(ctx, scope, memoryID, labels, direction)
}
