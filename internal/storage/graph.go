package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/engramdev/engram/pkg/types"
)

// graphReader is the slice of Store that BFS traversal needs. All three
// backends satisfy it, so they share one traversal implementation.
type graphReader interface {
	GetAssociations(ctx context.Context, scope types.Scope, memoryID string, relationships []string, direction types.Direction) ([]*types.Association, error)
	GetMemoryByID(ctx context.Context, id string, trackAccess bool) (*types.Memory, error)
}

// BFSTraverse walks the association graph breadth-first from startID up to
// maxDepth hops. A visited set on node IDs guarantees termination on cyclic
// graphs and that no memory appears twice in a single path. Each discovered
// node produces one path whose TotalStrength is the product of edge strengths
// along it. Deleted memories and edges to them are skipped.
func BFSTraverse(ctx context.Context, g graphReader, scope types.Scope, startID string, maxDepth int, relationships []string, direction types.Direction) ([]types.TraversalPath, error) {
	if startID == "" {
		return nil, fmt.Errorf("%w: start memory id is required", ErrInvalidInput)
	}
	if maxDepth < 1 {
		maxDepth = 1
	}
	if direction == "" {
		direction = types.DirectionOutgoing
	}

	start, err := g.GetMemoryByID(ctx, startID, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: start memory %s", ErrNotFound, startID)
		}
		return nil, fmt.Errorf("traverse: load start memory: %w", err)
	}
	if start.Status == types.StatusDeleted || start.Scope() != scope {
		return nil, fmt.Errorf("%w: start memory %s", ErrNotFound, startID)
	}

	visited := map[string]bool{startID: true}

	frontier := []types.TraversalPath{{
		Nodes:         []*types.Memory{start},
		TotalStrength: 1.0,
		Depth:         0,
	}}

	var paths []types.TraversalPath

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []types.TraversalPath

		for _, path := range frontier {
			tail := path.Nodes[len(path.Nodes)-1]

			edges, err := g.GetAssociations(ctx, scope, tail.ID, relationships, direction)
			if err != nil {
				return nil, fmt.Errorf("traverse: edges of %s at depth %d: %w", tail.ID, depth, err)
			}

			for _, edge := range edges {
				neighborID := edge.TargetID
				if neighborID == tail.ID {
					neighborID = edge.SourceID
				}
				if visited[neighborID] {
					continue
				}

				neighbor, err := g.GetMemoryByID(ctx, neighborID, false)
				if err != nil {
					if errors.Is(err, ErrNotFound) {
						continue
					}
					return nil, fmt.Errorf("traverse: load %s: %w", neighborID, err)
				}
				if neighbor.Status == types.StatusDeleted {
					continue
				}

				visited[neighborID] = true

				nodes := make([]*types.Memory, len(path.Nodes), len(path.Nodes)+1)
				copy(nodes, path.Nodes)
				nodes = append(nodes, neighbor)

				prevEdges := path.Edges
				pathEdges := make([]*types.Association, len(prevEdges), len(prevEdges)+1)
				copy(pathEdges, prevEdges)
				pathEdges = append(pathEdges, edge)

				p := types.TraversalPath{
					Nodes:         nodes,
					Edges:         pathEdges,
					TotalStrength: path.TotalStrength * edge.Strength,
					Depth:         depth,
				}

				paths = append(paths, p)
				next = append(next, p)
			}
		}

		frontier = next
	}

	return paths, nil
}
