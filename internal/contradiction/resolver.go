package contradiction

import (
	"context"
	"fmt"
	"time"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// Resolve applies a resolution strategy to an open contradiction:
//
//	keep_a     soft-deletes memory B
//	keep_b     soft-deletes memory A
//	merge      overwrites memory A with merged content and soft-deletes B
//	keep_both  records the decision and touches neither memory
//
// The record is marked resolved in all cases. Resolving an already resolved
// contradiction is rejected.
func (d *Detector) Resolve(ctx context.Context, scope types.Scope, contradictionID string, resolution types.Resolution, mergedContent string) (*types.Contradiction, error) {
	if !types.ValidResolution(resolution) {
		return nil, fmt.Errorf("%w: unknown resolution %q", storage.ErrInvalidInput, resolution)
	}
	if resolution == types.ResolutionMerge && mergedContent == "" {
		return nil, fmt.Errorf("%w: merge requires merged content", storage.ErrInvalidInput)
	}

	c, err := d.store.GetContradiction(ctx, scope, contradictionID)
	if err != nil {
		return nil, err
	}
	if c.IsResolved() {
		return nil, fmt.Errorf("%w: contradiction %s already resolved", storage.ErrInvalidInput, contradictionID)
	}

	switch resolution {
	case types.ResolutionKeepA:
		if _, err := d.store.DeleteMemory(ctx, scope, c.MemoryBID, false); err != nil {
			return nil, fmt.Errorf("resolve keep_a: %w", err)
		}
	case types.ResolutionKeepB:
		if _, err := d.store.DeleteMemory(ctx, scope, c.MemoryAID, false); err != nil {
			return nil, fmt.Errorf("resolve keep_b: %w", err)
		}
	case types.ResolutionMerge:
		a, err := d.store.GetMemory(ctx, scope, c.MemoryAID, false)
		if err != nil {
			return nil, fmt.Errorf("resolve merge: %w", err)
		}
		a.Content = mergedContent
		a.ContentHash = types.HashContent(mergedContent)
		if err := d.store.UpdateMemory(ctx, a); err != nil {
			return nil, fmt.Errorf("resolve merge: %w", err)
		}
		if _, err := d.store.DeleteMemory(ctx, scope, c.MemoryBID, false); err != nil {
			return nil, fmt.Errorf("resolve merge: %w", err)
		}
		c.MergedContent = mergedContent
	case types.ResolutionKeepBoth:
		// Nothing to do beyond recording the decision.
	}

	now := time.Now().UTC()
	c.ResolvedAt = &now
	c.Resolution = resolution
	if err := d.store.UpdateContradiction(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
