// Package dedup decides what to do with incoming content that may already be
// known: skip it, update or merge the existing memory, or create a new one.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// Action is the dedup verdict for incoming content.
type Action string

const (
	// ActionSkip means the exact content already exists; store nothing.
	ActionSkip Action = "skip"

	// ActionUpdate means the content is a near-identical restatement; refresh
	// the existing memory instead of creating a sibling.
	ActionUpdate Action = "update"

	// ActionMerge means the content overlaps an existing memory enough that
	// the two should be combined.
	ActionMerge Action = "merge"

	// ActionCreate means the content is novel.
	ActionCreate Action = "create"
)

// Result carries the verdict and the evidence behind it.
type Result struct {
	Action           Action
	Reason           string
	ExistingMemoryID string
	SimilarityScore  float64
}

// Options configures the similarity thresholds.
type Options struct {
	// UpdateThreshold is the similarity at or above which the incoming
	// content is treated as a restatement of the existing memory.
	UpdateThreshold float64

	// MergeThreshold is the similarity at or above which the incoming
	// content is combined with the existing memory. Must not exceed
	// UpdateThreshold to be meaningful.
	MergeThreshold float64
}

// DefaultOptions returns the production thresholds.
func DefaultOptions() Options {
	return Options{
		UpdateThreshold: 0.95,
		MergeThreshold:  0.85,
	}
}

// Checker runs the dedup decision against a workspace.
type Checker struct {
	store storage.Store
	opts  Options
}

func NewChecker(store storage.Store, opts Options) *Checker {
	if opts.UpdateThreshold <= 0 {
		opts.UpdateThreshold = DefaultOptions().UpdateThreshold
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = DefaultOptions().MergeThreshold
	}
	return &Checker{store: store, opts: opts}
}

// Check classifies incoming content against what the scoped workspace already
// holds. The exact-hash probe runs first; only then does the vector
// comparison, so a byte-identical re-remember never costs a similarity search.
// A nil or empty embedding limits the check to the hash probe.
func (c *Checker) Check(ctx context.Context, scope types.Scope, contentHash string, embedding []float32) (*Result, error) {
	if contentHash == "" {
		return nil, fmt.Errorf("%w: content hash is required", storage.ErrInvalidInput)
	}

	existing, err := c.store.GetMemoryByHash(ctx, scope, contentHash)
	if err == nil {
		return &Result{
			Action:           ActionSkip,
			Reason:           "exact content already stored",
			ExistingMemoryID: existing.ID,
			SimilarityScore:  1.0,
		}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("dedup: hash probe: %w", err)
	}

	if len(embedding) == 0 {
		return &Result{Action: ActionCreate, Reason: "no embedding, hash is novel"}, nil
	}

	results, err := c.store.SearchMemories(ctx, scope, embedding, storage.SearchOptions{
		Limit:        1,
		MinRelevance: c.opts.MergeThreshold,
	})
	if err != nil {
		// Similarity search is advisory; a backend hiccup should not block
		// the write path.
		log.Printf("dedup: similarity probe failed, treating as novel: %v", err)
		return &Result{Action: ActionCreate, Reason: "similarity probe unavailable"}, nil
	}
	if len(results) == 0 {
		return &Result{Action: ActionCreate, Reason: "no similar memory found"}, nil
	}

	top := results[0]
	switch {
	case top.Relevance >= c.opts.UpdateThreshold:
		return &Result{
			Action:           ActionUpdate,
			Reason:           fmt.Sprintf("near-duplicate of existing memory (similarity %.3f)", top.Relevance),
			ExistingMemoryID: top.Memory.ID,
			SimilarityScore:  top.Relevance,
		}, nil
	case top.Relevance >= c.opts.MergeThreshold:
		return &Result{
			Action:           ActionMerge,
			Reason:           fmt.Sprintf("overlaps existing memory (similarity %.3f)", top.Relevance),
			ExistingMemoryID: top.Memory.ID,
			SimilarityScore:  top.Relevance,
		}, nil
	}
	return &Result{Action: ActionCreate, Reason: "closest memory below merge threshold", SimilarityScore: top.Relevance}, nil
}
