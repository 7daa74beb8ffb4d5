// Package decay runs the background importance lifecycle: periodic decay of
// unaccessed memories, archival of stale ones, and the access boost applied
// when a memory is recalled.
package decay

import (
	"context"
	"log"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

// TaskTypeDecay is the recurring background task for bulk decay and archival.
const TaskTypeDecay = "decay_memories"

// Options configures the decay and archival passes.
type Options struct {
	// DecayFactor multiplies the importance of every eligible memory on each
	// pass. Must be in (0, 1).
	DecayFactor float64

	// MinAgeDays exempts young memories from decay and archival.
	MinAgeDays float64

	// ArchiveMaxImportance, ArchiveMaxAccessCount, and ArchiveMinAgeDays
	// select archival candidates: unpinned active memories at or below both
	// ceilings and at least the age.
	ArchiveMaxImportance  float64
	ArchiveMaxAccessCount int
	ArchiveMinAgeDays     float64
}

// DefaultOptions returns the production lifecycle settings.
func DefaultOptions() Options {
	return Options{
		DecayFactor:           0.95,
		MinAgeDays:            7,
		ArchiveMaxImportance:  0.2,
		ArchiveMaxAccessCount: 2,
		ArchiveMinAgeDays:     30,
	}
}

// Service runs the lifecycle passes against storage.
type Service struct {
	store storage.Store
	opts  Options
}

func NewService(store storage.Store, opts Options) *Service {
	if opts.DecayFactor <= 0 || opts.DecayFactor >= 1 {
		opts.DecayFactor = DefaultOptions().DecayFactor
	}
	return &Service{store: store, opts: opts}
}

// DecayWorkspace multiplies the importance of every eligible memory in the
// workspace by the decay factor. Returns how many memories were updated;
// per-memory persistence failures are logged and skipped.
func (s *Service) DecayWorkspace(ctx context.Context, scope types.Scope) (int, error) {
	memories, err := s.store.GetMemoriesForDecay(ctx, storage.DecayQuery{
		Scope:         scope,
		MinAgeDays:    s.opts.MinAgeDays,
		ExcludePinned: true,
	})
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, m := range memories {
		m.Importance *= s.opts.DecayFactor
		if err := s.store.UpdateMemory(ctx, m); err != nil {
			log.Printf("decay: update %s: %v", m.ID, err)
			continue
		}
		updated++
	}
	return updated, nil
}

// ArchiveStaleMemories archives unpinned, rarely accessed, low-importance
// memories past the age threshold. Returns how many were archived.
func (s *Service) ArchiveStaleMemories(ctx context.Context, scope types.Scope) (int, error) {
	candidates, err := s.store.GetArchivalCandidates(ctx, storage.ArchivalQuery{
		Scope:          scope,
		MaxImportance:  s.opts.ArchiveMaxImportance,
		MaxAccessCount: s.opts.ArchiveMaxAccessCount,
		MinAgeDays:     s.opts.ArchiveMinAgeDays,
	})
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, m := range candidates {
		m.Status = types.StatusArchived
		if err := s.store.UpdateMemory(ctx, m); err != nil {
			log.Printf("decay: archive %s: %v", m.ID, err)
			continue
		}
		archived++
	}
	return archived, nil
}

// DecayAllWorkspaces runs decay and archival across every workspace scope in
// every tenant. A failing scope is logged and the sweep continues.
func (s *Service) DecayAllWorkspaces(ctx context.Context) error {
	scopes, err := s.store.ListWorkspaceScopes(ctx)
	if err != nil {
		return err
	}
	for _, sc := range scopes {
		if _, err := s.DecayWorkspace(ctx, sc); err != nil {
			log.Printf("decay: workspace %s: %v", sc, err)
		}
		if _, err := s.ArchiveStaleMemories(ctx, sc); err != nil {
			log.Printf("decay: archive workspace %s: %v", sc, err)
		}
	}
	return nil
}

// CalculateAccessBoost returns the importance a memory should carry after
// being accessed. The boost shrinks as importance approaches the 1.0 ceiling
// so repeated access converges instead of saturating immediately.
func CalculateAccessBoost(m *types.Memory) float64 {
	const boost = 0.05
	next := m.Importance + boost*(1.0-m.Importance)
	if next > 1.0 {
		next = 1.0
	}
	return next
}
