// Package storage defines the persistence contract for the engram engine.
//
// Three backends implement the Store interface: an in-memory store for tests
// and ephemeral deployments, a SQLite store for single-node production use,
// and a PostgreSQL store with pgvector for indexed vector search. The
// interface is the only source of truth; backend-specific types never leak
// into the domain model.
package storage

import (
	"errors"
	"time"

	"github.com/engramdev/engram/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate indicates a uniqueness constraint violation, e.g. an
	// association triple that already exists.
	ErrDuplicate = errors.New("duplicate resource")
)

// SearchOptions controls vector search over memories.
type SearchOptions struct {
	// Limit is the maximum number of results (default 10).
	Limit int

	// Offset skips the first N results.
	Offset int

	// MinRelevance drops results below this relevance (1 - cosine distance).
	MinRelevance float64

	// Types restricts results to the given cognitive types. Empty means all.
	Types []types.MemoryType

	// Subtypes restricts results to the given subtypes. Empty means all.
	Subtypes []types.MemorySubtype

	// Tags restricts results to memories carrying every listed tag.
	Tags []string

	// IncludeArchived includes status=archived memories. Deleted memories
	// are never surfaced.
	IncludeArchived bool
}

// Normalize applies defaults to the search options.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// SearchResult pairs a memory with its query relevance in [0, 1].
type SearchResult struct {
	Memory    *types.Memory
	Relevance float64
}

// RecentOptions controls the recency-ordered listing.
type RecentOptions struct {
	CreatedAfter time.Time
	Limit        int
	Offset       int
	DetailLevel  types.DetailLevel
}

// DecayQuery selects memories eligible for importance decay.
type DecayQuery struct {
	Scope         types.Scope
	MinAgeDays    float64
	ExcludePinned bool
}

// ArchivalQuery selects memories eligible for archival.
type ArchivalQuery struct {
	Scope          types.Scope
	MaxImportance  float64
	MaxAccessCount int
	MinAgeDays     float64
}
