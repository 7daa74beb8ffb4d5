package storage

import (
	"context"
	"time"

	"github.com/engramdev/engram/pkg/types"
)

// Store is the durable persistence contract. Every operation either succeeds,
// returns a typed ErrNotFound/ErrInvalidInput, or fails loudly with a wrapped
// backend error; connection loss is surfaced, never swallowed.
//
// Workspace identity is the (tenant, workspace) pair, so every scoped
// operation takes a types.Scope: the reserved _default and _global workspace
// IDs repeat per tenant and a bare workspace ID never selects a pool.
//
// On construction every backend must ensure the reserved _default and _global
// workspaces and each workspace's _default context exist (idempotent).
type Store interface {
	WorkspaceStore
	MemoryStore
	AssociationStore
	SessionStore
	ContradictionStore

	// Close releases any resources held by the store.
	Close() error
}

// WorkspaceStore manages workspaces and contexts.
type WorkspaceStore interface {
	// CreateWorkspace creates a workspace and its _default context.
	CreateWorkspace(ctx context.Context, ws *types.Workspace) error

	// GetWorkspace retrieves a workspace by (tenant, id).
	GetWorkspace(ctx context.Context, tenantID, id string) (*types.Workspace, error)

	// UpdateWorkspace persists changed workspace settings.
	UpdateWorkspace(ctx context.Context, ws *types.Workspace) error

	// ListWorkspaceScopes returns every (tenant, workspace) pair in the
	// store. Used by the bulk decay job.
	ListWorkspaceScopes(ctx context.Context) ([]types.Scope, error)

	// CreateContext creates a context within a workspace.
	CreateContext(ctx context.Context, c *types.Context) error

	// GetContext retrieves a context by (scope, id).
	GetContext(ctx context.Context, scope types.Scope, id string) (*types.Context, error)
}

// MemoryStore manages memory rows, vector search, and full-text search.
type MemoryStore interface {
	// CreateMemory inserts a new memory row.
	CreateMemory(ctx context.Context, m *types.Memory) error

	// UpdateMemory overwrites an existing memory row.
	UpdateMemory(ctx context.Context, m *types.Memory) error

	// GetMemory retrieves a memory scoped to a (tenant, workspace) pair.
	// When trackAccess is true the read atomically increments access_count
	// and sets last_accessed_at. Internal reads (dedup, contradiction
	// checks) must pass trackAccess=false.
	GetMemory(ctx context.Context, scope types.Scope, id string, trackAccess bool) (*types.Memory, error)

	// GetMemoryByID looks a memory up without a scope filter. Memory IDs
	// are globally unique.
	GetMemoryByID(ctx context.Context, id string, trackAccess bool) (*types.Memory, error)

	// GetMemoryByHash is the deduplication probe: exact content-hash lookup
	// within a scope. Returns ErrNotFound when no duplicate exists.
	GetMemoryByHash(ctx context.Context, scope types.Scope, hash string) (*types.Memory, error)

	// DeleteMemory soft-deletes (status=deleted, deleted_at=now) or, when
	// hard is true, purges the row, its associations, and its full-text
	// entry. Returns whether a row was affected.
	DeleteMemory(ctx context.Context, scope types.Scope, id string, hard bool) (bool, error)

	// IncrementAccess bumps access_count by one and sets last_accessed_at.
	IncrementAccess(ctx context.Context, id string) error

	// SearchMemories ranks active memories by descending relevance
	// (1 - cosine distance) against the query vector. Implementations may
	// use a native vector index or in-process cosine; results must agree to
	// six decimal places.
	SearchMemories(ctx context.Context, scope types.Scope, queryVec []float32, opts SearchOptions) ([]SearchResult, error)

	// FullTextSearch performs simple FTS over memory content.
	FullTextSearch(ctx context.Context, scope types.Scope, query string, limit, offset int) ([]*types.Memory, error)

	// GetRecentMemories lists memories ordered by created_at descending,
	// projected to the requested detail level.
	GetRecentMemories(ctx context.Context, scope types.Scope, opts RecentOptions) ([]*types.Memory, error)

	// GetMemoriesForDecay lists non-pinned active memories old enough for
	// the periodic importance decay pass.
	GetMemoriesForDecay(ctx context.Context, q DecayQuery) ([]*types.Memory, error)

	// GetArchivalCandidates lists unpinned active memories whose importance,
	// access count, and age make them eligible for archival.
	GetArchivalCandidates(ctx context.Context, q ArchivalQuery) ([]*types.Memory, error)

	// GetWorkspaceStats summarizes a workspace's stored state.
	GetWorkspaceStats(ctx context.Context, scope types.Scope) (*types.WorkspaceStats, error)
}

// AssociationStore manages typed edges and graph traversal.
type AssociationStore interface {
	// CreateAssociation inserts an edge. The (source, target, relationship)
	// triple is unique per scope; violations return ErrDuplicate.
	CreateAssociation(ctx context.Context, a *types.Association) error

	// GetAssociations lists edges touching memoryID, optionally filtered by
	// relationship labels, following the given direction.
	GetAssociations(ctx context.Context, scope types.Scope, memoryID string, relationships []string, direction types.Direction) ([]*types.Association, error)

	// DeleteAssociationsForMemory purges every edge touching memoryID.
	// Called on hard memory deletion.
	DeleteAssociationsForMemory(ctx context.Context, scope types.Scope, memoryID string) (int, error)

	// TraverseGraph runs a depth-limited BFS from startID with a visited set
	// on node IDs to prevent cycles. Each returned path carries its nodes,
	// edges, product-of-strengths total, and depth.
	TraverseGraph(ctx context.Context, scope types.Scope, startID string, maxDepth int, relationships []string, direction types.Direction) ([]types.TraversalPath, error)
}

// SessionStore manages sessions and working-memory entries. Deleting a
// session cascades to its working memory.
type SessionStore interface {
	CreateSession(ctx context.Context, s *types.Session) error

	// GetSession retrieves a session scoped to a (tenant, workspace) pair.
	GetSession(ctx context.Context, scope types.Scope, id string) (*types.Session, error)

	// GetSessionByID retrieves a session without a scope filter.
	GetSessionByID(ctx context.Context, id string) (*types.Session, error)

	UpdateSession(ctx context.Context, s *types.Session) error

	// DeleteSession removes the session and all of its working memory.
	DeleteSession(ctx context.Context, scope types.Scope, id string) error

	ListSessions(ctx context.Context, scope types.Scope, limit, offset int) ([]*types.Session, error)

	// ListExpiredSessions returns up to limit sessions whose expires_at has
	// passed, across all scopes.
	ListExpiredSessions(ctx context.Context, limit int) ([]*types.Session, error)

	// CleanupExpiredSessions deletes every expired session (cascading) and
	// returns the number removed.
	CleanupExpiredSessions(ctx context.Context) (int, error)

	// SetWorkingMemory upserts a working-memory entry.
	SetWorkingMemory(ctx context.Context, e *types.WorkingMemoryEntry) error

	GetWorkingMemory(ctx context.Context, sessionID, key string) (*types.WorkingMemoryEntry, error)

	ListWorkingMemory(ctx context.Context, sessionID string) ([]*types.WorkingMemoryEntry, error)
}

// ContradictionStore manages contradiction records.
type ContradictionStore interface {
	CreateContradiction(ctx context.Context, c *types.Contradiction) error

	GetContradiction(ctx context.Context, scope types.Scope, id string) (*types.Contradiction, error)

	UpdateContradiction(ctx context.Context, c *types.Contradiction) error

	// ListUnresolvedContradictions returns records with resolved_at IS NULL,
	// newest first.
	ListUnresolvedContradictions(ctx context.Context, scope types.Scope, limit int) ([]*types.Contradiction, error)
}

// NowFunc returns the current UTC time. Stores take it as an injection point
// so tests can pin the clock.
type NowFunc func() time.Time

// UTCNow is the default NowFunc.
func UTCNow() time.Time { return time.Now().UTC() }
