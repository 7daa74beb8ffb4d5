package types

import "time"

// Session is a TTL-bounded working-memory scope bound to a workspace,
// context, and tenant. All working-memory entries are deleted when their
// parent session is deleted.
type Session struct {
	ID          string                 `json:"id"`
	WorkspaceID string                 `json:"workspace_id"`
	ContextID   string                 `json:"context_id"`
	TenantID    string                 `json:"tenant_id"`
	TTLSeconds  int                    `json:"ttl_seconds"`
	ExpiresAt   time.Time              `json:"expires_at"`
	AutoCommit  bool                   `json:"auto_commit"`
	CommittedAt *time.Time             `json:"committed_at,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Scope returns the (tenant, workspace) pair the session belongs to.
func (s *Session) Scope() Scope {
	return NewScope(s.TenantID, s.WorkspaceID)
}

// IsExpired is a pure function of wall clock: a session is expired once its
// absolute ExpiresAt has passed.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsCommitted reports whether the session has already been committed.
func (s *Session) IsCommitted() bool {
	return s.CommittedAt != nil
}

// WorkingMemoryEntry is a KV pair inside a session. Every write schedules a
// background task persisting the entry as a type=working long-term memory.
type WorkingMemoryEntry struct {
	SessionID string      `json:"session_id"`
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	ExpiresAt time.Time   `json:"expires_at"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IsExpired reports whether the entry's own TTL (or the inherited session
// TTL) has elapsed.
func (w *WorkingMemoryEntry) IsExpired(now time.Time) bool {
	return now.After(w.ExpiresAt)
}

// SessionBriefing is the catch-up summary assembled for a workspace.
type SessionBriefing struct {
	WorkspaceSummary       WorkspaceStats   `json:"workspace_summary"`
	RecentActivity         []*Memory        `json:"recent_activity,omitempty"`
	OpenThreads            []*Session       `json:"open_threads,omitempty"`
	ContradictionsDetected []*Contradiction `json:"contradictions_detected,omitempty"`
	Memories               []*Memory        `json:"memories,omitempty"`
	GeneratedAt            time.Time        `json:"generated_at"`
}

// WorkspaceStats summarizes a workspace's stored state.
type WorkspaceStats struct {
	WorkspaceID        string `json:"workspace_id"`
	MemoryCount        int    `json:"memory_count"`
	ArchivedCount      int    `json:"archived_count"`
	AssociationCount   int    `json:"association_count"`
	SessionCount       int    `json:"session_count"`
	ContradictionCount int    `json:"contradiction_count"`
}

// CommitStats reports what a session commit accomplished.
type CommitStats struct {
	SessionID   string    `json:"session_id"`
	EntriesSeen int       `json:"entries_seen"`
	CommittedAt time.Time `json:"committed_at"`
	AlreadyDone bool      `json:"already_done"`
}
