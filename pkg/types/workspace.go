package types

import "time"

// Reserved workspace and context identifiers. Both workspaces are always
// present; every workspace auto-provisions a DefaultContextID context.
const (
	// DefaultWorkspaceID is the per-tenant default workspace.
	DefaultWorkspaceID = "_default"

	// GlobalWorkspaceID is the cross-workspace shared pool. Recall may fan
	// out to it when include_global is set.
	GlobalWorkspaceID = "_global"

	// DefaultContextID is auto-provisioned in every workspace.
	DefaultContextID = "_default"

	// DefaultTenantID is used when callers do not supply a tenant.
	DefaultTenantID = "default"
)

// WorkspaceSettings carries per-workspace tuning knobs.
type WorkspaceSettings struct {
	DecayRate            float64 `json:"decay_rate,omitempty"`
	EmbeddingModel       string  `json:"embedding_model,omitempty"`
	EmbeddingDimensions  int     `json:"embedding_dimensions,omitempty"`
	AbstractMaxChars     int     `json:"abstract_max_chars,omitempty"`
	OverviewMaxChars     int     `json:"overview_max_chars,omitempty"`
	SameContextBoost     float64 `json:"same_context_boost,omitempty"`
	SameWorkspaceBoost   float64 `json:"same_workspace_boost,omitempty"`
	AutoRememberEnabled  bool    `json:"auto_remember_enabled,omitempty"`
	AutoAssociateEnabled bool    `json:"auto_associate_enabled,omitempty"`
}

// Workspace is a tenant-scoped namespace, the outermost memory boundary.
// A workspace exclusively owns its memories, associations, sessions,
// contexts, and contradictions.
type Workspace struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Name      string            `json:"name"`
	Settings  WorkspaceSettings `json:"settings"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IsReservedWorkspace reports whether id names one of the two reserved
// workspaces that must always exist.
func IsReservedWorkspace(id string) bool {
	return id == DefaultWorkspaceID || id == GlobalWorkspaceID
}

// Context is a logical grouping within a workspace (project, topic, thread).
// (TenantID, WorkspaceID, ID) and (TenantID, WorkspaceID, Name) are both
// unique.
type Context struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}
