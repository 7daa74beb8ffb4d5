package types

// Scope names the (tenant, workspace) pair that bounds every memory
// operation. Workspace IDs are only unique within a tenant; the reserved
// _default and _global workspaces repeat per tenant, so a bare workspace ID
// never identifies a pool on its own.
type Scope struct {
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id"`
}

// NewScope builds a Scope, substituting DefaultTenantID for an empty tenant.
func NewScope(tenantID, workspaceID string) Scope {
	if tenantID == "" {
		tenantID = DefaultTenantID
	}
	return Scope{TenantID: tenantID, WorkspaceID: workspaceID}
}

// WithWorkspace returns the same tenant pointed at a different workspace.
func (s Scope) WithWorkspace(workspaceID string) Scope {
	return Scope{TenantID: s.TenantID, WorkspaceID: workspaceID}
}

// String renders the scope as tenant/workspace, usable as a cache key part.
func (s Scope) String() string {
	return s.TenantID + "/" + s.WorkspaceID
}
