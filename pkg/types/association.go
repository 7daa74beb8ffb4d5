package types

import "time"

// Direction selects which edges a relationship query follows.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Association is a typed directed edge between two memories.
// The triple (SourceID, TargetID, Relationship) is unique within a
// (tenant, workspace) scope and self-edges are rejected at the service layer.
type Association struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	WorkspaceID  string                 `json:"workspace_id"`
	SourceID     string                 `json:"source_id"`
	TargetID     string                 `json:"target_id"`
	Relationship string                 `json:"relationship"`
	Strength     float64                `json:"strength"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// TraversalPath is one path discovered by graph traversal. TotalStrength is
// the product of the strengths of every edge on the path.
type TraversalPath struct {
	Nodes         []*Memory      `json:"nodes"`
	Edges         []*Association `json:"edges"`
	TotalStrength float64        `json:"total_strength"`
	Depth         int            `json:"depth"`
}
