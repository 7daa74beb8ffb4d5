package types

import "time"

// Resolution is the strategy applied when resolving a contradiction.
type Resolution string

const (
	// ResolutionKeepA keeps memory A and soft-deletes memory B.
	ResolutionKeepA Resolution = "keep_a"

	// ResolutionKeepB keeps memory B and soft-deletes memory A.
	ResolutionKeepB Resolution = "keep_b"

	// ResolutionKeepBoth records the resolution without touching either memory.
	ResolutionKeepBoth Resolution = "keep_both"

	// ResolutionMerge overwrites memory A with merged content and
	// soft-deletes memory B.
	ResolutionMerge Resolution = "merge"
)

// ValidResolution reports whether r is a known resolution strategy.
func ValidResolution(r Resolution) bool {
	switch r {
	case ResolutionKeepA, ResolutionKeepB, ResolutionKeepBoth, ResolutionMerge:
		return true
	}
	return false
}

// Detection constants for the negation-pattern heuristic.
const (
	ContradictionTypeNegation      = "negation"
	DetectionMethodNegationPattern = "negation_pattern"
)

// Contradiction records a detected inconsistency between two memories.
// A record is unresolved iff ResolvedAt is nil.
type Contradiction struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	WorkspaceID       string     `json:"workspace_id"`
	MemoryAID         string     `json:"memory_a_id"`
	MemoryBID         string     `json:"memory_b_id"`
	ContradictionType string     `json:"contradiction_type"`
	Confidence        float64    `json:"confidence"`
	DetectionMethod   string     `json:"detection_method"`
	DetectedAt        time.Time  `json:"detected_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	Resolution        Resolution `json:"resolution,omitempty"`
	MergedContent     string     `json:"merged_content,omitempty"`
}

// IsResolved reports whether the record has been resolved.
func (c *Contradiction) IsResolved() bool {
	return c.ResolvedAt != nil
}
