package types

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// MemoryType is the cognitive classification of a memory.
type MemoryType string

const (
	// TypeEpisodic marks memories of specific events bound to a time and place.
	TypeEpisodic MemoryType = "episodic"

	// TypeSemantic marks general knowledge and facts detached from any event.
	TypeSemantic MemoryType = "semantic"

	// TypeProcedural marks how-to knowledge: workflows, steps, recipes.
	TypeProcedural MemoryType = "procedural"

	// TypeWorking marks short-lived scratchpad memories materialized from sessions.
	TypeWorking MemoryType = "working"
)

// ValidMemoryType reports whether t is one of the four cognitive types.
func ValidMemoryType(t MemoryType) bool {
	switch t {
	case TypeEpisodic, TypeSemantic, TypeProcedural, TypeWorking:
		return true
	}
	return false
}

// MemorySubtype is an optional domain classification within a cognitive type.
type MemorySubtype string

const (
	SubtypeProfile    MemorySubtype = "profile"
	SubtypePreference MemorySubtype = "preference"
	SubtypeEntity     MemorySubtype = "entity"
	SubtypeEvent      MemorySubtype = "event"
	SubtypeCase       MemorySubtype = "case"
	SubtypePattern    MemorySubtype = "pattern"
	SubtypeDecision   MemorySubtype = "decision"
	SubtypeFact       MemorySubtype = "fact"
)

// MemoryStatus is the lifecycle state of a memory.
type MemoryStatus string

const (
	StatusActive   MemoryStatus = "active"
	StatusArchived MemoryStatus = "archived"
	StatusDeleted  MemoryStatus = "deleted"
)

// SourceScope describes where a recalled memory came from relative to the
// query's workspace and context. Populated only during recall, never persisted.
type SourceScope string

const (
	ScopeSameContext     SourceScope = "same_context"
	ScopeSameWorkspace   SourceScope = "same_workspace"
	ScopeGlobalWorkspace SourceScope = "global_workspace"
	ScopeAssociation     SourceScope = "association"
	ScopeOther           SourceScope = "other"
)

// DetailLevel controls which summary tier recall returns as content.
type DetailLevel string

const (
	DetailAbstract DetailLevel = "abstract"
	DetailOverview DetailLevel = "overview"
	DetailFull     DetailLevel = "full"
)

// RecallMode selects the retrieval strategy.
type RecallMode string

const (
	ModeRAG    RecallMode = "rag"
	ModeLLM    RecallMode = "llm"
	ModeHybrid RecallMode = "hybrid"
)

// Tolerance maps to a minimum relevance floor when the caller does not
// specify one explicitly.
type Tolerance string

const (
	ToleranceStrict   Tolerance = "strict"
	ToleranceModerate Tolerance = "moderate"
	ToleranceLoose    Tolerance = "loose"
)

// Memory is the central entity: a content-addressed, classified, embedded,
// optionally summarized unit of long-term knowledge.
type Memory struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id"`
	ContextID   string `json:"context_id"`

	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`

	Type     MemoryType    `json:"type"`
	Subtype  MemorySubtype `json:"subtype,omitempty"`
	Category string        `json:"category,omitempty"`

	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Importance  float64 `json:"importance"`
	DecayFactor float64 `json:"decay_factor"`

	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// Hierarchical summary tiers. Content is the full tier.
	Abstract string `json:"abstract,omitempty"`
	Overview string `json:"overview,omitempty"`

	Status MemoryStatus `json:"status"`
	Pinned bool         `json:"pinned"`

	// SourceMemoryID links a decomposed fact back to its composite parent.
	SourceMemoryID string `json:"source_memory_id,omitempty"`

	// Embedding may be absent between creation and asynchronous write-back.
	Embedding []float32 `json:"embedding,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Ephemeral ranking metadata, populated during recall only.
	SourceScope    SourceScope `json:"source_scope,omitempty"`
	RelevanceScore float64     `json:"relevance_score,omitempty"`
	BoostedScore   float64     `json:"boosted_score,omitempty"`
}

// HashContent returns the SHA-256 hex digest of the exact content string.
// This is the deduplication key within a (tenant, workspace) scope.
func HashContent(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

// Scope returns the (tenant, workspace) pair the memory belongs to.
func (m *Memory) Scope() Scope {
	return NewScope(m.TenantID, m.WorkspaceID)
}

// IsExpendable reports whether the background decay and archival jobs may
// touch this memory. Pinned memories are exempt from both.
func (m *Memory) IsExpendable() bool {
	return !m.Pinned && m.Status == StatusActive
}

// AgeDays returns the memory's age in fractional days as of now.
func (m *Memory) AgeDays(now time.Time) float64 {
	return now.Sub(m.CreatedAt).Hours() / 24.0
}
