package types

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes identify entity kinds at a glance and keep identifiers
// globally unique within a tenant's store.
const (
	MemoryIDPrefix        = "mem_"
	AssociationIDPrefix   = "assoc_"
	SessionIDPrefix       = "sess_"
	ContradictionIDPrefix = "contra_"
)

// NewMemoryID returns a fresh memory identifier.
func NewMemoryID() string {
	return MemoryIDPrefix + newSuffix()
}

// NewAssociationID returns a fresh association identifier.
func NewAssociationID() string {
	return AssociationIDPrefix + newSuffix()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return SessionIDPrefix + newSuffix()
}

// NewContradictionID returns a fresh contradiction record identifier.
func NewContradictionID() string {
	return ContradictionIDPrefix + newSuffix()
}

func newSuffix() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
