// Package contradiction detects and resolves inconsistencies between
// memories. Detection is a cheap heuristic pass over the nearest neighbors of
// a new memory: two contents that are semantically close but disagree through
// a negation pair (use vs don't use, always vs never) are flagged for review.
package contradiction

import (
	"context"
	"log"
	"strings"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

const (
	// neighborLimit bounds how many candidates one detection pass inspects.
	neighborLimit = 20

	// minNeighborRelevance is the similarity floor below which two memories
	// are too unrelated to contradict each other.
	minNeighborRelevance = 0.7
)

// negationPairs are phrase pairs that flip the polarity of a statement. Both
// orders are checked, so the table lists each pair once.
var negationPairs = [][2]string{
	{"use", "don't use"},
	{"use", "do not use"},
	{"should", "should not"},
	{"should", "shouldn't"},
	{"always", "never"},
	{"enable", "disable"},
	{"enabled", "disabled"},
	{"allow", "deny"},
	{"allowed", "denied"},
	{"is", "is not"},
	{"can", "cannot"},
	{"do", "don't"},
	{"prefer", "avoid"},
	{"recommended", "deprecated"},
}

// Detector finds negation-pattern contradictions between a new memory and its
// semantic neighborhood.
type Detector struct {
	store storage.Store
}

func NewDetector(store storage.Store) *Detector {
	return &Detector{store: store}
}

// CheckNewMemory compares m against its nearest neighbors and records one
// contradiction per conflicting pair. A memory with no embedding is skipped:
// without a neighborhood there is nothing to compare against. Detection is
// best effort; storage failures are logged and the successfully recorded
// contradictions are still returned.
func (d *Detector) CheckNewMemory(ctx context.Context, m *types.Memory) ([]*types.Contradiction, error) {
	if m == nil || len(m.Embedding) == 0 {
		return nil, nil
	}

	results, err := d.store.SearchMemories(ctx, m.Scope(), m.Embedding, storage.SearchOptions{
		Limit:        neighborLimit,
		MinRelevance: minNeighborRelevance,
	})
	if err != nil {
		return nil, err
	}

	var found []*types.Contradiction
	for _, r := range results {
		if r.Memory.ID == m.ID {
			continue
		}
		if !negates(m.Content, r.Memory.Content) {
			continue
		}

		c := &types.Contradiction{
			ID:                types.NewContradictionID(),
			TenantID:          m.TenantID,
			WorkspaceID:       m.WorkspaceID,
			MemoryAID:         m.ID,
			MemoryBID:         r.Memory.ID,
			ContradictionType: types.ContradictionTypeNegation,
			Confidence:        r.Relevance,
			DetectionMethod:   types.DetectionMethodNegationPattern,
		}
		if err := d.store.CreateContradiction(ctx, c); err != nil {
			log.Printf("contradiction: record %s vs %s: %v", m.ID, r.Memory.ID, err)
			continue
		}
		found = append(found, c)
	}
	return found, nil
}

// GetUnresolved lists open contradictions for a workspace.
func (d *Detector) GetUnresolved(ctx context.Context, scope types.Scope, limit int) ([]*types.Contradiction, error) {
	return d.store.ListUnresolvedContradictions(ctx, scope, limit)
}

// negates reports whether a and b disagree through a negation pair. The check
// is symmetric: negates(a, b) == negates(b, a).
func negates(a, b string) bool {
	la := " " + strings.ToLower(a) + " "
	lb := " " + strings.ToLower(b) + " "
	for _, pair := range negationPairs {
		pos, neg := " "+pair[0]+" ", " "+pair[1]+" "
		if containsPhrase(la, pos) && containsPhrase(lb, neg) && !containsPhrase(la, neg) {
			return true
		}
		if containsPhrase(lb, pos) && containsPhrase(la, neg) && !containsPhrase(lb, neg) {
			return true
		}
	}
	return false
}

// containsPhrase matches phrase on word boundaries. Both arguments carry
// sentinel spaces added by negates, and punctuation counts as a boundary.
func containsPhrase(text, phrase string) bool {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', ';', ':', '!', '?', '(', ')', '"':
			return ' '
		}
		return r
	}, text)
	return strings.Contains(cleaned, phrase)
}
