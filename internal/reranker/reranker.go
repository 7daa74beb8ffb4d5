// Package reranker re-orders recall candidates by query relevance. The engine
// treats reranking as optional enrichment: when no reranker is configured or
// a call fails, recall falls back to score-ordered truncation.
package reranker

import (
	"context"
	"errors"
	"sort"
)

// ErrRerankFailed wraps provider failures; callers truncate instead.
var ErrRerankFailed = errors.New("rerank failed")

// Document is one rerank candidate.
type Document struct {
	// Ref is an opaque handle the caller uses to map results back
	// (typically a memory id).
	Ref     string
	Content string
	Score   float64
}

// Reranker re-orders documents by relevance to the query and returns the top
// k, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document, k int) ([]Document, error)
}

// AdaptiveK widens the requested k when the candidate pool is large, so the
// reranker sees enough context to be useful, and the caller truncates to the
// original k afterward. Returns at least requestedK, at most len(docs).
func AdaptiveK(requestedK, candidates int) int {
	if requestedK < 1 {
		requestedK = 1
	}
	k := requestedK * 2
	if k > candidates {
		k = candidates
	}
	if k < requestedK {
		k = requestedK
	}
	return k
}

// Noop orders by the incoming score and truncates. It is the fallback used
// when no reranker service is configured.
type Noop struct{}

func (Noop) Rerank(ctx context.Context, query string, docs []Document, k int) ([]Document, error) {
	out := make([]Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

var _ Reranker = Noop{}
