// Package embedding turns text into fixed-dimension unit vectors. Providers
// sit behind the Provider interface; CachingProvider adds a content-keyed TTL
// cache so repeat content never hits the model twice within the window.
package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrEmbeddingFailed wraps provider failures. Ingest treats embedding as
// essential: a memory is never stored without a vector for deduplication.
var ErrEmbeddingFailed = errors.New("embedding failed")

// Provider generates dense unit vectors for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// normalize scales v to unit length in place and returns it. Zero vectors are
// returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
