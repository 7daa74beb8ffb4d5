package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"
)

// MockProvider generates deterministic unit vectors seeded by content hash.
// Identical text always embeds to the identical vector, and token overlap
// between two texts pulls their vectors together, which is enough for dedup
// and recall tests without a live model.
type MockProvider struct {
	dims int
}

// NewMockProvider returns a mock provider with the given dimensionality
// (default 128).
func NewMockProvider(dims int) *MockProvider {
	if dims < 1 {
		dims = 128
	}
	return &MockProvider{dims: dims}
}

func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrEmbeddingFailed)
	}

	// Sum per-token deterministic vectors so shared tokens produce
	// similar embeddings.
	vec := make([]float32, p.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		seed := sha256.Sum256([]byte(token))
		rng := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed[:8]))))
		for i := range vec {
			vec[i] += float32(rng.NormFloat64())
		}
	}
	return normalize(vec), nil
}

func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *MockProvider) Dimensions() int { return p.dims }

var _ Provider = (*MockProvider)(nil)
