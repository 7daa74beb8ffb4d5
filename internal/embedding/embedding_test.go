package embedding

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/cache"
	"github.com/engramdev/engram/internal/storage"
)

func TestMockProvider_Deterministic(t *testing.T) {
	p := NewMockProvider(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Unit length.
	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockProvider_SharedTokensAreCloser(t *testing.T) {
	p := NewMockProvider(128)
	ctx := context.Background()

	base, err := p.Embed(ctx, "always use pytest for testing")
	require.NoError(t, err)
	near, err := p.Embed(ctx, "never use pytest for testing")
	require.NoError(t, err)
	far, err := p.Embed(ctx, "the capital of france is paris")
	require.NoError(t, err)

	assert.Greater(t, storage.Cosine(base, near), storage.Cosine(base, far))
}

func TestMockProvider_EmptyText(t *testing.T) {
	p := NewMockProvider(16)
	_, err := p.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

// countingProvider wraps MockProvider and counts inner calls.
type countingProvider struct {
	*MockProvider
	calls int
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.MockProvider.Embed(ctx, text)
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.MockProvider.EmbedBatch(ctx, texts)
}

func TestCachingProvider_HitSkipsInner(t *testing.T) {
	inner := &countingProvider{MockProvider: NewMockProvider(32)}
	p := NewCachingProvider(inner, cache.New(16, time.Hour))
	ctx := context.Background()

	first, err := p.Embed(ctx, "cache me")
	require.NoError(t, err)
	second, err := p.Embed(ctx, "cache me")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCachingProvider_BatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingProvider{MockProvider: NewMockProvider(32)}
	p := NewCachingProvider(inner, cache.New(16, time.Hour))
	ctx := context.Background()

	_, err := p.Embed(ctx, "a")
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.NotNil(t, vecs[0])
	assert.NotNil(t, vecs[1])
	// One call for "a", one batch call for "b".
	assert.Equal(t, 2, inner.calls)
}
