package embedding

import (
	"context"
	"crypto/md5"
	"encoding/hex"

	"github.com/engramdev/engram/internal/cache"
)

// cacheKeyPrefix namespaces embedding entries in the shared cache.
const cacheKeyPrefix = "embed:"

// CachingProvider wraps another provider with a content-keyed cache. The key
// is md5(text); the TTL is whatever the underlying cache was built with
// (one hour by default). Only a cache miss reaches the inner provider.
type CachingProvider struct {
	inner Provider
	cache cache.Cache
}

func NewCachingProvider(inner Provider, c cache.Cache) *CachingProvider {
	return &CachingProvider{inner: inner, cache: c}
}

func cacheKey(text string) string {
	sum := md5.Sum([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (p *CachingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := p.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, vec)
	return vec, nil
}

func (p *CachingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	// Embed only the misses, in one provider call.
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := p.cache.Get(cacheKey(t)); ok {
			if vec, ok := v.([]float32); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := p.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		i := missingIdx[j]
		out[i] = vec
		p.cache.Set(cacheKey(texts[i]), vec)
	}
	return out, nil
}

func (p *CachingProvider) Dimensions() int { return p.inner.Dimensions() }

var _ Provider = (*CachingProvider)(nil)
