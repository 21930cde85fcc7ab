package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"deepresearcher/internal/research"
)

// CachedProvider memoizes search results so a follow-up query repeated
// across sessions (or the same query retried within one) skips the
// network. Only successful searches are cached.
type CachedProvider struct {
	inner research.SearchProvider
	cache *gocache.Cache
}

func NewCachedProvider(inner research.SearchProvider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: gocache.New(ttl, ttl*2),
	}
}

func (c *CachedProvider) Search(ctx context.Context, query string, maxResults int) ([]research.Source, error) {
	key := cacheKey(query, maxResults)
	if cached, ok := c.cache.Get(key); ok {
		sources := cached.([]research.Source)
		out := make([]research.Source, len(sources))
		copy(out, sources)
		return out, nil
	}

	sources, err := c.inner.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	stored := make([]research.Source, len(sources))
	copy(stored, sources)
	c.cache.SetDefault(key, stored)
	return sources, nil
}

func cacheKey(query string, maxResults int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", query, maxResults)))
	return hex.EncodeToString(sum[:16])
}
