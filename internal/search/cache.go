package search

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/metrics"
)

// Cached memoizes per-query results of another Searcher.
type Cached struct {
	next  Searcher
	cache *lru.Cache[string, []Result]
}

// NewCached wraps next with an LRU of size entries.
func NewCached(next Searcher, size int) (*Cached, error) {
	c, err := lru.New[string, []Result](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c}, nil
}

// Provider implements Searcher.
func (c *Cached) Provider() config.SearchAPI { return c.next.Provider() }

// Search serves cached queries locally and forwards each miss on its own so
// results can be cached per query. Only forwarded queries are billed.
func (c *Cached) Search(ctx context.Context, queries []string) (Response, error) {
	batches := make([][]Result, 0, len(queries)+1)
	var misses []string
	for _, q := range queries {
		key := cacheKey(c.next.Provider(), q)
		if res, ok := c.cache.Get(key); ok {
			metrics.SearchCacheHits.WithLabelValues("hit").Inc()
			batches = append(batches, res)
			continue
		}
		metrics.SearchCacheHits.WithLabelValues("miss").Inc()
		misses = append(misses, q)
	}
	var (
		lastErr error
		billed  int
	)
	for _, q := range misses {
		resp, err := c.next.Search(ctx, []string{q})
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			lastErr = err
			continue
		}
		billed += resp.Billed
		c.cache.Add(cacheKey(c.next.Provider(), q), resp.Results)
		batches = append(batches, resp.Results)
	}
	if len(batches) == 0 && lastErr != nil {
		return Response{}, lastErr
	}
	return Response{Results: Dedupe(batches...), Billed: billed}, nil
}

func cacheKey(provider config.SearchAPI, q string) string {
	return string(provider) + "|" + strings.ToLower(strings.TrimSpace(q))
}
