package catalog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// DefaultCacheSize and DefaultCacheTTL apply when the caller passes zero.
const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 15 * time.Minute
)

// Cached wraps a catalog with a bounded TTL cache and collapses concurrent
// identical lookups into one call. Not-found results are cached; other
// errors are not.
type Cached struct {
	next     core.Catalog
	searches *expirable.LRU[string, []core.Candidate]
	titles   *expirable.LRU[string, *core.Candidate]
	flight   singleflight.Group
}

// NewCached creates a caching decorator around next.
func NewCached(next core.Catalog, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:     next,
		searches: expirable.NewLRU[string, []core.Candidate](size, nil, ttl),
		titles:   expirable.NewLRU[string, *core.Candidate](size, nil, ttl),
	}
}

// Search returns cached results for (normalized query, limit).
func (c *Cached) Search(ctx context.Context, query string, limit int) ([]core.Candidate, error) {
	key := strconv.Itoa(limit) + "|" + core.NormalizeTitle(query)
	if hit, ok := c.searches.Get(key); ok {
		return clone(hit), nil
	}

	v, err, _ := c.flight.Do("s|"+key, func() (any, error) {
		res, err := c.next.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		c.searches.Add(key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]core.Candidate)), nil
}

// Get returns a cached title. A nil cache entry records a known miss.
func (c *Cached) Get(ctx context.Context, id string) (*core.Candidate, error) {
	if hit, ok := c.titles.Get(id); ok {
		if hit == nil {
			return nil, core.ErrNotFound
		}
		cp := *hit
		return &cp, nil
	}

	v, err, _ := c.flight.Do("g|"+id, func() (any, error) {
		cand, err := c.next.Get(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			c.titles.Add(id, nil)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		c.titles.Add(id, cand)
		return cand, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*core.Candidate)
	return &cp, nil
}

// Purge drops every cached entry.
func (c *Cached) Purge() {
	c.searches.Purge()
	c.titles.Purge()
}

func clone(in []core.Candidate) []core.Candidate {
	if in == nil {
		return nil
	}
	out := make([]core.Candidate, len(in))
	copy(out, in)
	return out
}
