package fbt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Related is one frequently-bought-together suggestion for a product.
type Related struct {
	ProductID   int64     `json:"product_id"`
	Count       int64     `json:"count"`
	Confidence  float64   `json:"confidence"`
	LastUpdated time.Time `json:"last_updated"`
}

// RecommenderOptions configures a Recommender.
type RecommenderOptions struct {
	MinCount     int64
	DefaultLimit int
	MaxLimit     int
	CacheSize    int
	CacheTTL     time.Duration
}

// Recommender serves the read path over the relationship counters, with an
// expiring in-memory cache in front of the store.
type Recommender struct {
	store RelationReader
	opts  RecommenderOptions
	cache *expirable.LRU[string, []Related]
}

// NewRecommender creates a Recommender. A zero CacheSize disables caching.
func NewRecommender(store RelationReader, opts RecommenderOptions) *Recommender {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 4
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 50
	}
	if opts.MinCount < 1 {
		opts.MinCount = 1
	}
	r := &Recommender{store: store, opts: opts}
	if opts.CacheSize > 0 {
		r.cache = expirable.NewLRU[string, []Related](opts.CacheSize, nil, opts.CacheTTL)
	}
	return r
}

// Related returns up to limit partners of productID, strongest first.
// Confidence is count divided by the number of orders containing productID.
func (r *Recommender) Related(ctx context.Context, productID int64, limit int) ([]Related, error) {
	if limit <= 0 {
		limit = r.opts.DefaultLimit
	}
	limit = min(limit, r.opts.MaxLimit)

	key := cacheKey(productID, limit)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v, nil
		}
	}

	rels, err := r.store.Related(ctx, productID, r.opts.MinCount, limit)
	if err != nil {
		return nil, fmt.Errorf("fbt: related %d: %w", productID, err)
	}
	orderCount, err := r.store.OrderCount(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("fbt: related %d: %w", productID, err)
	}

	out := make([]Related, 0, len(rels))
	for _, rel := range rels {
		var conf float64
		if orderCount > 0 {
			conf = float64(rel.Count) / float64(orderCount)
		}
		out = append(out, Related{
			ProductID:   rel.ProductID,
			Count:       rel.Count,
			Confidence:  conf,
			LastUpdated: rel.LastUpdated,
		})
	}

	if r.cache != nil {
		r.cache.Add(key, out)
	}
	return out, nil
}

// Invalidate drops cached suggestions for the given products.
func (r *Recommender) Invalidate(productIDs ...int64) {
	if r.cache == nil || len(productIDs) == 0 {
		return
	}
	prefixes := make([]string, len(productIDs))
	for i, id := range productIDs {
		prefixes[i] = strconv.FormatInt(id, 10) + ":"
	}
	for _, k := range r.cache.Keys() {
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				r.cache.Remove(k)
				break
			}
		}
	}
}

// Purge drops every cached suggestion.
func (r *Recommender) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

func cacheKey(productID int64, limit int) string {
	return strconv.FormatInt(productID, 10) + ":" + strconv.Itoa(limit)
}
