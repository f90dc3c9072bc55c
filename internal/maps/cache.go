package maps

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"outing/internal/metrics"
	"outing/internal/types"
)

const (
	DefaultCacheSize   = 500
	DetailsCacheTTL    = time.Hour
	GeocodeCacheTTL    = 24 * time.Hour
	TextSearchCacheTTL = time.Hour
)

// PlaceLookup is the places surface used by plan enrichment.
type PlaceLookup interface {
	FindByText(ctx context.Context, query string, bias *types.Point) (*PlaceSummary, error)
	Details(ctx context.Context, placeID string, fields []string) (*PlaceDetail, error)
	PhotoURL(ref string) string
}

// Geocoder resolves addresses to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*types.Point, error)
}

// CacheStats is a point-in-time view of one cache.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// ttlCache is a bounded LRU whose entries expire after a fixed TTL.
// Concurrent misses on the same key share one upstream call.
type ttlCache[V any] struct {
	name   string
	lru    *expirable.LRU[string, V]
	group  singleflight.Group
	hits   atomic.Uint64
	misses atomic.Uint64
}

func newTTLCache[V any](name string, size int, ttl time.Duration) *ttlCache[V] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &ttlCache[V]{name: name, lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// get returns the cached value or loads it. Errors are never cached.
func (c *ttlCache[V]) get(key string, load func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
		return v, nil
	}
	c.misses.Add(1)
	metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load()
		if err != nil {
			return v, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *ttlCache[V]) stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.lru.Len()}
}

// CachedPlaces decorates a PlaceLookup with LRU+TTL caches for text search and details.
type CachedPlaces struct {
	inner   PlaceLookup
	search  *ttlCache[*PlaceSummary]
	details *ttlCache[*PlaceDetail]
}

func NewCachedPlaces(inner PlaceLookup, size int) *CachedPlaces {
	return &CachedPlaces{
		inner:   inner,
		search:  newTTLCache[*PlaceSummary]("text_search", size, TextSearchCacheTTL),
		details: newTTLCache[*PlaceDetail]("details", size, DetailsCacheTTL),
	}
}

func (c *CachedPlaces) FindByText(ctx context.Context, query string, bias *types.Point) (*PlaceSummary, error) {
	key := query
	if bias != nil {
		key += "|" + bias.String()
	}
	return c.search.get(key, func() (*PlaceSummary, error) {
		return c.inner.FindByText(ctx, query, bias)
	})
}

func (c *CachedPlaces) Details(ctx context.Context, placeID string, fields []string) (*PlaceDetail, error) {
	key := placeID + "|" + strings.Join(fields, ",")
	return c.details.get(key, func() (*PlaceDetail, error) {
		return c.inner.Details(ctx, placeID, fields)
	})
}

func (c *CachedPlaces) PhotoURL(ref string) string {
	return c.inner.PhotoURL(ref)
}

func (c *CachedPlaces) Stats() map[string]CacheStats {
	return map[string]CacheStats{
		c.search.name:  c.search.stats(),
		c.details.name: c.details.stats(),
	}
}

// CachedGeocoder decorates a Geocoder with a 24h LRU cache keyed by the normalised address.
type CachedGeocoder struct {
	inner Geocoder
	cache *ttlCache[*types.Point]
}

func NewCachedGeocoder(inner Geocoder, size int) *CachedGeocoder {
	return &CachedGeocoder{inner: inner, cache: newTTLCache[*types.Point]("geocode", size, GeocodeCacheTTL)}
}

func (c *CachedGeocoder) Geocode(ctx context.Context, address string) (*types.Point, error) {
	key := strings.ToLower(strings.TrimSpace(address))
	return c.cache.get(key, func() (*types.Point, error) {
		return c.inner.Geocode(ctx, address)
	})
}

func (c *CachedGeocoder) Stats() CacheStats {
	return c.cache.stats()
}
