package mapbox

import (
	"container/list"
	"context"
	"math"
	"sync"

	"github.com/couchcryptid/hydromap/internal/domain"
	"github.com/couchcryptid/hydromap/internal/observability"
)

// cellsPerDegree snaps lookups to a grid of about 11 m, so map centres that
// move slightly after an edit reuse the cached place name.
const cellsPerDegree = 1e4

// cell is a snapped coordinate used as cache key.
type cell struct {
	lat, lon int64
}

func cellOf(lat, lon float64) cell {
	return cell{lat: int64(math.Round(lat * cellsPerDegree)), lon: int64(math.Round(lon * cellsPerDegree))}
}

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache keyed by
// grid cell.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	key := cellOf(lat, lon)
	if result, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("reverse", "hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("reverse", "miss").Inc()
	result, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return result, err
	}
	// Empty answers are retried on the next lookup.
	if result.FormattedAddress != "" {
		c.cache.put(key, result)
	}
	return result, nil
}

// lruCache is a mutex-guarded LRU of geocoding results. The front of order
// is the most recently used cell.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List
	items      map[cell]*list.Element
}

type cacheItem struct {
	key   cell
	value domain.GeocodingResult
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[cell]*list.Element),
	}
}

func (c *lruCache) get(key cell) (domain.GeocodingResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return domain.GeocodingResult{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).value, true
}

func (c *lruCache) put(key cell, value domain.GeocodingResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheItem).value = value
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheItem{key: key, value: value})

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		delete(c.items, oldest.Value.(*cacheItem).key)
		c.order.Remove(oldest)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
