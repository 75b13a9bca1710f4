package storage

import (
	"time"

	"obuoy/core"
	"obuoy/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedObservation struct {
	obs      core.Observation
	storedAt time.Time
}

// ObservationCache keeps the latest observation per station in memory
type ObservationCache struct {
	cache *lru.Cache[string, cachedObservation]
	ttl   time.Duration
	now   func() time.Time
}

// NewObservationCache creates a cache holding up to size stations.
// Entries older than ttl are treated as misses; ttl <= 0 disables expiry.
func NewObservationCache(size int, ttl time.Duration) (*ObservationCache, error) {
	cache, err := lru.New[string, cachedObservation](size)
	if err != nil {
		return nil, err
	}
	return &ObservationCache{cache: cache, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached latest observation for a station
func (c *ObservationCache) Get(stationID string) (core.Observation, bool) {
	entry, ok := c.cache.Get(stationID)
	if ok && c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.cache.Remove(stationID)
		ok = false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues("local").Inc()
		return core.Observation{}, false
	}
	metrics.CacheHits.WithLabelValues("local").Inc()
	return entry.obs, true
}

// Put stores obs unless a newer observation for the station is already cached
func (c *ObservationCache) Put(obs core.Observation) {
	if existing, ok := c.cache.Peek(obs.StationID); ok && existing.obs.ObservedAt.After(obs.ObservedAt) {
		return
	}
	c.cache.Add(obs.StationID, cachedObservation{obs: obs, storedAt: c.now()})
}

// Remove drops a station from the cache
func (c *ObservationCache) Remove(stationID string) {
	c.cache.Remove(stationID)
}

// Len returns the number of cached stations
func (c *ObservationCache) Len() int {
	return c.cache.Len()
}
