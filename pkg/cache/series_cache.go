// Package cache holds the price history shared by every tenant loop.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// SeriesCache maps symbol to its most recent price series. Writers replace a
// whole series at once, so readers always see a complete snapshot.
type SeriesCache struct {
	shards [numShards]*seriesShard
}

type seriesShard struct {
	mu    sync.RWMutex
	items map[string]seriesEntry
}

type seriesEntry struct {
	prices    []float64 // never mutated after Set
	updatedAt time.Time
}

// NewSeriesCache creates an empty cache.
func NewSeriesCache() *SeriesCache {
	c := &SeriesCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &seriesShard{
			items: make(map[string]seriesEntry),
		}
	}
	return c
}

func (c *SeriesCache) getShard(key string) *seriesShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a copy of prices as the symbol's current series.
func (c *SeriesCache) Set(symbol string, prices []float64) {
	snapshot := append([]float64(nil), prices...)
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = seriesEntry{
		prices:    snapshot,
		updatedAt: time.Now(),
	}
	shard.mu.Unlock()
}

// Series returns the cached series for symbol. The slice is shared and must
// not be modified.
func (c *SeriesCache) Series(symbol string) ([]float64, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.prices, ok
}

// Cleanup removes entries older than maxAge.
func (c *SeriesCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// CacheStats summarizes the cache for status reporting.
type CacheStats struct {
	Symbols      int     `json:"symbols"`
	OldestAgeSec float64 `json:"oldest_age_sec"`
}

// Stats counts cached symbols and reports the age of the stalest series.
func (c *SeriesCache) Stats() CacheStats {
	var stats CacheStats
	var oldest time.Time
	for _, shard := range c.shards {
		shard.mu.RLock()
		stats.Symbols += len(shard.items)
		for _, entry := range shard.items {
			if oldest.IsZero() || entry.updatedAt.Before(oldest) {
				oldest = entry.updatedAt
			}
		}
		shard.mu.RUnlock()
	}
	if !oldest.IsZero() {
		stats.OldestAgeSec = time.Since(oldest).Seconds()
	}
	return stats
}
