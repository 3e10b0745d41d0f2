package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/vjranagit/solarmon/pkg/types"
)

// rangeKey identifies one range query. Bounds are unix nanoseconds so that
// equal instants in different zones share an entry.
type rangeKey struct {
	topicID int
	start   int64
	end     int64
}

func rangeKeyOf(req *types.QueryRequest) rangeKey {
	return rangeKey{
		topicID: req.TopicID,
		start:   req.StartTime.UnixNano(),
		end:     req.EndTime.UnixNano(),
	}
}

type rangeEntry struct {
	key     rangeKey
	result  *types.QueryResult
	expires time.Time
}

// QueryCache keeps recent range query results. Entries expire after the TTL
// and the least recently read entry is evicted beyond capacity.
type QueryCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	entries map[rangeKey]*list.Element
	recency *list.List // front is most recently used

	hits   uint64
	misses uint64
}

// CacheStats is a snapshot of cache counters
type CacheStats struct {
	Size     int
	Capacity int
	Expired  int
	Hits     uint64
	Misses   uint64
}

// HitRate returns hits as a percentage of lookups
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// NewQueryCache creates a cache; a capacity of zero or less disables it
func NewQueryCache(capacity int, ttl time.Duration) *QueryCache {
	return &QueryCache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[rangeKey]*list.Element),
		recency:  list.New(),
	}
}

// Get returns the cached result for req if it has not expired
func (qc *QueryCache) Get(req *types.QueryRequest) (*types.QueryResult, bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	el, ok := qc.entries[rangeKeyOf(req)]
	if !ok {
		qc.misses++
		return nil, false
	}

	entry := el.Value.(*rangeEntry)
	if !qc.now().Before(entry.expires) {
		qc.dropLocked(el)
		qc.misses++
		return nil, false
	}

	qc.recency.MoveToFront(el)
	qc.hits++
	return entry.result, true
}

// Put caches result for req
func (qc *QueryCache) Put(req *types.QueryRequest, result *types.QueryResult) {
	if qc.capacity <= 0 {
		return
	}

	qc.mu.Lock()
	defer qc.mu.Unlock()

	key := rangeKeyOf(req)
	expires := qc.now().Add(qc.ttl)

	if el, ok := qc.entries[key]; ok {
		entry := el.Value.(*rangeEntry)
		entry.result, entry.expires = result, expires
		qc.recency.MoveToFront(el)
		return
	}

	qc.entries[key] = qc.recency.PushFront(&rangeEntry{key: key, result: result, expires: expires})
	for qc.recency.Len() > qc.capacity {
		qc.dropLocked(qc.recency.Back())
	}
}

// Invalidate drops every cached range of a topic
func (qc *QueryCache) Invalidate(topicID int) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	for key, el := range qc.entries {
		if key.topicID == topicID {
			qc.dropLocked(el)
		}
	}
}

func (qc *QueryCache) dropLocked(el *list.Element) {
	delete(qc.entries, el.Value.(*rangeEntry).key)
	qc.recency.Remove(el)
}

// Size returns the number of cached ranges, expired or not
func (qc *QueryCache) Size() int {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return len(qc.entries)
}

// Stats returns the current counters
func (qc *QueryCache) Stats() CacheStats {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	now := qc.now()
	stats := CacheStats{
		Size:     len(qc.entries),
		Capacity: qc.capacity,
		Hits:     qc.hits,
		Misses:   qc.misses,
	}
	for _, el := range qc.entries {
		if !now.Before(el.Value.(*rangeEntry).expires) {
			stats.Expired++
		}
	}
	return stats
}

// CachedStorage serves repeated range queries from a QueryCache. A write
// invalidates the cached ranges of its topic only.
type CachedStorage struct {
	Storage
	cache *QueryCache
}

// NewCachedStorage wraps storage with a query cache
func NewCachedStorage(storage Storage, capacity int, ttl time.Duration) *CachedStorage {
	return &CachedStorage{
		Storage: storage,
		cache:   NewQueryCache(capacity, ttl),
	}
}

// Write stores req and invalidates the topic's cached ranges
func (cs *CachedStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	defer cs.cache.Invalidate(req.Topic.TopicID)
	return cs.Storage.Write(ctx, req)
}

// Query returns a cached result when one is fresh
func (cs *CachedStorage) Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error) {
	if result, ok := cs.cache.Get(req); ok {
		return result, nil
	}

	result, err := cs.Storage.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	cs.cache.Put(req, result)
	return result, nil
}

// CacheStats returns the cache counters
func (cs *CachedStorage) CacheStats() CacheStats {
	return cs.cache.Stats()
}
