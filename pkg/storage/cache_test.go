package storage

import (
	"context"
	"testing"
	"time"

	"github.com/vjranagit/solarmon/pkg/types"
)

var cacheWindowEnd = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func cacheRequest(topicID int) *types.QueryRequest {
	return &types.QueryRequest{
		TopicID:   topicID,
		StartTime: cacheWindowEnd.Add(-1 * time.Hour),
		EndTime:   cacheWindowEnd,
	}
}

func TestQueryCache(t *testing.T) {
	cache := NewQueryCache(100, 1*time.Minute)
	req := cacheRequest(1)

	if _, ok := cache.Get(req); ok {
		t.Error("Expected cache miss, got hit")
	}

	result := &types.QueryResult{
		Readings: []types.Reading{
			{Timestamp: cacheWindowEnd, TopicID: 1, Value: "42"},
		},
	}
	cache.Put(req, result)

	cachedResult, ok := cache.Get(req)
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}

	if len(cachedResult.Readings) != 1 {
		t.Errorf("Expected 1 reading, got %d", len(cachedResult.Readings))
	}

	if cachedResult.Readings[0].Value != "42" {
		t.Errorf("Expected value 42, got %s", cachedResult.Readings[0].Value)
	}

	// Same topic over a different window is a different entry
	other := cacheRequest(1)
	other.EndTime = other.EndTime.Add(time.Millisecond)
	if _, ok := cache.Get(other); ok {
		t.Error("Expected miss for a different window")
	}
}

func TestQueryCacheTTL(t *testing.T) {
	cache := NewQueryCache(100, 100*time.Millisecond)
	clock := cacheWindowEnd
	cache.now = func() time.Time { return clock }

	req := cacheRequest(1)
	cache.Put(req, &types.QueryResult{})

	if _, ok := cache.Get(req); !ok {
		t.Error("Expected cache hit")
	}

	clock = clock.Add(150 * time.Millisecond)

	if stats := cache.Stats(); stats.Expired != 1 {
		t.Errorf("Expected 1 expired entry, got %d", stats.Expired)
	}

	if _, ok := cache.Get(req); ok {
		t.Error("Expected cache miss after TTL expiry")
	}
}

func TestQueryCacheLRUEviction(t *testing.T) {
	cache := NewQueryCache(3, 1*time.Minute)
	result := &types.QueryResult{}

	for i := 0; i < 4; i++ {
		cache.Put(cacheRequest(i), result)
	}

	if cache.Size() != 3 {
		t.Errorf("Expected cache size 3, got %d", cache.Size())
	}

	if _, ok := cache.Get(cacheRequest(0)); ok {
		t.Error("Expected topic 0 to be evicted")
	}

	if _, ok := cache.Get(cacheRequest(3)); !ok {
		t.Error("Expected topic 3 to be in cache")
	}
}

func TestCacheStats(t *testing.T) {
	cache := NewQueryCache(100, 1*time.Minute)

	stats := cache.Stats()
	if stats.Size != 0 {
		t.Errorf("Expected initial size 0, got %d", stats.Size)
	}

	for i := 0; i < 10; i++ {
		cache.Put(cacheRequest(i), &types.QueryResult{})
	}

	stats = cache.Stats()
	if stats.Size != 10 {
		t.Errorf("Expected size 10, got %d", stats.Size)
	}

	if stats.Capacity != 100 {
		t.Errorf("Expected capacity 100, got %d", stats.Capacity)
	}
}

func TestCachedStorage(t *testing.T) {
	store := NewCachedStorage(newTestStorage(t, t.TempDir()), 10, time.Minute)
	defer store.Close()

	ctx := context.Background()
	topic := types.Topic{TopicID: 1, TopicName: "pv/power"}

	write := func(value string, at time.Time) {
		t.Helper()
		req := &types.WriteRequest{Topic: topic, Readings: []types.Reading{{Timestamp: at, Value: value}}}
		if err := store.Write(ctx, req); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}

	write("1", cacheWindowEnd.Add(-30*time.Minute))

	req := cacheRequest(1)
	for i := 0; i < 2; i++ {
		result, err := store.Query(ctx, req)
		if err != nil {
			t.Fatalf("Failed to query: %v", err)
		}
		if len(result.Readings) != 1 {
			t.Fatalf("Expected 1 reading, got %d", len(result.Readings))
		}
	}

	stats := store.CacheStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d hits and %d misses", stats.Hits, stats.Misses)
	}
	if rate := stats.HitRate(); rate != 50.0 {
		t.Errorf("Expected 50%% hit rate, got %f", rate)
	}

	// A write must invalidate the cached result
	write("2", cacheWindowEnd.Add(-10*time.Minute))

	result, err := store.Query(ctx, req)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(result.Readings) != 2 {
		t.Errorf("Expected 2 readings after write, got %d", len(result.Readings))
	}
}

func TestQueryCacheInvalidate(t *testing.T) {
	cache := NewQueryCache(10, time.Minute)
	for _, id := range []int{1, 2} {
		cache.Put(cacheRequest(id), &types.QueryResult{})
	}
	narrow := cacheRequest(1)
	narrow.StartTime = narrow.EndTime.Add(-time.Minute)
	cache.Put(narrow, &types.QueryResult{})

	cache.Invalidate(1)

	if cache.Size() != 1 {
		t.Errorf("Expected only topic 2 to remain, got size %d", cache.Size())
	}
	if _, ok := cache.Get(cacheRequest(2)); !ok {
		t.Error("Expected topic 2 to survive invalidation of topic 1")
	}
}

func TestQueryCacheDisabled(t *testing.T) {
	cache := NewQueryCache(0, time.Minute)
	cache.Put(cacheRequest(1), &types.QueryResult{})

	if _, ok := cache.Get(cacheRequest(1)); ok {
		t.Error("Expected a zero capacity cache to store nothing")
	}
}

func TestCachedStorageKeepsOtherTopics(t *testing.T) {
	store := NewCachedStorage(newTestStorage(t, t.TempDir()), 10, time.Minute)
	defer store.Close()

	ctx := context.Background()
	for _, topic := range []types.Topic{{TopicID: 1, TopicName: "pv/power"}, {TopicID: 2, TopicName: "grid/export"}} {
		req := &types.WriteRequest{Topic: topic, Readings: []types.Reading{{Timestamp: cacheWindowEnd.Add(-time.Minute), Value: "1"}}}
		if err := store.Write(ctx, req); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}

	if _, err := store.Query(ctx, cacheRequest(1)); err != nil {
		t.Fatalf("Failed to query: %v", err)
	}

	req := &types.WriteRequest{
		Topic:    types.Topic{TopicID: 2},
		Readings: []types.Reading{{Timestamp: cacheWindowEnd.Add(-2 * time.Minute), Value: "2"}},
	}
	if err := store.Write(ctx, req); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	if _, err := store.Query(ctx, cacheRequest(1)); err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if stats := store.CacheStats(); stats.Hits != 1 {
		t.Errorf("Expected topic 1 to stay cached across a topic 2 write, got %d hits", stats.Hits)
	}
}
