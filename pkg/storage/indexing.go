package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vjranagit/solarmon/pkg/types"
)

// Index tracks known topics and the time span of their stored readings
type Index struct {
	mu     sync.RWMutex
	topics map[int]*topicMetadata
}

// topicMetadata holds metadata about a single topic.
// MinTime and MaxTime are epoch milliseconds and only meaningful when HasData is set.
type topicMetadata struct {
	Topic   types.Topic `json:"topic"`
	MinTime int64       `json:"min_time"`
	MaxTime int64       `json:"max_time"`
	HasData bool        `json:"has_data"`
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		topics: make(map[int]*topicMetadata),
	}
}

// AddTopic registers a topic, renaming it if it already exists with another name.
// It reports whether the stored metadata changed.
func (idx *Index) AddTopic(topic types.Topic) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	meta, exists := idx.topics[topic.TopicID]
	if exists {
		if topic.TopicName == "" || topic.TopicName == meta.Topic.TopicName {
			return false, nil
		}
		meta.Topic.TopicName = topic.TopicName
		return true, nil
	}

	if topic.TopicName == "" {
		return false, fmt.Errorf("%w: topic %d", ErrUnnamedTopic, topic.TopicID)
	}

	idx.topics[topic.TopicID] = &topicMetadata{Topic: topic}
	return true, nil
}

// load restores previously persisted metadata
func (idx *Index) load(meta *topicMetadata) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.topics[meta.Topic.TopicID] = meta
}

// GetTopic retrieves topic metadata by ID
func (idx *Index) GetTopic(id int) (topicMetadata, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	meta, ok := idx.topics[id]
	if !ok {
		return topicMetadata{}, false
	}
	return *meta, true
}

// Topics returns all topics ordered by id
func (idx *Index) Topics() []types.Topic {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := make([]types.Topic, 0, len(idx.topics))
	for _, meta := range idx.topics {
		result = append(result, meta.Topic)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TopicID < result[j].TopicID })
	return result
}

// UpdateTimeRange widens the time range of a topic
func (idx *Index) UpdateTimeRange(id int, minTime, maxTime int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	meta, ok := idx.topics[id]
	if !ok {
		return fmt.Errorf("topic %d not found", id)
	}

	if !meta.HasData || minTime < meta.MinTime {
		meta.MinTime = minTime
	}
	if !meta.HasData || maxTime > meta.MaxTime {
		meta.MaxTime = maxTime
	}
	meta.HasData = true

	return nil
}

// Bounds returns the earliest and latest reading time across all topics
func (idx *Index) Bounds() (earliest, latest time.Time, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var minTime, maxTime int64
	for _, meta := range idx.topics {
		if !meta.HasData {
			continue
		}
		if !ok || meta.MinTime < minTime {
			minTime = meta.MinTime
		}
		if !ok || meta.MaxTime > maxTime {
			maxTime = meta.MaxTime
		}
		ok = true
	}

	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return time.UnixMilli(minTime).UTC(), time.UnixMilli(maxTime).UTC(), true
}

// TopicCount returns the number of indexed topics
func (idx *Index) TopicCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.topics)
}

// Serialize encodes the metadata of one topic for persistence
func (idx *Index) Serialize(id int) ([]byte, error) {
	meta, ok := idx.GetTopic(id)
	if !ok {
		return nil, fmt.Errorf("topic %d not found", id)
	}
	return json.Marshal(meta)
}

// deserializeTopic decodes persisted topic metadata
func deserializeTopic(data []byte) (*topicMetadata, error) {
	var meta topicMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topic metadata: %w", err)
	}
	return &meta, nil
}

// Clear clears the index
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.topics = make(map[int]*topicMetadata)
}
