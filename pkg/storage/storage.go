// Package storage is the reference store behind the data API: raw readings
// in hour blocks on badger, a topic index, a range query cache and a
// write-ahead log feeding a batch writer.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vjranagit/solarmon/pkg/types"
)

var (
	// ErrNoData is returned when no readings have been stored yet
	ErrNoData = errors.New("no data")

	// ErrTopicNotFound is returned when querying a topic that was never written
	ErrTopicNotFound = errors.New("topic not found")

	// ErrUnnamedTopic is returned when writing to an unregistered topic without a name
	ErrUnnamedTopic = errors.New("unregistered topic has no name")
)

// IsPermanent reports whether a write error will recur on every retry of the
// same request
func IsPermanent(err error) bool {
	return errors.Is(err, types.ErrInvalidReading) || errors.Is(err, ErrUnnamedTopic)
}

// Storage interface defines the contract for raw reading storage
type Storage interface {
	// Write stores readings for one topic, registering the topic if needed
	Write(ctx context.Context, req *types.WriteRequest) error

	// Validate reports whether Write would accept req. It fills reading topic
	// ids from the request topic.
	Validate(req *types.WriteRequest) error

	// Query returns the raw readings of a topic within [StartTime, EndTime]
	Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error)

	// Topics returns all known topics ordered by id
	Topics(ctx context.Context) ([]types.Topic, error)

	// Bounds returns the earliest and latest stored reading times
	Bounds(ctx context.Context) (earliest, latest time.Time, err error)

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	CompressionLevel int
	CacheCapacity    int
	CacheTTL         time.Duration
	EnableWAL        bool
	BatchSize        int
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		CompressionLevel: 3,
		CacheCapacity:    256,
		CacheTTL:         time.Minute,
		EnableWAL:        true,
		BatchSize:        64,
	}
}

// Key prefixes. Blocks hold one hour of readings for one topic.
var (
	blockPrefix = []byte("b/")
	topicPrefix = []byte("t/")
)

const blockSpan = time.Hour

// badgerStorage implements Storage using BadgerDB
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	mu         sync.RWMutex
}

// NewStorage creates a new storage instance and loads the topic index
func NewStorage(cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &badgerStorage{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
	}

	if err := s.loadIndex(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// loadIndex rebuilds the in-memory topic index from persisted metadata
func (s *badgerStorage) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = topicPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				meta, err := deserializeTopic(val)
				if err != nil {
					return err
				}
				s.index.load(meta)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to load topic index: %w", err)
			}
		}
		return nil
	})
}

// Write implements Storage.Write
func (s *badgerStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	if err := s.Validate(req); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.index.AddTopic(req.Topic); err != nil {
		return fmt.Errorf("failed to index topic: %w", err)
	}

	blocks, order := groupReadingsByBlock(req.Readings)
	for _, blockTime := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.appendBlock(req.Topic.TopicID, blockTime, blocks[blockTime]); err != nil {
			return fmt.Errorf("failed to write block: %w", err)
		}
	}

	if len(req.Readings) > 0 {
		minTime, maxTime := timeRange(req.Readings)
		if err := s.index.UpdateTimeRange(req.Topic.TopicID, minTime, maxTime); err != nil {
			return err
		}
	}

	return s.persistTopic(req.Topic.TopicID)
}

// Validate implements Storage.Validate
func (s *badgerStorage) Validate(req *types.WriteRequest) error {
	if err := normalizeWrite(req); err != nil {
		return err
	}
	if req.Topic.TopicName == "" {
		if _, ok := s.index.GetTopic(req.Topic.TopicID); !ok {
			return fmt.Errorf("%w: topic %d", ErrUnnamedTopic, req.Topic.TopicID)
		}
	}
	return nil
}

// normalizeWrite fills reading topic ids and rejects unusable readings
func normalizeWrite(req *types.WriteRequest) error {
	for i := range req.Readings {
		r := &req.Readings[i]
		if r.TopicID == 0 {
			r.TopicID = req.Topic.TopicID
		}
		if r.TopicID != req.Topic.TopicID {
			return fmt.Errorf("%w: reading %d belongs to topic %d, not %d", types.ErrInvalidReading, i, r.TopicID, req.Topic.TopicID)
		}
		if !r.Valid() {
			return fmt.Errorf("%w: reading %d has no timestamp", types.ErrInvalidReading, i)
		}
	}
	return nil
}

// groupReadingsByBlock groups readings into hour blocks, keeping input order
// inside each block. order lists block times in first-seen order.
func groupReadingsByBlock(readings []types.Reading) (map[int64][]types.Reading, []int64) {
	blocks := make(map[int64][]types.Reading)
	var order []int64

	for _, r := range readings {
		blockTime := blockStart(r.Timestamp)
		if _, ok := blocks[blockTime]; !ok {
			order = append(order, blockTime)
		}
		blocks[blockTime] = append(blocks[blockTime], r)
	}

	return blocks, order
}

func blockStart(ts time.Time) int64 {
	return ts.UTC().Truncate(blockSpan).UnixMilli()
}

func timeRange(readings []types.Reading) (int64, int64) {
	minTime := readings[0].Timestamp.UnixMilli()
	maxTime := minTime
	for _, r := range readings[1:] {
		ms := r.Timestamp.UnixMilli()
		if ms < minTime {
			minTime = ms
		}
		if ms > maxTime {
			maxTime = ms
		}
	}
	return minTime, maxTime
}

// appendBlock merges readings into the stored block
func (s *badgerStorage) appendBlock(topicID int, blockTime int64, readings []types.Reading) error {
	key := blockKey(topicID, blockTime)

	return s.db.Update(func(txn *badger.Txn) error {
		var existing []types.Reading

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				existing, err = s.decodeBlock(topicID, val)
				return err
			})
			if err != nil {
				return err
			}
		}

		payload, err := s.encodeBlock(append(existing, readings...))
		if err != nil {
			return err
		}
		return txn.Set(key, payload)
	})
}

type blockPayload struct {
	Count            int
	CompressedTS     []byte
	CompressedValues []byte
}

// encodeBlock compresses readings into a block payload
func (s *badgerStorage) encodeBlock(readings []types.Reading) ([]byte, error) {
	timestamps := make([]int64, len(readings))
	values := make([]string, len(readings))

	for i, r := range readings {
		timestamps[i] = r.Timestamp.UnixMilli()
		values[i] = r.Value
	}

	compressedTS, err := s.compressor.CompressTimestamps(timestamps)
	if err != nil {
		return nil, fmt.Errorf("failed to compress timestamps: %w", err)
	}

	compressedVals, err := s.compressor.CompressValues(values)
	if err != nil {
		return nil, fmt.Errorf("failed to compress values: %w", err)
	}

	payload, err := json.Marshal(&blockPayload{
		Count:            len(readings),
		CompressedTS:     compressedTS,
		CompressedValues: compressedVals,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return payload, nil
}

// decodeBlock decompresses a block payload
func (s *badgerStorage) decodeBlock(topicID int, data []byte) ([]types.Reading, error) {
	var payload blockPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	timestamps, err := s.compressor.DecompressTimestamps(payload.CompressedTS, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress timestamps: %w", err)
	}

	values, err := s.compressor.DecompressValues(payload.CompressedValues, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress values: %w", err)
	}

	readings := make([]types.Reading, payload.Count)
	for i := range readings {
		readings[i] = types.Reading{
			Timestamp: time.UnixMilli(timestamps[i]).UTC(),
			TopicID:   topicID,
			Value:     values[i],
		}
	}
	return readings, nil
}

// persistTopic writes topic metadata so the index survives restarts
func (s *badgerStorage) persistTopic(topicID int) error {
	data, err := s.index.Serialize(topicID)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(topicKey(topicID), data)
	})
}

// Query implements Storage.Query
func (s *badgerStorage) Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.index.GetTopic(req.TopicID); !ok {
		return nil, fmt.Errorf("%w: %d", ErrTopicNotFound, req.TopicID)
	}

	result := &types.QueryResult{Readings: []types.Reading{}}
	if req.StartTime.After(req.EndTime) {
		return result, nil
	}

	prefix := topicBlockPrefix(req.TopicID)
	endBlock := blockStart(req.EndTime)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(blockKey(req.TopicID, blockStart(req.StartTime))); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			if blockTimeFromKey(item.Key()) > endBlock {
				break
			}

			err := item.Value(func(val []byte) error {
				readings, err := s.decodeBlock(req.TopicID, val)
				if err != nil {
					return err
				}
				for _, r := range readings {
					if !r.Timestamp.Before(req.StartTime) && !r.Timestamp.After(req.EndTime) {
						result.Readings = append(result.Readings, r)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read blocks: %w", err)
	}

	return result, nil
}

// Topics implements Storage.Topics
func (s *badgerStorage) Topics(ctx context.Context) ([]types.Topic, error) {
	return s.index.Topics(), nil
}

// Bounds implements Storage.Bounds
func (s *badgerStorage) Bounds(ctx context.Context) (time.Time, time.Time, error) {
	earliest, latest, ok := s.index.Bounds()
	if !ok {
		return time.Time{}, time.Time{}, ErrNoData
	}
	return earliest, latest, nil
}

// Close implements Storage.Close
func (s *badgerStorage) Close() error {
	if s.compressor != nil {
		s.compressor.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// topicBlockPrefix returns the key prefix shared by all blocks of a topic
func topicBlockPrefix(topicID int) []byte {
	key := make([]byte, 0, len(blockPrefix)+8)
	key = append(key, blockPrefix...)
	return binary.BigEndian.AppendUint64(key, uint64(topicID))
}

// blockKey generates a storage key for a time block. The sign bit of the
// block time is flipped so that keys sort chronologically before 1970 too.
func blockKey(topicID int, blockTime int64) []byte {
	key := topicBlockPrefix(topicID)
	return binary.BigEndian.AppendUint64(key, uint64(blockTime)^(1<<63))
}

func blockTimeFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63))
}

func topicKey(topicID int) []byte {
	key := make([]byte, 0, len(topicPrefix)+8)
	key = append(key, topicPrefix...)
	return binary.BigEndian.AppendUint64(key, uint64(topicID))
}
