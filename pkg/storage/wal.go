package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vjranagit/solarmon/pkg/types"
)

const (
	walFlushInterval   = time.Second
	batchFlushInterval = 100 * time.Millisecond
)

// ErrWriterClosed is returned when writing to a closed BatchWriter
var ErrWriterClosed = errors.New("batch writer closed")

// WAL implements a Write-Ahead Log for ingested readings
type WAL struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// WALEntry represents a single WAL entry
type WALEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Topic     types.Topic     `json:"topic"`
	Readings  []types.Reading `json:"readings"`
}

// NewWAL creates a new Write-Ahead Log
func NewWAL(dataPath string) (*WAL, error) {
	walPath := filepath.Join(dataPath, "wal")
	if err := os.MkdirAll(walPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filename := filepath.Join(walPath, fmt.Sprintf("wal-%d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	wal := &WAL{
		path:   walPath,
		file:   file,
		writer: bufio.NewWriter(file),
	}
	wal.flushTimer = time.AfterFunc(walFlushInterval, wal.autoFlush)

	return wal, nil
}

// Append appends a write request to the WAL
func (w *WAL) Append(req *types.WriteRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(WALEntry{
		Timestamp: time.Now(),
		Topic:     req.Topic,
		Readings:  req.Readings,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// Flush flushes the WAL to disk
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if w.closed {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Truncate discards all entries once they are durable in storage
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.writer.Reset(w.file)
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	return w.file.Sync()
}

// autoFlush periodically flushes the WAL
func (w *WAL) autoFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	_ = w.flushLocked()
	w.flushTimer.Reset(walFlushInterval)
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	if w.flushTimer != nil {
		w.flushTimer.Stop()
	}

	if err := w.flushLocked(); err != nil {
		return err
	}

	w.closed = true
	return w.file.Close()
}

// ReplayWAL replays WAL entries for recovery, oldest file first, and removes
// every file it replayed
func ReplayWAL(dataPath string, handler func(*types.WriteRequest) error) error {
	walPath := filepath.Join(dataPath, "wal")

	entries, err := os.ReadDir(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read WAL directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := filepath.Join(walPath, entry.Name())
		if err := replayWALFile(filename, handler); err != nil {
			return fmt.Errorf("failed to replay %s: %w", filename, err)
		}

		if err := os.Remove(filename); err != nil {
			return fmt.Errorf("failed to remove replayed WAL %s: %w", filename, err)
		}
	}

	return nil
}

// replayWALFile replays a single WAL file
func replayWALFile(filename string, handler func(*types.WriteRequest) error) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var entry WALEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return fmt.Errorf("failed to unmarshal WAL entry: %w", err)
		}

		req := &types.WriteRequest{
			Topic:    entry.Topic,
			Readings: entry.Readings,
		}
		if err := handler(req); err != nil {
			return fmt.Errorf("failed to replay entry: %w", err)
		}
	}

	return scanner.Err()
}

// BatchWriter buffers writes for batch processing
type BatchWriter struct {
	storage    Storage
	wal        *WAL
	buffer     []*types.WriteRequest
	bufferSize int
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
	onError    func(error)
}

// NewBatchWriter creates a new batch writer. wal may be nil.
// onError receives flush failures that no caller sees, including dropped
// batches, and may be nil.
func NewBatchWriter(storage Storage, wal *WAL, bufferSize int, onError func(error)) *BatchWriter {
	if bufferSize < 1 {
		bufferSize = 1
	}

	bw := &BatchWriter{
		storage:    storage,
		wal:        wal,
		buffer:     make([]*types.WriteRequest, 0, bufferSize),
		bufferSize: bufferSize,
		onError:    onError,
	}
	bw.flushTimer = time.AfterFunc(batchFlushInterval, bw.autoFlush)

	return bw
}

// Write validates req against the storage and queues it. Once queued the
// request is durable in the WAL, so a failed threshold flush is reported
// through onError and the request stays buffered for the next flush.
func (bw *BatchWriter) Write(ctx context.Context, req *types.WriteRequest) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return ErrWriterClosed
	}

	if err := bw.validateLocked(req); err != nil {
		return err
	}

	if bw.wal != nil {
		if err := bw.wal.Append(req); err != nil {
			return fmt.Errorf("WAL append failed: %w", err)
		}
	}

	bw.buffer = append(bw.buffer, req)

	if len(bw.buffer) >= bw.bufferSize {
		if err := bw.flushLocked(ctx); err != nil {
			bw.report(err)
		}
	}

	return nil
}

// validateLocked rejects requests the storage would refuse on every flush.
// A topic named by a request still in the buffer counts as registered.
func (bw *BatchWriter) validateLocked(req *types.WriteRequest) error {
	if req.Topic.TopicName == "" {
		for _, queued := range bw.buffer {
			if queued.Topic.TopicID == req.Topic.TopicID && queued.Topic.TopicName != "" {
				return normalizeWrite(req)
			}
		}
	}
	return bw.storage.Validate(req)
}

// Flush flushes the buffer
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked(ctx)
}

// flushLocked writes the buffer as one batch per topic (must hold lock).
// Batches the storage can never accept are dropped and reported; batches
// that failed otherwise stay buffered, and the WAL is only truncated once
// nothing is left to retry.
func (bw *BatchWriter) flushLocked(ctx context.Context) error {
	if len(bw.buffer) == 0 {
		return nil
	}

	// Merge requests per topic while keeping arrival order
	var (
		batches []*types.WriteRequest
		byTopic = make(map[int]*types.WriteRequest)
	)
	for _, req := range bw.buffer {
		batch, ok := byTopic[req.Topic.TopicID]
		if !ok {
			batch = &types.WriteRequest{Topic: req.Topic}
			byTopic[req.Topic.TopicID] = batch
			batches = append(batches, batch)
		}
		if req.Topic.TopicName != "" {
			batch.Topic.TopicName = req.Topic.TopicName
		}
		batch.Readings = append(batch.Readings, req.Readings...)
	}

	var (
		retry []*types.WriteRequest
		errs  error
	)
	for _, batch := range batches {
		err := bw.storage.Write(ctx, batch)
		switch {
		case err == nil:
		case IsPermanent(err):
			bw.report(fmt.Errorf("dropped %d readings of topic %d: %w",
				len(batch.Readings), batch.Topic.TopicID, err))
		default:
			retry = append(retry, batch)
			errs = errors.Join(errs, err)
		}
	}

	bw.buffer = append(bw.buffer[:0:0], retry...)
	if errs != nil {
		return fmt.Errorf("batch write failed: %w", errs)
	}

	if bw.wal != nil {
		if err := bw.wal.Truncate(); err != nil {
			return err
		}
	}

	return nil
}

func (bw *BatchWriter) report(err error) {
	if bw.onError != nil {
		bw.onError(err)
	}
}

// autoFlush periodically flushes the buffer
func (bw *BatchWriter) autoFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return
	}
	if err := bw.flushLocked(context.Background()); err != nil {
		bw.report(err)
	}
	bw.flushTimer.Reset(batchFlushInterval)
}

// Close stops the flush timer and flushes what is left
func (bw *BatchWriter) Close(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return nil
	}
	bw.closed = true

	if bw.flushTimer != nil {
		bw.flushTimer.Stop()
	}

	return bw.flushLocked(ctx)
}
