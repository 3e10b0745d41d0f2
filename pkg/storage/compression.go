package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor encodes reading blocks: timestamps as delta-of-delta varints and
// values as length-prefixed strings, each stream zstd-compressed
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor for levels 1 (fastest) to 4 (best)
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// CompressTimestamps compresses epoch-millisecond timestamps.
// Order is preserved as given; unsorted input only costs ratio.
func (c *Compressor) CompressTimestamps(timestamps []int64) ([]byte, error) {
	if len(timestamps) == 0 {
		return nil, nil
	}

	buf := make([]byte, 0, len(timestamps)*2+binary.MaxVarintLen64)
	buf = binary.AppendVarint(buf, timestamps[0])

	var prevDelta int64
	for i := 1; i < len(timestamps); i++ {
		delta := timestamps[i] - timestamps[i-1]
		buf = binary.AppendVarint(buf, delta-prevDelta)
		prevDelta = delta
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf))), nil
}

// DecompressTimestamps decompresses count timestamps
func (c *Compressor) DecompressTimestamps(data []byte, count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	timestamps := make([]int64, count)
	var prevDelta int64
	for i := 0; i < count; i++ {
		v, n := binary.Varint(raw)
		if n <= 0 {
			return nil, fmt.Errorf("corrupt timestamp stream at %d", i)
		}
		raw = raw[n:]

		if i == 0 {
			timestamps[0] = v
			continue
		}
		delta := v + prevDelta
		timestamps[i] = timestamps[i-1] + delta
		prevDelta = delta
	}

	return timestamps, nil
}

// CompressValues compresses raw string values
func (c *Compressor) CompressValues(values []string) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	size := 0
	for _, v := range values {
		size += len(v) + 1
	}

	buf := make([]byte, 0, size)
	for _, v := range values {
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		buf = append(buf, v...)
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf))), nil
}

// DecompressValues decompresses count string values
func (c *Compressor) DecompressValues(data []byte, count int) ([]string, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	values := make([]string, count)
	for i := 0; i < count; i++ {
		l, n := binary.Uvarint(raw)
		if n <= 0 || uint64(len(raw)-n) < l {
			return nil, fmt.Errorf("corrupt value stream at %d", i)
		}
		values[i] = string(raw[n : n+int(l)])
		raw = raw[n+int(l):]
	}

	return values, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
