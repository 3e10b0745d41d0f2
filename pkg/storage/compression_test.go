package storage

import (
	"fmt"
	"math"
	"strconv"
	"testing"
	"time"
)

func TestCompressTimestamps(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// Meter readings every 5 seconds with a little jitter
	now := time.Now().UnixMilli()
	timestamps := make([]int64, 200)
	for i := range timestamps {
		timestamps[i] = now + int64(i*5000) + int64(i%3)
	}

	compressed, err := comp.CompressTimestamps(timestamps)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	originalSize := len(timestamps) * 8
	if len(compressed) >= originalSize {
		t.Errorf("Compression ineffective: original=%d, compressed=%d",
			originalSize, len(compressed))
	}

	decompressed, err := comp.DecompressTimestamps(compressed, len(timestamps))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	if len(decompressed) != len(timestamps) {
		t.Fatalf("Length mismatch: expected %d, got %d",
			len(timestamps), len(decompressed))
	}

	for i := range timestamps {
		if timestamps[i] != decompressed[i] {
			t.Errorf("Timestamp mismatch at %d: expected %d, got %d",
				i, timestamps[i], decompressed[i])
		}
	}
}

func TestCompressTimestampsUnordered(t *testing.T) {
	comp, err := NewCompressor(1)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	timestamps := []int64{1_700_000_005_000, 1_700_000_000_000, 1_700_000_000_000, 1_700_000_009_999, 0}

	compressed, err := comp.CompressTimestamps(timestamps)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	decompressed, err := comp.DecompressTimestamps(compressed, len(timestamps))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	for i := range timestamps {
		if timestamps[i] != decompressed[i] {
			t.Errorf("Timestamp mismatch at %d: expected %d, got %d",
				i, timestamps[i], decompressed[i])
		}
	}
}

func TestCompressValues(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// String payloads as the meters report them, including empty values
	values := make([]string, 100)
	for i := range values {
		values[i] = strconv.FormatFloat(100+math.Sin(float64(i)*0.1)*10, 'f', 3, 64)
	}
	values[10] = ""
	values[11] = "ERR:overcurrent"

	compressed, err := comp.CompressValues(values)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	decompressed, err := comp.DecompressValues(compressed, len(values))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	if len(decompressed) != len(values) {
		t.Fatalf("Length mismatch: expected %d, got %d",
			len(values), len(decompressed))
	}

	for i := range values {
		if values[i] != decompressed[i] {
			t.Errorf("Value mismatch at %d: expected %q, got %q",
				i, values[i], decompressed[i])
		}
	}
}

func TestDecompressValuesCorrupt(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	compressed, err := comp.CompressValues([]string{"1", "2"})
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	if _, err := comp.DecompressValues(compressed, 3); err == nil {
		t.Error("Expected error when asking for more values than stored")
	}
}

func TestCompressionLevels(t *testing.T) {
	testCases := []struct {
		level       int
		description string
	}{
		{1, "fastest"},
		{2, "default"},
		{3, "better"},
		{4, "best"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			comp, err := NewCompressor(tc.level)
			if err != nil {
				t.Fatalf("Failed to create compressor at level %d: %v",
					tc.level, err)
			}
			defer comp.Close()

			values := []string{"1.0", "2.0", "3.0", "4.0", "5.0"}
			compressed, err := comp.CompressValues(values)
			if err != nil {
				t.Fatalf("Compression failed: %v", err)
			}

			decompressed, err := comp.DecompressValues(compressed, len(values))
			if err != nil {
				t.Fatalf("Decompression failed: %v", err)
			}

			for i := range values {
				if values[i] != decompressed[i] {
					t.Errorf("Mismatch at index %d", i)
				}
			}
		})
	}
}

func BenchmarkCompressTimestamps(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	now := time.Now().UnixMilli()
	timestamps := make([]int64, 1000)
	for i := 0; i < 1000; i++ {
		timestamps[i] = now + int64(i*1000)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = comp.CompressTimestamps(timestamps)
	}
}

func BenchmarkCompressValues(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	values := make([]string, 1000)
	for i := 0; i < 1000; i++ {
		values[i] = fmt.Sprintf("%.2f", 100.0+math.Sin(float64(i)*0.1)*10)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = comp.CompressValues(values)
	}
}
