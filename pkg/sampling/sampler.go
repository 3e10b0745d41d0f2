// Package sampling reduces a reading sequence to one representative reading
// per calendar bucket.
//
// The first reading of each bucket in chronological order is kept; readings
// sharing a timestamp keep their input order. There is no averaging or other
// aggregation. Sampling never mutates the caller's slice and never logs.
package sampling

import (
	"fmt"
	"slices"
	"time"

	"github.com/vjranagit/solarmon/pkg/types"
)

// Sampler downsamples readings. The zero value is not usable; use NewSampler.
type Sampler struct {
	loc *time.Location
}

// Option configures a Sampler
type Option func(*Sampler)

// WithLocation compares calendar fields in loc instead of UTC
func WithLocation(loc *time.Location) Option {
	return func(s *Sampler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewSampler creates a sampler that buckets in UTC unless configured otherwise
func NewSampler(opts ...Option) *Sampler {
	s := &Sampler{loc: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultSampler = NewSampler()

// Sample downsamples readings at granularity g using UTC buckets
func Sample(readings []types.Reading, g types.Granularity) ([]types.Reading, error) {
	return defaultSampler.Sample(readings, g)
}

// Sample sorts a copy of readings chronologically and keeps the first
// reading of every run that shares a bucket with its anchor.
// An empty input yields an empty output.
func (s *Sampler) Sample(readings []types.Reading, g types.Granularity) ([]types.Reading, error) {
	n, err := depth(g)
	if err != nil {
		return nil, err
	}

	for i, r := range readings {
		if !r.Valid() {
			return nil, fmt.Errorf("%w: reading %d of topic %d has no timestamp", ErrInvalidReading, i, r.TopicID)
		}
	}

	if len(readings) == 0 {
		return []types.Reading{}, nil
	}

	sorted := slices.Clone(readings)
	slices.SortStableFunc(sorted, func(a, b types.Reading) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	samples := make([]types.Reading, 0, len(sorted))
	samples = append(samples, sorted[0])
	anchor := sorted[0].Timestamp

	for _, r := range sorted[1:] {
		if s.sameBucket(r.Timestamp, anchor, n) {
			continue
		}
		samples = append(samples, r)
		anchor = r.Timestamp
	}

	return slices.Clip(samples), nil
}
