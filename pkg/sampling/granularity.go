package sampling

import (
	"fmt"
	"time"

	"github.com/vjranagit/solarmon/pkg/types"
)

var (
	// ErrInvalidGranularity is returned for a level outside the supported set
	ErrInvalidGranularity = types.ErrInvalidGranularity

	// ErrInvalidReading is returned when a reading's timestamp cannot be compared
	ErrInvalidReading = types.ErrInvalidReading
)

// field extracts one calendar component from a timestamp
type field func(t time.Time) int

// bucketFields is ordered coarsest first. A level compares every field up
// to and including its own position.
var bucketFields = []field{
	func(t time.Time) int { return t.Year() },
	func(t time.Time) int { return int(t.Month()) },
	func(t time.Time) int { return t.Day() },
	func(t time.Time) int { return t.Hour() },
	func(t time.Time) int { return t.Minute() },
	func(t time.Time) int { return t.Second() },
	func(t time.Time) int { return t.Nanosecond() / int(time.Millisecond) },
}

// depth returns how many fields the level compares
func depth(g types.Granularity) (int, error) {
	rank := g.Rank()
	if rank < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGranularity, string(g))
	}
	return rank + 1, nil
}

// SameBucket reports whether t1 and t2 agree on every UTC calendar field at
// level g and coarser
func SameBucket(t1, t2 time.Time, g types.Granularity) (bool, error) {
	return defaultSampler.SameBucket(t1, t2, g)
}

// SameBucket reports whether t1 and t2 agree on every calendar field at level g
// and coarser, compared in the sampler's location
func (s *Sampler) SameBucket(t1, t2 time.Time, g types.Granularity) (bool, error) {
	n, err := depth(g)
	if err != nil {
		return false, err
	}
	return s.sameBucket(t1, t2, n), nil
}

func (s *Sampler) sameBucket(t1, t2 time.Time, n int) bool {
	a, b := t1.In(s.loc), t2.In(s.loc)
	for _, f := range bucketFields[:n] {
		if f(a) != f(b) {
			return false
		}
	}
	return true
}
