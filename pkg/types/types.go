package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

var (
	// ErrInvalidGranularity is returned for a granularity outside the supported levels
	ErrInvalidGranularity = errors.New("invalid granularity")

	// ErrInvalidReading is returned for a reading whose timestamp cannot be compared
	ErrInvalidReading = errors.New("invalid reading")
)

// Granularity is the time resolution at which readings collapse into one sample
type Granularity string

// Supported granularities, coarsest first
const (
	Year        Granularity = "year"
	Month       Granularity = "month"
	Date        Granularity = "date"
	Hour        Granularity = "hour"
	Minute      Granularity = "minute"
	Second      Granularity = "second"
	Millisecond Granularity = "millisecond"
)

// DefaultGranularity is the level selected before the user picks one
const DefaultGranularity = Hour

var granularities = []Granularity{Year, Month, Date, Hour, Minute, Second, Millisecond}

// Granularities returns the supported levels, coarsest first
func Granularities() []Granularity {
	return append([]Granularity(nil), granularities...)
}

// Rank returns the position of g in the coarsest-first ordering, or -1
func (g Granularity) Rank() int {
	for i, known := range granularities {
		if g == known {
			return i
		}
	}
	return -1
}

// Valid reports whether g is one of the supported levels
func (g Granularity) Valid() bool {
	return g.Rank() >= 0
}

func (g Granularity) String() string {
	return string(g)
}

// ParseGranularity parses a granularity name, ignoring case and surrounding space
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, s)
	}
	return g, nil
}

// Topic is a named telemetry channel
type Topic struct {
	TopicID   int    `json:"topic_id"`
	TopicName string `json:"topic_name"`
}

// Reading is one timestamped measurement for a topic.
// Value is kept as the raw string payload.
type Reading struct {
	Timestamp time.Time
	TopicID   int
	Value     string
}

// Valid reports whether the reading carries a usable timestamp
func (r Reading) Valid() bool {
	return !r.Timestamp.IsZero()
}

// wireReading is the API representation of a reading
type wireReading struct {
	TS          json.RawMessage `json:"ts"`
	TopicID     int             `json:"topic_id"`
	ValueString string          `json:"value_string"`
}

// MarshalJSON encodes the reading with an RFC 3339 timestamp
func (r Reading) MarshalJSON() ([]byte, error) {
	ts, err := json.Marshal(r.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireReading{
		TS:          ts,
		TopicID:     r.TopicID,
		ValueString: r.Value,
	})
}

// UnmarshalJSON decodes a reading whose ts is either an ISO 8601 string
// or epoch milliseconds
func (r *Reading) UnmarshalJSON(data []byte) error {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ts, err := ParseTimestamp(w.TS)
	if err != nil {
		return err
	}

	*r = Reading{
		Timestamp: ts,
		TopicID:   w.TopicID,
		Value:     w.ValueString,
	}
	return nil
}

// ParseTimestamp parses a JSON timestamp value into UTC
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidReading, err)
		}
		return ParseTimestampString(s)
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %s is neither a string nor epoch milliseconds", ErrInvalidReading, raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// ParseTimestampString parses an ISO 8601 timestamp into UTC
func ParseTimestampString(s string) (time.Time, error) {
	ts, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", ErrInvalidReading, s, err)
	}
	if ts.IsZero() {
		return time.Time{}, fmt.Errorf("%w: zero timestamp %q", ErrInvalidReading, s)
	}
	return ts.UTC(), nil
}

// QueryParameters describes one chart fetch
type QueryParameters struct {
	TopicID        int
	StartTimestamp time.Time
	EndTimestamp   time.Time
	Granularity    Granularity
}

// WriteRequest represents a write request to the storage engine
type WriteRequest struct {
	Topic    Topic     `json:"topic"`
	Readings []Reading `json:"readings"`
}

// QueryRequest represents a raw reading range query
type QueryRequest struct {
	TopicID   int
	StartTime time.Time
	EndTime   time.Time
}

// QueryResult represents query results
type QueryResult struct {
	Readings []Reading
}
