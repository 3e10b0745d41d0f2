// Package query builds and validates the parameters of a chart fetch.
//
// Validation failures are terminal for the submission that produced them and
// are returned to the caller unchanged; nothing here corrects a bad query.
package query

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/sosodev/duration"
	"github.com/vjranagit/solarmon/pkg/types"
)

var (
	// ErrInvalidRange is returned when the start timestamp is after the end timestamp
	ErrInvalidRange = errors.New("invalid range")

	// ErrUnknownTopic is returned when the topic id does not match a loaded topic
	ErrUnknownTopic = errors.New("unknown topic")
)

// Query string keys understood by the data API
const (
	ParamTopicID       = "topic_id"
	ParamStartDateTime = "start_date_time"
	ParamEndDateTime   = "end_date_time"
)

// TimestampLayout is the wire layout of start and end timestamps
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// New builds validated parameters from raw selections
func New(topicID int, start, end time.Time, granularity string) (types.QueryParameters, error) {
	g, err := types.ParseGranularity(granularity)
	if err != nil {
		return types.QueryParameters{}, err
	}

	p := types.QueryParameters{
		TopicID:        topicID,
		StartTimestamp: start,
		EndTimestamp:   end,
		Granularity:    g,
	}
	if err := Validate(p); err != nil {
		return types.QueryParameters{}, err
	}
	return p, nil
}

// Validate checks the range and granularity of p.
// The topic id must reference a previously fetched topic; use ValidateTopic
// when the loaded topic set is at hand.
func Validate(p types.QueryParameters) error {
	if p.StartTimestamp.IsZero() || p.EndTimestamp.IsZero() {
		return fmt.Errorf("%w: start and end timestamps are required", ErrInvalidRange)
	}
	if p.StartTimestamp.After(p.EndTimestamp) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange,
			p.StartTimestamp.Format(time.RFC3339), p.EndTimestamp.Format(time.RFC3339))
	}
	if !p.Granularity.Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidGranularity, string(p.Granularity))
	}
	return nil
}

// ValidateTopic checks that p.TopicID is one of topics
func ValidateTopic(p types.QueryParameters, topics []types.Topic) error {
	if _, ok := FindTopic(topics, p.TopicID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTopic, p.TopicID)
	}
	return nil
}

// FindTopic returns the topic with the given id
func FindTopic(topics []types.Topic, topicID int) (types.Topic, bool) {
	for _, t := range topics {
		if t.TopicID == topicID {
			return t, true
		}
	}
	return types.Topic{}, false
}

// Values encodes p as the query string of a raw reading fetch
func Values(p types.QueryParameters) url.Values {
	v := url.Values{}
	v.Set(ParamTopicID, strconv.Itoa(p.TopicID))
	v.Set(ParamStartDateTime, p.StartTimestamp.UTC().Format(TimestampLayout))
	v.Set(ParamEndDateTime, p.EndTimestamp.UTC().Format(TimestampLayout))
	return v
}

// Last returns the start of a window of the given ISO 8601 duration ending at end.
// Years and months must be whole; a fractional day count moves the start by
// that fraction of 24 hours past the whole calendar days.
func Last(end time.Time, window string) (time.Time, error) {
	d, err := duration.Parse(window)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid window %q: %w", window, err)
	}
	if d.Negative {
		return time.Time{}, fmt.Errorf("%w: window %q is negative", ErrInvalidRange, window)
	}
	if d.Years != math.Trunc(d.Years) || d.Months != math.Trunc(d.Months) {
		return time.Time{}, fmt.Errorf("%w: window %q has fractional years or months", ErrInvalidRange, window)
	}

	days, dayFraction := math.Modf(d.Weeks*7 + d.Days)
	return end.AddDate(-int(d.Years), -int(d.Months), -int(days)).
		Add(-time.Duration(dayFraction * float64(24*time.Hour))).
		Add(-time.Duration(d.Hours * float64(time.Hour))).
		Add(-time.Duration(d.Minutes * float64(time.Minute))).
		Add(-time.Duration(d.Seconds * float64(time.Second))), nil
}
