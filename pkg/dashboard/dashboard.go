// Package dashboard composes one chart view: validate the selection, fetch
// raw readings, sample them and hand the series to a render sink.
//
// All view state lives in a Session owned by the caller.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vjranagit/solarmon/internal/logging"
	"github.com/vjranagit/solarmon/pkg/query"
	"github.com/vjranagit/solarmon/pkg/render"
	"github.com/vjranagit/solarmon/pkg/sampling"
	"github.com/vjranagit/solarmon/pkg/types"
)

// Fetcher retrieves topics, data bounds and raw readings
type Fetcher interface {
	Topics(ctx context.Context) ([]types.Topic, error)
	EarliestTimestamp(ctx context.Context) (time.Time, error)
	LatestTimestamp(ctx context.Context) (time.Time, error)
	Readings(ctx context.Context, p types.QueryParameters) ([]types.Reading, error)
}

// Session is the state of one dashboard view
type Session struct {
	Topics   []types.Topic
	Earliest time.Time
	Latest   time.Time

	// Selection is the last accepted chart selection
	Selection types.QueryParameters
}

// Topic returns the loaded topic with the given id
func (s *Session) Topic(topicID int) (types.Topic, bool) {
	return query.FindTopic(s.Topics, topicID)
}

// Dashboard runs chart requests against a fetcher and a sink
type Dashboard struct {
	fetcher Fetcher
	sink    render.Sink
	sampler *sampling.Sampler
	log     *slog.Logger
}

// Option configures a Dashboard
type Option func(*Dashboard)

// WithSampler replaces the default UTC sampler
func WithSampler(s *sampling.Sampler) Option {
	return func(d *Dashboard) {
		d.sampler = s
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) Option {
	return func(d *Dashboard) {
		d.log = log
	}
}

// New creates a dashboard
func New(fetcher Fetcher, sink render.Sink, opts ...Option) *Dashboard {
	d := &Dashboard{
		fetcher: fetcher,
		sink:    sink,
		sampler: sampling.NewSampler(),
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load fetches the topics and data bounds and selects the first topic over
// the whole stored range at the default granularity
func (d *Dashboard) Load(ctx context.Context) (*Session, error) {
	topics, err := d.fetcher.Topics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch topics: %w", err)
	}

	earliest, err := d.fetcher.EarliestTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch earliest timestamp: %w", err)
	}

	latest, err := d.fetcher.LatestTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest timestamp: %w", err)
	}

	s := &Session{
		Topics:   topics,
		Earliest: earliest,
		Latest:   latest,
		Selection: types.QueryParameters{
			StartTimestamp: earliest,
			EndTimestamp:   latest,
			Granularity:    types.DefaultGranularity,
		},
	}
	if len(topics) > 0 {
		s.Selection.TopicID = topics[0].TopicID
	}

	d.log.DebugContext(ctx, "dashboard loaded",
		slog.Int("topics", len(topics)),
		slog.Time("earliest", earliest),
		slog.Time("latest", latest))

	return s, nil
}

// Chart validates p against the session, fetches and samples the selected
// readings and renders them labelled with the topic name. Validation errors
// are returned before anything is fetched. On success p becomes the
// session's selection.
func (d *Dashboard) Chart(ctx context.Context, s *Session, p types.QueryParameters) (render.Chart, error) {
	if err := query.Validate(p); err != nil {
		return render.Chart{}, err
	}
	if err := query.ValidateTopic(p, s.Topics); err != nil {
		return render.Chart{}, err
	}
	topic, _ := s.Topic(p.TopicID)

	readings, err := d.fetcher.Readings(ctx, p)
	if err != nil {
		return render.Chart{}, fmt.Errorf("failed to fetch readings: %w", err)
	}

	samples, err := d.sampler.Sample(readings, p.Granularity)
	if err != nil {
		return render.Chart{}, err
	}

	d.log.InfoContext(ctx, "sampled readings",
		slog.String("topic", topic.TopicName),
		slog.String("granularity", p.Granularity.String()),
		slog.Int("readings", len(readings)),
		slog.Int("samples", len(samples)))

	chart := render.Chart{
		Label:       topic.TopicName,
		Granularity: p.Granularity,
		Readings:    samples,
	}
	if err := d.sink.Render(ctx, chart); err != nil {
		return render.Chart{}, fmt.Errorf("failed to render chart: %w", err)
	}

	s.Selection = p
	return chart, nil
}
