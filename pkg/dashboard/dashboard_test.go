package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vjranagit/solarmon/pkg/client"
	"github.com/vjranagit/solarmon/pkg/query"
	"github.com/vjranagit/solarmon/pkg/render"
	"github.com/vjranagit/solarmon/pkg/sampling"
	"github.com/vjranagit/solarmon/pkg/types"
)

var _ Fetcher = (*client.Client)(nil)

var base = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	topics   []types.Topic
	readings []types.Reading
	err      error
	fetched  []types.QueryParameters
}

func (f *fakeFetcher) Topics(context.Context) ([]types.Topic, error) {
	return f.topics, f.err
}

func (f *fakeFetcher) EarliestTimestamp(context.Context) (time.Time, error) {
	return base, f.err
}

func (f *fakeFetcher) LatestTimestamp(context.Context) (time.Time, error) {
	return base.Add(3 * time.Hour), f.err
}

func (f *fakeFetcher) Readings(_ context.Context, p types.QueryParameters) ([]types.Reading, error) {
	f.fetched = append(f.fetched, p)
	return f.readings, f.err
}

type recordingSink struct {
	charts []render.Chart
}

func (s *recordingSink) Render(_ context.Context, c render.Chart) error {
	s.charts = append(s.charts, c)
	return nil
}

func newFetcher() *fakeFetcher {
	return &fakeFetcher{
		topics: []types.Topic{
			{TopicID: 3, TopicName: "pv/power"},
			{TopicID: 5, TopicName: "grid/import"},
		},
		readings: []types.Reading{
			{Timestamp: base.Add(2*time.Hour + time.Minute), TopicID: 3, Value: "c"},
			{Timestamp: base, TopicID: 3, Value: "a"},
			{Timestamp: base.Add(30 * time.Minute), TopicID: 3, Value: "b"},
			{Timestamp: base.Add(time.Hour), TopicID: 3, Value: "d"},
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	d := New(newFetcher(), &recordingSink{})

	s, err := d.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Topics, 2)
	require.Equal(t, types.QueryParameters{
		TopicID:        3,
		StartTimestamp: base,
		EndTimestamp:   base.Add(3 * time.Hour),
		Granularity:    types.Hour,
	}, s.Selection)
}

func TestLoadWithoutTopics(t *testing.T) {
	s, err := New(&fakeFetcher{}, &recordingSink{}).Load(context.Background())
	require.NoError(t, err)
	require.Zero(t, s.Selection.TopicID)
}

func TestLoadFetchError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := New(&fakeFetcher{err: boom}, &recordingSink{}).Load(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestChart(t *testing.T) {
	fetcher := newFetcher()
	sink := &recordingSink{}
	d := New(fetcher, sink)

	s, err := d.Load(context.Background())
	require.NoError(t, err)

	chart, err := d.Chart(context.Background(), s, s.Selection)
	require.NoError(t, err)

	require.Equal(t, "pv/power", chart.Label)
	require.Equal(t, types.Hour, chart.Granularity)
	values := make([]string, 0, len(chart.Readings))
	for _, r := range chart.Readings {
		values = append(values, r.Value)
	}
	require.Equal(t, []string{"a", "d", "c"}, values)

	require.Len(t, sink.charts, 1)
	require.Equal(t, chart, sink.charts[0])
	require.Len(t, fetcher.fetched, 1)
}

func TestChartUpdatesSelection(t *testing.T) {
	d := New(newFetcher(), &recordingSink{})
	s, err := d.Load(context.Background())
	require.NoError(t, err)

	p := s.Selection
	p.TopicID = 5
	p.Granularity = types.Minute

	chart, err := d.Chart(context.Background(), s, p)
	require.NoError(t, err)
	require.Equal(t, "grid/import", chart.Label)
	require.Equal(t, p, s.Selection)
}

func TestChartRejectsBeforeFetching(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*types.QueryParameters)
		want   error
	}{
		{
			name:   "start after end",
			modify: func(p *types.QueryParameters) { p.StartTimestamp = p.EndTimestamp.Add(time.Second) },
			want:   query.ErrInvalidRange,
		},
		{
			name:   "unsupported granularity",
			modify: func(p *types.QueryParameters) { p.Granularity = "week" },
			want:   sampling.ErrInvalidGranularity,
		},
		{
			name:   "unknown topic",
			modify: func(p *types.QueryParameters) { p.TopicID = 42 },
			want:   query.ErrUnknownTopic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFetcher()
			sink := &recordingSink{}
			d := New(fetcher, sink)

			s, err := d.Load(context.Background())
			require.NoError(t, err)
			before := s.Selection

			p := s.Selection
			tt.modify(&p)

			_, err = d.Chart(context.Background(), s, p)
			require.ErrorIs(t, err, tt.want)
			require.Empty(t, fetcher.fetched)
			require.Empty(t, sink.charts)
			require.Equal(t, before, s.Selection)
		})
	}
}

func TestChartInvalidReading(t *testing.T) {
	fetcher := newFetcher()
	fetcher.readings = append(fetcher.readings, types.Reading{TopicID: 3, Value: "broken"})
	sink := &recordingSink{}
	d := New(fetcher, sink)

	s, err := d.Load(context.Background())
	require.NoError(t, err)

	_, err = d.Chart(context.Background(), s, s.Selection)
	require.ErrorIs(t, err, sampling.ErrInvalidReading)
	require.Empty(t, sink.charts)
}

func TestChartWithLocalCalendar(t *testing.T) {
	fetcher := newFetcher()
	fetcher.readings = []types.Reading{
		{Timestamp: time.Date(2023, 6, 1, 21, 0, 0, 0, time.UTC), TopicID: 3, Value: "late"},
		{Timestamp: time.Date(2023, 6, 1, 23, 0, 0, 0, time.UTC), TopicID: 3, Value: "later"},
	}
	berlin := time.FixedZone("CEST", 2*60*60)

	d := New(fetcher, &recordingSink{}, WithSampler(sampling.NewSampler(sampling.WithLocation(berlin))))
	s, err := d.Load(context.Background())
	require.NoError(t, err)

	p := s.Selection
	p.Granularity = types.Date

	chart, err := d.Chart(context.Background(), s, p)
	require.NoError(t, err)
	require.Len(t, chart.Readings, 2)
}
