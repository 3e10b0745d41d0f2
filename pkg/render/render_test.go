package render

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vjranagit/solarmon/pkg/types"
)

var base = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func testChart() Chart {
	return Chart{
		Label:       "pv/power",
		Granularity: types.Hour,
		Readings: []types.Reading{
			{Timestamp: base, TopicID: 1, Value: "10"},
			{Timestamp: base.Add(time.Hour + 250*time.Millisecond), TopicID: 1, Value: "12.5"},
		},
	}
}

func TestNew(t *testing.T) {
	for _, format := range Formats() {
		sink, err := New(strings.ToUpper(format), &bytes.Buffer{})
		require.NoError(t, err)
		require.NotNil(t, sink)
	}

	_, err := New("svg", &bytes.Buffer{})
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestTableSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTableSink(&buf).Render(context.Background(), testChart()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "pv/power (hour, 2 samples)", lines[0])
	require.Equal(t, []string{"TIME", "VALUE"}, strings.Fields(lines[1]))
	require.Contains(t, lines[2], "2023-06-01 12:00:00.000 UTC")
	require.True(t, strings.HasSuffix(lines[3], "12.5"))
	// values start in the same column
	require.Equal(t, strings.Index(lines[1], "VALUE"), strings.Index(lines[2], "10"))
}

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewCSVSink(&buf).Render(context.Background(), testChart()))

	require.Equal(t, "topic,timestamp,value\n"+
		"pv/power,2023-06-01T12:00:00.000Z,10\n"+
		"pv/power,2023-06-01T13:00:00.250Z,12.5\n", buf.String())
}

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONSink(&buf).Render(context.Background(), testChart()))

	var doc struct {
		Label       string `json:"label"`
		Granularity string `json:"granularity"`
		Points      []struct {
			TS    string `json:"ts"`
			Value string `json:"value"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Equal(t, "pv/power", doc.Label)
	require.Equal(t, "hour", doc.Granularity)
	require.Len(t, doc.Points, 2)
	require.Equal(t, "2023-06-01T13:00:00.25Z", doc.Points[1].TS)
	require.Equal(t, "12.5", doc.Points[1].Value)
}

func TestEmptyChart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONSink(&buf).Render(context.Background(), Chart{Label: "idle", Granularity: types.Date}))
	require.JSONEq(t, `{"label":"idle","granularity":"date","points":[]}`, buf.String())
}

func TestRenderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	require.ErrorIs(t, NewCSVSink(&buf).Render(ctx, testChart()), context.Canceled)
	require.Zero(t, buf.Len())
}
