// Package render writes sampled series to an output sink.
package render

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vjranagit/solarmon/pkg/query"
	"github.com/vjranagit/solarmon/pkg/types"
)

// ErrUnknownFormat is returned by New for an unsupported output format
var ErrUnknownFormat = errors.New("unknown format")

// Output formats
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

const tableTimeLayout = "2006-01-02 15:04:05.000 MST"

// Chart is one labelled series ready for display
type Chart struct {
	Label       string
	Granularity types.Granularity
	Readings    []types.Reading
}

// Sink receives charts for display
type Sink interface {
	Render(ctx context.Context, chart Chart) error
}

// Formats lists the supported output formats
func Formats() []string {
	return []string{FormatTable, FormatCSV, FormatJSON}
}

// New returns the sink for format writing to w
func New(format string, w io.Writer) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatTable:
		return &TableSink{w: w}, nil
	case FormatCSV:
		return &CSVSink{w: w}, nil
	case FormatJSON:
		return &JSONSink{w: w}, nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownFormat, format, strings.Join(Formats(), ", "))
	}
}

// TableSink writes an aligned text table
type TableSink struct {
	w io.Writer
}

// NewTableSink creates a table sink
func NewTableSink(w io.Writer) *TableSink {
	return &TableSink{w: w}
}

// Render writes chart as a titled two-column table
func (s *TableSink) Render(ctx context.Context, chart Chart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(s.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s, %d samples)\n", chart.Label, chart.Granularity, len(chart.Readings))
	fmt.Fprintln(tw, "TIME\tVALUE")
	for _, r := range chart.Readings {
		fmt.Fprintf(tw, "%s\t%s\n", r.Timestamp.UTC().Format(tableTimeLayout), r.Value)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}
	return nil
}

// CSVSink writes one record per sample
type CSVSink struct {
	w io.Writer
}

// NewCSVSink creates a CSV sink
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: w}
}

// Render writes chart with a header row
func (s *CSVSink) Render(ctx context.Context, chart Chart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cw := csv.NewWriter(s.w)
	records := make([][]string, 0, len(chart.Readings)+1)
	records = append(records, []string{"topic", "timestamp", "value"})
	for _, r := range chart.Readings {
		records = append(records, []string{chart.Label, r.Timestamp.UTC().Format(query.TimestampLayout), r.Value})
	}
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

// JSONSink writes the chart as a single JSON document
type JSONSink struct {
	w io.Writer
}

// NewJSONSink creates a JSON sink
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w}
}

// Point is a single chart point
type Point struct {
	TS    time.Time `json:"ts"`
	Value string    `json:"value"`
}

type jsonChart struct {
	Label       string            `json:"label"`
	Granularity types.Granularity `json:"granularity"`
	Points      []Point           `json:"points"`
}

// Render writes chart as {label, granularity, points}
func (s *JSONSink) Render(ctx context.Context, chart Chart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := jsonChart{
		Label:       chart.Label,
		Granularity: chart.Granularity,
		Points:      make([]Point, 0, len(chart.Readings)),
	}
	for _, r := range chart.Readings {
		doc.Points = append(doc.Points, Point{TS: r.Timestamp.UTC(), Value: r.Value})
	}

	if err := json.NewEncoder(s.w).Encode(doc); err != nil {
		return fmt.Errorf("failed to write json: %w", err)
	}
	return nil
}
