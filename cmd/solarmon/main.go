package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/vjranagit/solarmon/internal/config"
	"github.com/vjranagit/solarmon/internal/logging"
	"github.com/vjranagit/solarmon/pkg/client"
	"github.com/vjranagit/solarmon/pkg/dashboard"
	"github.com/vjranagit/solarmon/pkg/query"
	"github.com/vjranagit/solarmon/pkg/render"
	"github.com/vjranagit/solarmon/pkg/sampling"
	"github.com/vjranagit/solarmon/pkg/types"
)

type options struct {
	configPath  string
	topicID     int
	start       string
	end         string
	last        string
	granularity string
	format      string
	timezone    string
	list        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to a TOML or YAML config file")
	flag.IntVar(&opts.topicID, "topic", 0, "topic id to chart (default: first topic)")
	flag.StringVar(&opts.start, "start", "", "range start, ISO 8601 (default: earliest reading)")
	flag.StringVar(&opts.end, "end", "", "range end, ISO 8601 (default: latest reading)")
	flag.StringVar(&opts.last, "last", "", "ISO 8601 window ending at -end, e.g. P1D or PT6H; overrides -start")
	flag.StringVar(&opts.granularity, "granularity", "", "sample granularity: "+granularityNames())
	flag.StringVar(&opts.format, "format", "", "output format: "+strings.Join(render.Formats(), ", "))
	flag.StringVar(&opts.timezone, "tz", "UTC", "IANA time zone that bounds calendar buckets")
	flag.BoolVar(&opts.list, "list", false, "list topics and the stored time range, then exit")
	flag.Parse()

	if err := run(opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "solarmon: %v\n", err)
		os.Exit(1)
	}
}

func granularityNames() string {
	names := make([]string, 0, len(types.Granularities()))
	for _, g := range types.Granularities() {
		names = append(names, g.String())
	}
	return strings.Join(names, ", ")
}

func run(opts options, stdout, stderr io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	log := logging.New(stderr, level)

	format := cfg.Client.Format
	if opts.format != "" {
		format = opts.format
	}
	sink, err := render.New(format, stdout)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("invalid time zone: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := dashboard.New(client.New(cfg.ToClientConfig()), sink,
		dashboard.WithSampler(sampling.NewSampler(sampling.WithLocation(loc))),
		dashboard.WithLogger(log))

	session, err := d.Load(ctx)
	if err != nil {
		return err
	}

	if opts.list {
		return listTopics(stdout, session)
	}

	p, err := selection(opts, cfg.Client.Granularity, session)
	if err != nil {
		return err
	}

	log.Debug("charting",
		slog.Int("topic_id", p.TopicID),
		slog.Time("start", p.StartTimestamp),
		slog.Time("end", p.EndTimestamp),
		slog.String("granularity", p.Granularity.String()))

	_, err = d.Chart(ctx, session, p)
	return err
}

// selection applies the command line to the session's default selection
func selection(opts options, defaultGranularity string, s *dashboard.Session) (types.QueryParameters, error) {
	p := s.Selection

	if opts.topicID != 0 {
		p.TopicID = opts.topicID
	}

	name := defaultGranularity
	if opts.granularity != "" {
		name = opts.granularity
	}
	g, err := types.ParseGranularity(name)
	if err != nil {
		return p, err
	}
	p.Granularity = g

	if opts.end != "" {
		end, err := types.ParseTimestampString(opts.end)
		if err != nil {
			return p, fmt.Errorf("-end: %w", err)
		}
		p.EndTimestamp = end
	}

	switch {
	case opts.last != "":
		start, err := query.Last(p.EndTimestamp, opts.last)
		if err != nil {
			return p, fmt.Errorf("-last: %w", err)
		}
		p.StartTimestamp = start
	case opts.start != "":
		start, err := types.ParseTimestampString(opts.start)
		if err != nil {
			return p, fmt.Errorf("-start: %w", err)
		}
		p.StartTimestamp = start
	}

	return p, nil
}

func listTopics(w io.Writer, s *dashboard.Session) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "readings from %s to %s\n",
		s.Earliest.Format(query.TimestampLayout), s.Latest.Format(query.TimestampLayout))
	fmt.Fprintln(tw, "ID\tTOPIC")
	for _, t := range s.Topics {
		fmt.Fprintf(tw, "%d\t%s\n", t.TopicID, t.TopicName)
	}
	return tw.Flush()
}
