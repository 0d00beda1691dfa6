package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"transvisor/internal/domain"
	"transvisor/pkg/gtfs"
)

type options struct {
	outfile  string
	routes   []string
	exclude  []string
	weekday  string
	cacheDir string
	verbose  bool
}

// NewRootCmd builds the gtfs2geojson command.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "gtfs2geojson <gtfs.zip|url>",
		Short: "Export GTFS routes as GeoJSON for LOS classification",
		Long: `gtfs2geojson reads a GTFS feed and writes one LineString feature per route and
headsign/direction pair. Each feature lists the first-stop departure times, in
seconds since midnight, of the trips that run on the chosen weekday.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.outfile, "outfile", "o", "", "output file (default stdout)")
	cmd.Flags().StringArrayVar(&opts.routes, "route", nil, "route_id to include (repeatable)")
	cmd.Flags().StringArrayVar(&opts.exclude, "exclude", nil, "route_id to exclude (repeatable)")
	cmd.Flags().StringVar(&opts.weekday, "weekday", "monday", "service day to export")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "parsed feed cache directory")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")

	return cmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, location string, opts *options, stdout, stderr io.Writer) error {
	weekday, err := parseWeekday(opts.weekday)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))

	reader, data, err := gtfs.NewDownloader(logger).Download(ctx, location)
	if err != nil {
		return err
	}

	result, _, err := gtfs.NewParseCache(opts.cacheDir, logger).Parse(gtfs.NewParser(logger), reader, data)
	if err != nil {
		return err
	}

	features := gtfs.BuildFeatures(result, gtfs.BuildOptions{
		Weekday: weekday,
		Routes:  opts.routes,
		Exclude: opts.exclude,
	})
	logger.Info("features built", "features", len(features), "weekday", weekday.String())

	out := stdout
	if opts.outfile != "" {
		f, err := os.Create(opts.outfile)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := json.NewEncoder(out).Encode(domain.NewFeatureCollection(features)); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) || strings.EqualFold(d.String()[:3], s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
