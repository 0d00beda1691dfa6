package ingestor

import (
	"context"
	"time"

	"transvisor/internal/domain"
	"transvisor/pkg/gtfs"
)

// fetchGTFS downloads a feed and builds route features from it. Parsed feeds
// are cached on disk keyed by the archive's hash.
func (l *Loader) fetchGTFS(ctx context.Context, location string) ([]domain.Feature, error) {
	start := time.Now()

	reader, data, err := l.downloader.Download(ctx, location)
	if err != nil {
		return nil, err
	}

	parseStart := time.Now()
	result, cached, err := l.parseCache.Parse(l.parser, reader, data)
	if err != nil {
		return nil, err
	}
	parseDuration := time.Since(parseStart)

	features := gtfs.BuildFeatures(result, l.opts.Build)

	l.logger.Info("GTFS features built",
		"source", location,
		"weekday", l.opts.Build.Weekday.String(),
		"routes", len(result.Routes),
		"trips", len(result.Trips),
		"features", len(features),
		"parse_cached", cached,
		"parse_duration_ms", parseDuration.Milliseconds(),
		"total_duration_ms", time.Since(start).Milliseconds(),
	)
	return features, nil
}
