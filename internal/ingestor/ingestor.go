package ingestor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"transvisor/internal/cache"
	"transvisor/internal/config"
	"transvisor/internal/domain"
	"transvisor/internal/metrics"
	"transvisor/internal/store"
	"transvisor/pkg/gtfs"
)

var ErrUnknownKind = errors.New("unknown source kind")

// FeatureCache stores decoded features between runs. *cache.RedisCache
// satisfies it.
type FeatureCache interface {
	GetJSONCompressed(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSONCompressed(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Notifier is told about routes added by a load.
type Notifier interface {
	RoutesChanged(source string, indices []int)
}

type Options struct {
	Cache        FeatureCache
	CacheTTL     time.Duration
	GTFSCacheDir string
	Build        gtfs.BuildOptions
	Concurrency  int
}

// Loader fetches route sources and appends their features to the registry.
type Loader struct {
	registry   *store.Registry
	notifier   Notifier
	downloader *gtfs.Downloader
	parser     *gtfs.Parser
	parseCache *gtfs.ParseCache
	opts       Options
	logger     *slog.Logger

	ready   bool
	readyMu sync.RWMutex
}

func New(registry *store.Registry, notifier Notifier, opts Options, logger *slog.Logger) *Loader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Loader{
		registry:   registry,
		notifier:   notifier,
		downloader: gtfs.NewDownloader(logger),
		parser:     gtfs.NewParser(logger),
		parseCache: gtfs.NewParseCache(opts.GTFSCacheDir, logger),
		opts:       opts,
		logger:     logger.With("component", "loader"),
	}
}

// LoadAll loads every source concurrently. A failing source is logged and
// does not stop the others. The loader is ready once all have been tried.
func (l *Loader) LoadAll(ctx context.Context, sources []config.Source) {
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(l.opts.Concurrency)
	for _, src := range sources {
		g.Go(func() error {
			if _, err := l.Load(ctx, src); err != nil {
				l.logger.Error("failed to load source", "source", src.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	l.setReady(true)
	l.logger.Info("initial sources loaded",
		"sources", len(sources),
		"routes", l.registry.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Load fetches one source, adds its features to the registry and regrades
// everything with the current window.
func (l *Loader) Load(ctx context.Context, src config.Source) ([]int, error) {
	start := time.Now()

	features, err := l.Features(ctx, src)
	if err != nil {
		metrics.SourceLoadsTotal.WithLabelValues("fetch_error").Inc()
		return nil, err
	}

	indices, err := l.registry.Add(src.ID, features)
	if err != nil {
		metrics.SourceLoadsTotal.WithLabelValues("rejected").Inc()
		l.forget(ctx, src)
		return nil, err
	}
	l.registry.Refresh()

	metrics.SourceLoadsTotal.WithLabelValues("ok").Inc()
	metrics.RoutesRegisteredTotal.Add(float64(len(indices)))
	if l.notifier != nil {
		l.notifier.RoutesChanged(src.ID, indices)
	}

	l.logger.Info("source loaded",
		"source", src.ID,
		"kind", src.ResolvedKind(),
		"routes", len(indices),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return indices, nil
}

// Features returns the decoded features of src, from the cache when possible.
func (l *Loader) Features(ctx context.Context, src config.Source) ([]domain.Feature, error) {
	key := cache.KeyFeatures(src.ID)

	if l.opts.Cache != nil {
		var fc domain.FeatureCollection
		found, err := l.opts.Cache.GetJSONCompressed(ctx, key, &fc)
		if err != nil {
			l.logger.Warn("feature cache read failed", "source", src.ID, "error", err)
		} else if found {
			l.logger.Debug("feature cache hit", "source", src.ID, "features", len(fc.Features))
			return fc.Features, nil
		}
	}

	var features []domain.Feature
	var err error
	switch kind := src.ResolvedKind(); kind {
	case config.KindGeoJSON:
		features, err = l.fetchGeoJSON(ctx, src.ID)
	case config.KindGTFS:
		features, err = l.fetchGTFS(ctx, src.ID)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.ID, err)
	}

	if l.opts.Cache != nil {
		if err := l.opts.Cache.SetJSONCompressed(ctx, key, domain.NewFeatureCollection(features), l.opts.CacheTTL); err != nil {
			l.logger.Warn("feature cache write failed", "source", src.ID, "error", err)
		}
	}
	return features, nil
}

// forget drops a cached source so a rejected copy is not served again.
func (l *Loader) forget(ctx context.Context, src config.Source) {
	if l.opts.Cache == nil {
		return
	}
	if err := l.opts.Cache.Delete(ctx, cache.KeyFeatures(src.ID)); err != nil {
		l.logger.Warn("feature cache delete failed", "source", src.ID, "error", err)
	}
}

func (l *Loader) fetchGeoJSON(ctx context.Context, location string) ([]domain.Feature, error) {
	data, err := l.downloader.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	fc, err := domain.DecodeFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	return fc.Features, nil
}

func (l *Loader) IsReady() bool {
	l.readyMu.RLock()
	defer l.readyMu.RUnlock()
	return l.ready
}

func (l *Loader) setReady(ready bool) {
	l.readyMu.Lock()
	defer l.readyMu.Unlock()
	l.ready = ready
}
