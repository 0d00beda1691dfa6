package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"transvisor/internal/cache"
	"transvisor/internal/config"
	"transvisor/internal/handler"
	"transvisor/internal/hub"
	"transvisor/internal/ingestor"
	"transvisor/internal/metrics"
	"transvisor/internal/middleware"
	"transvisor/internal/store"
	"transvisor/internal/view"
	"transvisor/pkg/gtfs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting transvisor server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"sources", len(cfg.Sources),
		"window", cfg.Window().String(),
		"redis_enabled", cfg.RedisEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := store.NewRegistry(cfg.Scale)
	if err := registry.Reclassify(cfg.Window()); err != nil {
		logger.Error("invalid initial window", "error", err)
		os.Exit(1)
	}

	wsHub := hub.NewHub(logger)
	panel := view.NewPanel(registry, wsHub, logger)

	loaderOpts := ingestor.Options{
		CacheTTL:     cfg.CacheTTL,
		GTFSCacheDir: cfg.GTFSCacheDir,
		Build: gtfs.BuildOptions{
			Weekday: cfg.Weekday(),
		},
	}

	var redisCache *cache.RedisCache
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, feature cache disabled", "error", err)
		} else {
			loaderOpts.Cache = redisCache
			defer redisCache.Close()
		}
	}

	loader := ingestor.New(registry, panel, loaderOpts, logger)
	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)

	routeHandler := handler.NewRouteHandler(registry, panel, logger)
	losHandler := handler.NewLOSHandler(panel, logger)
	sourceHandler := handler.NewSourceHandler(ctx, loader, cfg.SourceAllowedHosts, logger)
	wsHandler := handler.NewWSHandler(wsHub, panel, logger)
	healthHandler := handler.NewHealthHandler(loader, registry)
	statsHandler := handler.NewStatsHandler(registry, wsHub, limiter)

	limited := func(fn http.HandlerFunc) http.Handler {
		return limiter.Middleware(fn)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/los", losHandler.GetLOS)
	mux.Handle("POST /v1/los", limited(losHandler.SetLOS))

	mux.HandleFunc("GET /v1/routes", routeHandler.ListRoutes)
	mux.HandleFunc("GET /v1/routes/{index}", routeHandler.GetRoute)
	mux.HandleFunc("GET /v1/routes/{index}/trips", routeHandler.GetRouteTrips)
	mux.Handle("POST /v1/routes/{index}/show", limited(routeHandler.ShowRoute))
	mux.Handle("POST /v1/routes/{index}/hide", limited(routeHandler.HideRoute))
	mux.Handle("POST /v1/routes/{index}/only", limited(routeHandler.ShowOnlyRoute))
	mux.Handle("POST /v1/routes/show-all", limited(routeHandler.ShowAll))
	mux.Handle("POST /v1/routes/hide-all", limited(routeHandler.HideAll))
	mux.HandleFunc("GET /v1/layer", routeHandler.GetLayer)
	mux.HandleFunc("GET /v1/bounds", routeHandler.GetBounds)

	mux.Handle("POST /v1/sources", limited(sourceHandler.AddSource))
	mux.HandleFunc("/v1/ws", wsHandler.ServeWS)
	mux.HandleFunc("GET /v1/stats", statsHandler.GetStats)

	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)

	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handler.Chain(mux,
			handler.CountRequests,
			metrics.Instrument,
			handler.CORSMiddleware,
			handler.GzipMiddleware,
		),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)

	go loader.LoadAll(ctx, cfg.Sources)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
