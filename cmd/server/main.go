package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-preview/internal/catalog"
	"hls-preview/internal/hlsengine"
	"hls-preview/internal/platform/config"
	"hls-preview/internal/platform/logger"
	"hls-preview/internal/platform/metrics"
	"hls-preview/internal/platform/ratelimit"
	"hls-preview/internal/playback"
	"hls-preview/internal/preview"
	"hls-preview/internal/surface"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	provider := hlsengine.NewProvider(
		hlsengine.WithEnabled(cfg.EngineEnabled),
		hlsengine.WithHTTPClient(httpClient),
		hlsengine.WithMaxSegmentRetries(cfg.MaxSegmentRetries),
		hlsengine.WithLogger(log),
	)
	opener := playback.NewOpener(playback.Config{
		Provider: provider,
		Engine: playback.EngineConfig{
			LowLatency:        cfg.LowLatency,
			MaxBufferSegments: cfg.MaxBufferSegments,
		},
		RetryBurst:    cfg.RetryBurst,
		RetryInterval: cfg.RetryInterval,
		Logger:        log,
		Recorder:      met,
	})
	registry := playback.NewRegistry(opener)

	cat := catalog.New(cfg.CatalogURL,
		catalog.WithAPIKey(cfg.CatalogAPIKey),
		catalog.WithHTTPClient(httpClient),
		catalog.WithRateLimit(float64(cfg.CatalogRPS), cfg.CatalogRPS),
	)
	svc := preview.NewService(preview.NewInMemoryRepository(), registry, cat, surface.Config{
		NativeHLS:          cfg.NativeHLS,
		AutoplayRestricted: cfg.AutoplayRestricted,
		BackBuffer:         cfg.BackBuffer,
	}, log, met)
	h := preview.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "ok",
			"surfaces":     svc.MountCount(),
			"live_engines": svc.LiveEngines(),
		})
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetLiveEngines(svc.LiveEngines())
			met.SetMountedSurfaces(svc.MountCount())
		}).ServeHTTP(w, r)
	})
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(ratelimit.Config{
			RequestLimit: cfg.RateLimitPerMinute,
			WindowSize:   time.Minute,
		}))
		h.RegisterRoutes(r)
	})

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting",
			"port", cfg.Port,
			"engine_enabled", cfg.EngineEnabled,
			"native_hls", cfg.NativeHLS,
			"catalog_url", cfg.CatalogURL,
			"log_level", cfg.LogLevel,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		svc.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
