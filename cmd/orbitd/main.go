package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/api"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/cache"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/config"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/health"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/overlay"
	"github.com/W1Adri/QKD-EU-LINK-Simulator-sub000/internal/stream"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	probe := &health.Probe{}
	propCache := cache.New(cfg.Cache, logger)
	streamHandler := stream.NewHandler(cfg.Stream, logger)

	var catalog *overlay.Catalog
	if cfg.Overlay.EnableFetch {
		catalog = overlay.NewCatalog(overlay.NewFetcher(cfg.Overlay.SourceURL), logger).
			WithArchive(overlay.NewArchive(cfg.Overlay.ArchiveDir, cfg.Overlay.ArchiveKeep))
		if _, err := catalog.LoadArchived(); err != nil {
			logger.Info("no archived TLE catalog loaded", "dir", cfg.Overlay.ArchiveDir, "error", err)
		}
	}

	srv := api.NewServer(api.Options{
		Addr:    cfg.HTTP.Addr,
		Auth:    cfg.Auth,
		Limits:  api.Limits(cfg.Limits),
		Cache:   propCache,
		Catalog: catalog,
		Overlay: overlay.NewSGP4Provider(cfg.Overlay.Workers, logger),
		Stream:  streamHandler,
		Probe:   probe,
	}, logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go propCache.Start(ctx)

	if catalog != nil {
		go refreshCatalog(ctx, catalog, cfg.Overlay.RefreshInterval, logger)
	}

	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"tle_fetch_enabled", cfg.Overlay.EnableFetch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()
	probe.SetReady(true)

	<-ctx.Done()
	probe.SetReady(false)
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// refreshCatalog loads the TLE catalog at startup and then every interval.
// A failed refresh keeps the previous dataset.
func refreshCatalog(ctx context.Context, catalog *overlay.Catalog, interval time.Duration, logger *slog.Logger) {
	refresh := func() {
		fetchCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := catalog.Refresh(fetchCtx); err != nil {
			logger.Warn("TLE catalog refresh failed", "error", err)
		}
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}
