package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/web2api/api"
	"github.com/use-agent/web2api/browser"
	"github.com/use-agent/web2api/cache"
	"github.com/use-agent/web2api/config"
	"github.com/use-agent/web2api/engine"
	"github.com/use-agent/web2api/recipe"

	// Compiled-in custom scrapers register themselves at init time.
	_ "github.com/use-agent/web2api/plugins/hnfront"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("web2api starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxContexts", cfg.Pool.MaxContexts,
	)

	// ── 3. Discover recipes ─────────────────────────────────────────
	reg := recipe.NewRegistry()
	if err := reg.Discover(cfg.Recipes.Dir); err != nil {
		slog.Error("recipe discovery failed", "dir", cfg.Recipes.Dir, "error", err)
		os.Exit(1)
	}
	slog.Info("recipes loaded", "dir", cfg.Recipes.Dir, "sites", reg.Count())

	// ── 4. Launch browser and start the context pool ────────────────
	driver := browser.NewRodDriver(browser.RodConfig{
		Headless:  cfg.Browser.Headless,
		NoSandbox: cfg.Browser.NoSandbox,
		Bin:       cfg.Browser.BrowserBin,
		Proxy:     cfg.Browser.Proxy,
		Stealth:   cfg.Browser.Stealth,
	})
	pool := browser.NewPool(driver, browser.PoolConfig{
		MaxContexts:    cfg.Pool.MaxContexts,
		ContextTTL:     cfg.Pool.ContextTTL,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		PageTimeout:    cfg.Pool.PageTimeout,
		QueueSize:      cfg.Pool.QueueSize,
	})
	if err := pool.Start(context.Background()); err != nil {
		slog.Error("failed to start browser pool", "error", err)
		os.Exit(1)
	}
	defer pool.Stop()

	// ── 5. Initialise engine and cache ──────────────────────────────
	eng := engine.New(pool, cfg.Scraper.DefaultTimeout)
	cc := cache.New(cache.Config{
		TTL:        cfg.Cache.TTL,
		StaleTTL:   cfg.Cache.StaleTTL,
		MaxEntries: cfg.Cache.MaxEntries,
	})

	// ── 6. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(reg, eng, pool, cc, cfg, startTime)

	// ── 7. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// pool.Stop() runs via defer — drains lent pages and kills Chrome.
	slog.Info("web2api stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
