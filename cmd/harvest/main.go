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

	"github.com/use-agent/harvest/api"
	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/crawler"
	"github.com/use-agent/harvest/dispatch"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/gatekeeper"
	"github.com/use-agent/harvest/pipeline"
	"github.com/use-agent/harvest/robots"
	"github.com/use-agent/harvest/sitemap"
	"github.com/use-agent/harvest/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("harvest starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"proxy", cfg.Proxy.Server != "",
		"browser", cfg.Browser.MicroserviceURL != "",
	)

	// ── 3. Outbound dispatchers (TLS, proxy, egress guard) ─────────
	disp, err := dispatch.New(dispatch.Options{
		ProxyServer:   cfg.Proxy.Server,
		ProxyUsername: cfg.Proxy.Username,
		ProxyPassword: cfg.Proxy.Password,
		AllowLocal:    cfg.Security.AllowLocalWebhooks,
	})
	if err != nil {
		slog.Error("failed to initialise dispatcher", "error", err)
		os.Exit(1)
	}
	webhook.SetClient(disp.Client(false, false))

	// ── 4. Shared caches and evaluators ─────────────────────────────
	validators := cache.New(1000)
	gate := gatekeeper.New(cfg.Gatekeeper)
	robotsEval := robots.NewEvaluator(disp)
	blocklist := crawler.NewBlocklist(cfg.Crawl.BlockedDomains, cfg.Crawl.AllowedDomains)

	// ── 5. Scrape pipeline + crawler ────────────────────────────────
	orc := pipeline.New(pipeline.Options{
		Dispatcher: disp,
		Validators: validators,
		Gatekeeper: gate,
		Robots:     robotsEval,
		Browser:    cfg.Browser,
		Scrape:     cfg.Scrape,
		Crawl:      cfg.Crawl,
	})
	sitemaps := sitemap.NewProcessor(disp, engine.NewFetchEngine(disp, validators))
	cr := crawler.New(orc, robotsEval, sitemaps, blocklist, cfg.Crawl)

	// ── 6. HTTP server ──────────────────────────────────────────────
	router := api.NewRouter(orc, cr, cfg)

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

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	slog.Info("harvest stopped")
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
