package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"geoquery/internal/api"
	"geoquery/pkg/agents"
	"geoquery/pkg/cache"
	"geoquery/pkg/composer"
	"geoquery/pkg/config"
	"geoquery/pkg/db"
	"geoquery/pkg/llm"
	"geoquery/pkg/llm/failover"
	"geoquery/pkg/llm/gemini"
	"geoquery/pkg/llm/openai"
	"geoquery/pkg/location"
	"geoquery/pkg/logging"
	"geoquery/pkg/negotiator"
	"geoquery/pkg/orchestrator"
	"geoquery/pkg/registry"
	"geoquery/pkg/request"
	"geoquery/pkg/selector"
	"geoquery/pkg/session"
	"geoquery/pkg/stac"
	"geoquery/pkg/tracker"
	"geoquery/pkg/version"
)

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", "configs/geoquery.yaml", "Path to config file")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Secrets (GEMINI_API_KEY, OPENCAGE_API_KEY) may live in a local .env.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("GeoQuery Started", "version", version.Version)

	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.PruneCache(appCfg.Cache.ResponseTTL.Std()); err != nil {
		slog.Error("Response cache pruning failed", "error", err)
	}

	tr := tracker.New()

	responseCache := cache.NewSQLite(dbConn)
	rc := request.New(responseCache, tr,
		appCfg.Request.Retries,
		appCfg.Request.Timeout.Std(),
		appCfg.Request.Backoff.BaseDelay.Std(),
		appCfg.Request.Backoff.MaxDelay.Std())

	provider, err := initLLM(appCfg, rc, tr)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	if err := provider.HealthCheck(ctx); err != nil {
		slog.Warn("LLM health check failed at startup, continuing with fallbacks", "error", err)
	}

	reg := registry.New()
	prober := registry.NewProber(reg, rc, appCfg.Stac.CollectionsURL)
	go prober.ProbeAll(ctx)

	locCache := cache.NewMemory(appCfg.Cache.LocationTTL.Std(), appCfg.Cache.LocationCapacity)
	resolver := location.NewResolver(rc, provider, locCache, appCfg.Geocoder, appCfg.Pipeline.PinRadius)

	ag := agents.New(provider, reg, tr, appCfg.Pipeline)
	builder := stac.NewBuilder(reg, resolver, appCfg.Pipeline.DefaultLookback.Std())
	searcher := stac.NewClient(rc, tr, appCfg.Stac.SearchURL, appCfg.Stac.Timeout.Std())
	sel := selector.New(reg, provider, tr)
	neg := negotiator.New(searcher, sel, reg, appCfg.Pipeline.MinOverlap)
	comp := composer.New(provider, tr)
	sessions := session.NewStore(appCfg.Session.TTL.Std(), appCfg.Session.MaxMessages)

	orch := orchestrator.New(ag, builder, searcher, sel, neg, comp, sessions, tr,
		appCfg.Pipeline, appCfg.Session)

	qh := api.NewQueryHandler(orch, reg)
	sh := api.NewStatsHandler(tr, orch)
	srv := api.NewServer(appCfg.Server.Address, qh, sh, cancel)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", appCfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Shutdown requested")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// initLLM builds the provider chain: the primary backend, plus the
// OpenAI-compatible fallback when a key for it is configured. A single
// backend still goes through the failover wrapper so logging and backoff
// behave the same everywhere.
func initLLM(cfg *config.Config, rc *request.Client, tr *tracker.Tracker) (llm.Provider, error) {
	var providers []llm.Provider
	var names []string

	switch cfg.LLM.Provider {
	case "", "gemini":
		client, err := gemini.NewClient(cfg.LLM, cfg.Log.LLM.Path, tr)
		if err != nil {
			return nil, err
		}
		providers = append(providers, client)
		names = append(names, "gemini")
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	if cfg.LLM.Fallback.Key != "" {
		backup, err := openai.NewClient(cfg.LLM.Fallback, rc)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize fallback provider: %w", err)
		}
		providers = append(providers, backup)
		names = append(names, "openai")
	}

	return failover.New(providers, names, cfg.Log.LLM.Path)
}
