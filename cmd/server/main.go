package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ymiyake/themis/internal/defaults"
	"github.com/ymiyake/themis/internal/entities"
	"github.com/ymiyake/themis/internal/infrastructure/config"
	"github.com/ymiyake/themis/internal/infrastructure/database"
	"github.com/ymiyake/themis/internal/infrastructure/metrics"
	"github.com/ymiyake/themis/internal/repositories/postgres"
	"github.com/ymiyake/themis/internal/services"
	"github.com/ymiyake/themis/internal/services/audit"
	"github.com/ymiyake/themis/internal/services/decision"
	"github.com/ymiyake/themis/internal/services/enforcement"
	"github.com/ymiyake/themis/internal/services/matcher"
	"github.com/ymiyake/themis/internal/services/scope"
	"github.com/ymiyake/themis/pkg/cache"
	"github.com/ymiyake/themis/pkg/cache/ristrettocache"
)

const defaultEnv = "dev"

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	// Initialize configuration
	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	log.Printf("Connected to database: %s@%s:%d/%s",
		cfg.Database.User,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database)

	// Initialize repositories
	ruleRepo := postgres.NewRuleRepository(pg.DB)
	scopeRepo := postgres.NewScopeRepository(pg.DB)
	auditSink := postgres.NewAuditSink(pg.DB)

	// Initialize matcher registry
	registry := matcher.NewRegistry()
	conditionMatcher, err := matcher.NewConditionMatcher()
	if err != nil {
		log.Fatalf("Failed to create condition matcher: %v", err)
	}
	registry.Register(conditionMatcher)

	m := metrics.New()

	// Optional decision cache
	var decisionCache cache.Cache
	if cfg.Cache.Enabled {
		decisionCache, err = ristrettocache.New(&ristrettocache.Config{
			NumCounters: cfg.Cache.NumCounters,
			MaxCost:     cfg.Cache.MaxMemoryBytes,
			BufferItems: cfg.Cache.BufferItems,
		})
		if err != nil {
			log.Fatalf("Failed to create decision cache: %v", err)
		}
		defer decisionCache.Close()
	}

	// Initialize services
	resolver := scope.NewResolver(scopeRepo, ruleRepo)
	engine := decision.NewEngineWithCache(ruleRepo, resolver, registry, decisionCache, cfg.Cache.TTL(), m)
	recorder := audit.NewRecorder(auditSink, audit.Mode(cfg.Audit.Mode), cfg.Audit.Budget(), m)
	facade := enforcement.NewFacade(engine, recorder)

	policyService := services.NewPolicyService(ruleRepo, scopeRepo, registry)

	// Load the built-in catalog, then any deployment bundle on top
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	version, err := policyService.LoadBundle(startCtx, defaults.Bundle())
	if err != nil {
		cancelStart()
		log.Fatalf("Failed to load built-in policy bundle: %v", err)
	}
	log.Printf("Loaded built-in policy bundle %s", version)

	if cfg.Policy.BundlePath != "" {
		version, err := policyService.LoadBundleFile(startCtx, cfg.Policy.BundlePath)
		if err != nil {
			cancelStart()
			log.Fatalf("Failed to load policy bundle %s: %v", cfg.Policy.BundlePath, err)
		}
		log.Printf("Loaded policy bundle %s from %s", version, cfg.Policy.BundlePath)
	}
	// Canary decision: exercises the full evaluation and audit path once so a
	// broken store or sink surfaces at startup, not on the first real check.
	canaryCtx, cancelCanary := context.WithTimeout(context.Background(), 5*time.Second)
	effect, decisionID, err := facade.Check(canaryCtx, entities.ActorContext{Service: "themis-server"},
		"user:canary", defaults.ViewLibrary, "lib:canary", "", nil)
	cancelCanary()
	cancelStart()
	if err != nil {
		log.Fatalf("Canary decision failed: %v", err)
	}
	log.Printf("Canary decision %s: %s", decisionID, effect)

	// Metrics HTTP server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.HealthCheck(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("Metrics server listening on :%d", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		log.Println("Initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown error: %v", err)
		}

		// Flush in-flight audit appends before closing the database
		recorder.Drain()

		if err := pg.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}

		log.Println("Shutdown complete")
	}
}
