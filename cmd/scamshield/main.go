// ScamShield - Declarative scam detection for messages, links and payments.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/scamshield/internal/api"
	"github.com/opensource-finance/scamshield/internal/bus"
	"github.com/opensource-finance/scamshield/internal/cache"
	"github.com/opensource-finance/scamshield/internal/decision"
	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/opensource-finance/scamshield/internal/metrics"
	"github.com/opensource-finance/scamshield/internal/repository"
	"github.com/opensource-finance/scamshield/internal/rules"
	"github.com/opensource-finance/scamshield/internal/secondary"
	"github.com/opensource-finance/scamshield/internal/telemetry"
	"github.com/opensource-finance/scamshield/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := domain.LoadConfig(os.LookupEnv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting scamshield",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"edition", cfg.Edition,
		"rules_source", cfg.Rules.Source,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	m := metrics.New()

	engine, err := rules.NewEngine(rules.Options{
		Source:   ruleSource(cfg, repo),
		Strict:   cfg.Rules.Strict,
		OnReload: onReload(busImpl, m),
	})
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	// A bad rule source at startup leaves the engine empty; fix it and
	// call POST /rules/reload.
	if count, err := engine.Reload(ctx); err != nil {
		slog.Error("initial rule load failed, starting with no rules", "error", err)
	} else {
		slog.Info("rule engine initialized", "rules_count", count)
	}

	scorer, err := newScorer(cfg.Secondary, cacheImpl)
	if err != nil {
		slog.Error("failed to load secondary model", "error", err)
		os.Exit(1)
	}

	processor := decision.NewProcessor()
	processor.Alpha = cfg.Scoring.Alpha
	processor.MaxHits = cfg.Scoring.MaxHits
	processor.ScoreTimeout = cfg.Secondary.Timeout
	if scorer != nil {
		processor.Scorer = scorer
	}
	slog.Info("decision processor initialized",
		"alpha", processor.Alpha,
		"max_hits", processor.MaxHits,
		"secondary_loaded", scorer != nil,
	)

	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, repo, engine, processor, m)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.WorkerTenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:            repo,
		Cache:           cacheImpl,
		Bus:             busImpl,
		Engine:          engine,
		Processor:       processor,
		Metrics:         m,
		RuleSource:      cfg.Rules.Source,
		SecondaryLoaded: scorer != nil,
		Version:         Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("scamshield is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("scamshield shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func ruleSource(cfg *domain.Config, repo domain.Repository) rules.Source {
	if cfg.Rules.Source == domain.RuleSourceDatabase {
		return rules.NewRepositorySource(repo)
	}
	return rules.NewFileSource(cfg.Rules.Path, cfg.Rules.Strict, nil)
}

// onReload records reload outcomes and announces new rule sets on the bus.
func onReload(b domain.EventBus, m *metrics.Metrics) func(*rules.RuleSet, error) {
	return func(rs *rules.RuleSet, err error) {
		if err != nil {
			m.ObserveReload(0, err)
			return
		}
		m.ObserveReload(len(rs.Rules), nil)

		payload, _ := json.Marshal(map[string]any{
			"version":  rs.Version,
			"count":    len(rs.Rules),
			"skipped":  rs.Skipped,
			"loadedAt": rs.LoadedAt,
		})
		if err := b.Publish(context.Background(), domain.GlobalTenantID, domain.TopicRulesReloaded, payload); err != nil {
			slog.Warn("failed to publish rules reload", "error", err)
		}
	}
}

// newScorer returns nil when no model is configured or the file is absent.
func newScorer(cfg domain.SecondaryConfig, c domain.Cache) (secondary.Scorer, error) {
	model, err := secondary.LoadModel(cfg.ModelPath)
	if errors.Is(err, secondary.ErrModelNotLoaded) {
		slog.Info("secondary scorer disabled", "model_path", cfg.ModelPath)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	scorer, err := secondary.NewLogisticScorer(model)
	if err != nil {
		return nil, err
	}
	slog.Info("secondary model loaded",
		"model_path", cfg.ModelPath,
		"model_version", scorer.Version(),
	)
	return secondary.NewCachedScorer(scorer, c, cfg.CacheTTL, nil), nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ScamShield - scam risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Edition:  %s\n", cfg.Edition)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /detect            - Score an event")
	fmt.Println("    POST /events            - Queue an event for async scoring")
	fmt.Println("    GET  /detections/{id}   - Get detection by ID")
	fmt.Println("    GET  /events/{id}       - Get event by ID")
	fmt.Println("    GET  /rules             - List active rules")
	fmt.Println("    POST /rules             - Save a rule")
	fmt.Println("    DELETE /rules/{id}      - Disable a rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}
