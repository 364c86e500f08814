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

	"github.com/joho/godotenv"

	"github.com/querychat/querychat/internal/api"
	"github.com/querychat/querychat/internal/archive"
	"github.com/querychat/querychat/internal/auth"
	"github.com/querychat/querychat/internal/config"
	"github.com/querychat/querychat/internal/llm"
	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/pipeline"
	"github.com/querychat/querychat/internal/query"
	"github.com/querychat/querychat/internal/schema"
	s3store "github.com/querychat/querychat/internal/storage/s3"
	"github.com/querychat/querychat/internal/store"
	"github.com/querychat/querychat/internal/store/memory"
	storepostgres "github.com/querychat/querychat/internal/store/postgres"
)

// memoryDSN keeps all chats in process memory, for local development only.
const memoryDSN = "memory"

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("querychat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	var repo store.Repository
	if cfg.Store.DSN == memoryDSN {
		logger.Warn("using in-memory store; chats are lost on restart")
		repo = memory.New()
	} else {
		storeDB, err := storepostgres.Open(context.Background(), cfg.Store)
		if err != nil {
			logger.Error("failed to open store db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = storeDB.Close() }()
		repo = storepostgres.NewRepository(storeDB)
	}

	sqlClient, explainClient, err := llm.NewFromConfig(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize model clients", slog.Any("error", err))
		os.Exit(1)
	}
	policy, err := query.NewPolicy(cfg.Policy.AllowedStatements)
	if err != nil {
		logger.Error("invalid statement policy", slog.Any("error", err))
		os.Exit(1)
	}

	introspector := schema.NewIntrospector(cfg.Target.SchemaTimeout, cfg.Target.SampleRows)
	orchestrator := &pipeline.Orchestrator{
		Chats:       repo,
		Connections: repo,
		Records:     repo,
		Schema:      introspector,
		Translator:  nl2sql.NewTranslator(nl2sql.NewGenerator(sqlClient)),
		Executor:    query.NewExecutor(cfg.Target.ExecuteTimeout, cfg.Target.MaxResultRows, policy),
		Synthesizer: nl2sql.NewExplainer(explainClient),
		Logger:      logger,
	}

	deps := api.Dependencies{
		Logger:      logger,
		Chats:       repo,
		Connections: repo,
		Records:     repo,
		Turns:       orchestrator,
		Schema:      introspector,
		Readiness: api.CombineReadinessChecks(
			api.CheckStoreDSN(cfg),
			repo.HealthCheck,
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(context.Background(), cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exporter = &archive.Exporter{Records: repo, Objects: objectStore, Logger: logger}
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("sql_model", sqlClient.Model()),
			slog.String("explain_model", explainClient.Model()),
			slog.Any("allowed_statements", policy.Allowed()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
