// Package api serves the chat, connection and export endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querychat/querychat/internal/archive"
	"github.com/querychat/querychat/internal/config"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/pipeline"
	"github.com/querychat/querychat/internal/schema"
	"github.com/querychat/querychat/internal/storage"
	"github.com/querychat/querychat/internal/store"
	"github.com/querychat/querychat/internal/target"
)

type ReadinessCheck func(ctx context.Context) error

type TurnRunner interface {
	RunTurn(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type SchemaDescriber interface {
	Describe(ctx context.Context, t target.Target) (schema.Description, error)
}

type ChatExporter interface {
	ExportChat(ctx context.Context, chatID int64) (archive.Export, error)
	ListExports(ctx context.Context, chatID int64) ([]archive.Export, error)
	Open(ctx context.Context, chatID int64, name string) (io.ReadCloser, storage.ObjectInfo, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Chats             store.ChatStore
	Connections       store.ConnectionStore
	Records           store.QueryAuditStore
	Turns             TurnRunner
	Schema            SchemaDescriber
	Exporter          ChatExporter
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		"POST /v1/chats": func(w http.ResponseWriter, r *http.Request) {
			handleCreateChat(deps, w, r)
		},
		"GET /v1/chats": func(w http.ResponseWriter, r *http.Request) {
			handleListChats(deps, w, r)
		},
		"GET /v1/chats/{chat}/messages": func(w http.ResponseWriter, r *http.Request) {
			handleListMessages(deps, w, r)
		},
		"POST /v1/chats/{chat}/turns": func(w http.ResponseWriter, r *http.Request) {
			handleRunTurn(deps, w, r)
		},
		"GET /v1/chats/{chat}/queries": func(w http.ResponseWriter, r *http.Request) {
			handleListQueries(deps, w, r)
		},
		"POST /v1/chats/{chat}/export": func(w http.ResponseWriter, r *http.Request) {
			handleExportChat(deps, w, r)
		},
		"GET /v1/chats/{chat}/exports": func(w http.ResponseWriter, r *http.Request) {
			handleListExports(deps, w, r)
		},
		"GET /v1/chats/{chat}/exports/{name}": func(w http.ResponseWriter, r *http.Request) {
			handleDownloadExport(deps, w, r)
		},
		"GET /v1/connections": func(w http.ResponseWriter, r *http.Request) {
			handleListConnections(deps, w, r)
		},
		"POST /v1/connections": func(w http.ResponseWriter, r *http.Request) {
			handleSaveConnection(deps, w, r)
		},
		"POST /v1/connections/test": func(w http.ResponseWriter, r *http.Request) {
			handleTestConnection(deps, w, r)
		},
		"GET /v1/connections/{db}/schema": func(w http.ResponseWriter, r *http.Request) {
			handleConnectionSchema(deps, w, r)
		},
	}
	for pattern, handler := range routes {
		protected.HandleFunc(pattern, handler)
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range routes {
		mux.Handle(pattern, protectedHandler)
	}

	routeOf := func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	}
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware(routeOf),
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckStoreDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Store.DSN == "" {
			return errors.New("store dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", name, raw)
	}
	return id, nil
}
