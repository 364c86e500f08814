package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/querychat/querychat/internal/auth"
	"github.com/querychat/querychat/internal/store"
	"github.com/querychat/querychat/internal/target"
)

type connectionRequest struct {
	Name           string                `json:"db_name"`
	Dialect        string                `json:"db_type"`
	ConnectionInfo target.ConnectionInfo `json:"connection_info"`
}

func (req connectionRequest) target() (target.Target, error) {
	dialect, err := target.ParseDialect(req.Dialect)
	if err != nil {
		return target.Target{}, err
	}
	t := target.Target{
		Name:     strings.TrimSpace(req.Name),
		Dialect:  dialect,
		Host:     strings.TrimSpace(req.ConnectionInfo.Host),
		Port:     int(req.ConnectionInfo.Port),
		User:     req.ConnectionInfo.User,
		Password: req.ConnectionInfo.Password,
		Database: strings.TrimSpace(req.ConnectionInfo.Database),
		SSLMode:  strings.TrimSpace(req.ConnectionInfo.SSLMode),
	}
	if err := t.Validate(); err != nil {
		return target.Target{}, err
	}
	return t, nil
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection store is not configured", false, nil)
		return
	}
	if _, ok := requireUser(w, r, auth.RoleChatUser, auth.RoleConnectionAdmin); !ok {
		return
	}
	connections, err := deps.Connections.ListConnections(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list connections", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": connections})
}

func handleSaveConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection store is not configured", false, nil)
		return
	}
	userID, ok := requireUser(w, r, auth.RoleConnectionAdmin)
	if !ok {
		return
	}
	t, ok := decodeConnection(w, r)
	if !ok {
		return
	}
	if t.Name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DB_NAME_REQUIRED", "db_name is required", false, nil)
		return
	}
	connection, err := deps.Connections.SaveConnection(r.Context(), store.SaveConnectionInput{Target: t, CreatedBy: userID})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to save connection", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, connection)
}

// handleTestConnection introspects an unsaved connection so the caller can
// check credentials before saving.
func handleTestConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema introspection is not configured", false, nil)
		return
	}
	if _, ok := requireUser(w, r, auth.RoleConnectionAdmin); !ok {
		return
	}
	t, ok := decodeConnection(w, r)
	if !ok {
		return
	}
	description, err := deps.Schema.Describe(r.Context(), t)
	if err != nil {
		writeDescribeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"db_type": description.Dialect,
		"address": t.Address(),
		"tables":  description.TableNames(),
	})
}

func handleConnectionSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil || deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema introspection is not configured", false, nil)
		return
	}
	if _, ok := requireUser(w, r, auth.RoleChatUser, auth.RoleConnectionAdmin); !ok {
		return
	}
	databaseID, err := pathID(r, "db")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DB_ID", err.Error(), false, nil)
		return
	}
	t, err := deps.Connections.GetTarget(r.Context(), databaseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "DATABASE_NOT_FOUND", "database connection not found", false, map[string]any{"db_id": databaseID})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to load connection", true, map[string]any{"details": err.Error()})
		return
	}
	description, err := deps.Schema.Describe(r.Context(), t)
	if err != nil {
		writeDescribeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"db_id":   databaseID,
		"db_name": t.Name,
		"db_type": description.Dialect,
		"tables":  description.Tables,
		"schema":  description.String(),
	})
}

func decodeConnection(w http.ResponseWriter, r *http.Request) (target.Target, bool) {
	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid connection request body", false, map[string]any{"details": err.Error()})
		return target.Target{}, false
	}
	t, err := req.target()
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION", err.Error(), false, nil)
		return target.Target{}, false
	}
	return t, true
}

func writeDescribeError(w http.ResponseWriter, r *http.Request, err error) {
	var connErr *target.ConnectionError
	if errors.As(err, &connErr) {
		writeError(r.Context(), w, http.StatusBadGateway, "TARGET_UNREACHABLE", err.Error(), true, map[string]any{
			"db_type": connErr.Dialect,
			"address": connErr.Address,
		})
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load schema", true, map[string]any{"details": err.Error()})
}
