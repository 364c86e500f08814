package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/querychat/querychat/internal/archive"
	"github.com/querychat/querychat/internal/storage"
)

func handleExportChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "object store is not configured", false, nil)
		return
	}
	chat, ok := loadOwnedChat(deps, w, r)
	if !ok {
		return
	}
	export, err := deps.Exporter.ExportChat(r.Context(), chat.ChatID)
	if err != nil {
		if errors.Is(err, archive.ErrNothingToExport) {
			writeError(r.Context(), w, http.StatusConflict, "NOTHING_TO_EXPORT", err.Error(), false, map[string]any{"chat_id": chat.ChatID})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "failed to export chat history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, export)
}

func handleListExports(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "object store is not configured", false, nil)
		return
	}
	chat, ok := loadOwnedChat(deps, w, r)
	if !ok {
		return
	}
	exports, err := deps.Exporter.ListExports(r.Context(), chat.ChatID)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_LIST_FAILED", "failed to list exports", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chat.ChatID, "exports": exports})
}

func handleDownloadExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "object store is not configured", false, nil)
		return
	}
	chat, ok := loadOwnedChat(deps, w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	if _, err := storage.ExportObjectPath(chat.ChatID, name); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT", err.Error(), false, nil)
		return
	}
	body, info, err := deps.Exporter.Open(r.Context(), chat.ChatID, name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export not found", false, map[string]any{"name": name})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FETCH_FAILED", "failed to read export", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", archive.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}
