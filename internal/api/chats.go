package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/querychat/querychat/internal/auth"
	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/pipeline"
	"github.com/querychat/querychat/internal/store"
	"github.com/querychat/querychat/internal/target"
)

type turnRequest struct {
	Question   string `json:"question"`
	DatabaseID *int64 `json:"db_id"`
}

func handleCreateChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chats == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "chat store is not configured", false, nil)
		return
	}
	userID, ok := requireUser(w, r, auth.RoleChatUser)
	if !ok {
		return
	}
	chat, err := deps.Chats.CreateChat(r.Context(), userID, store.WelcomeMessage)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to create chat", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func handleListChats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chats == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "chat store is not configured", false, nil)
		return
	}
	userID, ok := requireUser(w, r, auth.RoleChatUser)
	if !ok {
		return
	}
	chats, err := deps.Chats.ListChats(r.Context(), userID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list chats", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"chats":   chats,
	})
}

func handleListMessages(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	chat, ok := loadOwnedChat(deps, w, r)
	if !ok {
		return
	}
	messages, err := deps.Chats.ListMessages(r.Context(), chat.ChatID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list messages", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		items = append(items, map[string]any{
			"message_id": message.MessageID,
			"role":       message.Role.String(),
			"content":    message.Content,
			"created_at": message.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id":  chat.ChatID,
		"messages": items,
	})
}

func handleRunTurn(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Turns == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	chat, ok := loadOwnedChat(deps, w, r)
	if !ok {
		return
	}

	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid turn request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	result, err := deps.Turns.RunTurn(r.Context(), pipeline.Request{
		ChatID:     chat.ChatID,
		DatabaseID: req.DatabaseID,
		Question:   req.Question,
	})
	if err == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}
	if result.State == pipeline.StateAnswered {
		// The answer was produced and recorded; only persisting the reply failed.
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "turn answered but not persisted", slog.Int64("chat_id", chat.ChatID), slog.Any("error", err))
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	status, code, retryable := classifyTurnError(err)
	writeError(r.Context(), w, status, code, err.Error(), retryable, map[string]any{
		"run_id": result.RunID,
		"state":  result.State,
		"answer": result.Answer,
	})
}

func classifyTurnError(err error) (int, string, bool) {
	var connErr *target.ConnectionError
	var genErr *nl2sql.GenerationError
	switch {
	case errors.Is(err, pipeline.ErrNoDatabase):
		return http.StatusUnprocessableEntity, "DATABASE_REQUIRED", false
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "DATABASE_NOT_FOUND", false
	case errors.As(err, &connErr):
		return http.StatusBadGateway, "TARGET_UNREACHABLE", true
	case errors.As(err, &genErr):
		return http.StatusBadGateway, "GENERATION_FAILED", true
	default:
		return http.StatusInternalServerError, "TURN_FAILED", true
	}
}

func handleListQueries(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Records == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERIES_NOT_CONFIGURED", "query audit store is not configured", false, nil)
		return
	}
	chat, ok := loadOwnedChat(deps, w, r)
	if !ok {
		return
	}
	records, err := deps.Records.ListRecords(r.Context(), chat.ChatID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list queries", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id": chat.ChatID,
		"queries": records,
	})
}

func requireUser(w http.ResponseWriter, r *http.Request, roles ...string) (string, bool) {
	userID, err := auth.ChatUser(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return "", false
	}
	if err := auth.Authorize(r.Context(), roles...); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", false
	}
	return userID, true
}

// loadOwnedChat resolves {chat} and hides chats owned by other users.
func loadOwnedChat(deps Dependencies, w http.ResponseWriter, r *http.Request) (store.Chat, bool) {
	if deps.Chats == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "chat store is not configured", false, nil)
		return store.Chat{}, false
	}
	userID, ok := requireUser(w, r, auth.RoleChatUser)
	if !ok {
		return store.Chat{}, false
	}
	chatID, err := pathID(r, "chat")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CHAT_ID", err.Error(), false, nil)
		return store.Chat{}, false
	}
	chat, err := deps.Chats.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CHAT_NOT_FOUND", "chat not found", false, map[string]any{"chat_id": chatID})
			return store.Chat{}, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to load chat", true, map[string]any{"details": err.Error()})
		return store.Chat{}, false
	}
	if chat.UserID != userID {
		writeError(r.Context(), w, http.StatusNotFound, "CHAT_NOT_FOUND", "chat not found", false, map[string]any{"chat_id": chatID})
		return store.Chat{}, false
	}
	return chat, true
}
