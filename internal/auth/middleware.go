package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/querychat/querychat/internal/observability"
)

// UserHeader lets unauthenticated deployments name the chat user directly.
const UserHeader = "X-User-ID"

var ErrNoChatUser = errors.New("user context is required")

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// Middleware authenticates requests by API key and pins the chat user to the
// key's owner. A request that also names a different user in X-User-ID is
// refused so one key cannot read or write another user's chats.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, source := credential(r)
			if apiKey == "" {
				reject(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing API key")
				return
			}

			identity, ok := validator.Validate(r.Context(), apiKey)
			if !ok {
				warn(logger, r, "api key rejected", slog.String("credential_source", source))
				reject(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
				return
			}

			if claimed := strings.TrimSpace(r.Header.Get(UserHeader)); claimed != "" && claimed != identity.UserID {
				warn(logger, r, "chat user mismatch",
					slog.String("user_id", identity.UserID),
					slog.String("claimed_user_id", claimed),
				)
				reject(w, r, http.StatusForbidden, "USER_MISMATCH",
					fmt.Sprintf("%s %q does not match the API key's user", UserHeader, claimed))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// ChatUser resolves who owns the chats touched by r: the authenticated
// identity when present, otherwise the X-User-ID header.
func ChatUser(r *http.Request) (string, error) {
	if identity, ok := IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.UserID) != "" {
		return identity.UserID, nil
	}
	if userID := strings.TrimSpace(r.Header.Get(UserHeader)); userID != "" {
		return userID, nil
	}
	return "", ErrNoChatUser
}

// Authorize fails unless the authenticated identity holds one of roles.
// Requests without an identity pass; whether auth is mandatory is decided
// by the handler setup.
func Authorize(ctx context.Context, roles ...string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("user %q lacks role, expected one of %q", identity.UserID, strings.Join(roles, ","))
}

func credential(r *http.Request) (key, source string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, "x-api-key"
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ""
	}
	return strings.TrimSpace(token), "bearer"
}

func warn(logger *slog.Logger, r *http.Request, msg string, attrs ...any) {
	if logger == nil {
		return
	}
	attrs = append(attrs, slog.String("path", r.URL.Path))
	logger.WarnContext(r.Context(), msg, append(observability.RequestAttrs(r.Context()), attrs...)...)
}

func reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
