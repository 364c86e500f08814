// Package querychatctl is the command line client for the querychat API.
package querychatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	UserID     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type apiRequest struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querychatctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querychat API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	userID := fs.String("user-id", defaults.UserID, "User ID header (used when auth is disabled)")
	databaseID := fs.Int64("db", 0, "database connection id for ask")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 90s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	request, err := buildRequest(fs.Args(), *databaseID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + request.path
	code, responseBody, err := doRequest(ctx, client, request, endpoint, *apiKey, *userID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(args []string, databaseID int64) (apiRequest, error) {
	command := strings.TrimSpace(args[0])
	rest := args[1:]
	switch command {
	case "health":
		return apiRequest{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return apiRequest{method: http.MethodGet, path: "/v1/ready"}, nil
	case "chats":
		return apiRequest{method: http.MethodGet, path: "/v1/chats"}, nil
	case "new-chat":
		return apiRequest{method: http.MethodPost, path: "/v1/chats"}, nil
	case "connections":
		return apiRequest{method: http.MethodGet, path: "/v1/connections"}, nil
	case "history", "queries", "export", "exports":
		chatID, err := chatArg(command, rest)
		if err != nil {
			return apiRequest{}, err
		}
		switch command {
		case "history":
			return apiRequest{method: http.MethodGet, path: "/v1/chats/" + chatID + "/messages"}, nil
		case "queries":
			return apiRequest{method: http.MethodGet, path: "/v1/chats/" + chatID + "/queries"}, nil
		case "exports":
			return apiRequest{method: http.MethodGet, path: "/v1/chats/" + chatID + "/exports"}, nil
		default:
			return apiRequest{method: http.MethodPost, path: "/v1/chats/" + chatID + "/export"}, nil
		}
	case "ask":
		chatID, err := chatArg(command, rest)
		if err != nil {
			return apiRequest{}, err
		}
		question := strings.TrimSpace(strings.Join(rest[1:], " "))
		if question == "" {
			return apiRequest{}, fmt.Errorf("ask requires a question")
		}
		body := map[string]any{"question": question}
		if databaseID > 0 {
			body["db_id"] = databaseID
		}
		return apiRequest{method: http.MethodPost, path: "/v1/chats/" + chatID + "/turns", body: body}, nil
	default:
		return apiRequest{}, fmt.Errorf("unknown command %q", command)
	}
}

func chatArg(command string, rest []string) (string, error) {
	if len(rest) < 1 {
		return "", fmt.Errorf("%s requires a chat id", command)
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(rest[0]), 10, 64)
	if err != nil || chatID <= 0 {
		return "", fmt.Errorf("invalid chat id %q", rest[0])
	}
	return strconv.FormatInt(chatID, 10), nil
}

func doRequest(ctx context.Context, client *http.Client, request apiRequest, url, apiKey, userID string) (int, []byte, error) {
	var body io.Reader
	if request.body != nil {
		payload, err := json.Marshal(request.body)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, request.method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(userID) != "" {
		req.Header.Set("X-User-ID", strings.TrimSpace(userID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querychatctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                      GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                       GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  chats                       GET /v1/chats")
	_, _ = fmt.Fprintln(w, "  new-chat                    POST /v1/chats")
	_, _ = fmt.Fprintln(w, "  ask <chat> <question...>    POST /v1/chats/{chat}/turns (use -db to select a database)")
	_, _ = fmt.Fprintln(w, "  history <chat>              GET /v1/chats/{chat}/messages")
	_, _ = fmt.Fprintln(w, "  queries <chat>              GET /v1/chats/{chat}/queries")
	_, _ = fmt.Fprintln(w, "  export <chat>               POST /v1/chats/{chat}/export")
	_, _ = fmt.Fprintln(w, "  exports <chat>              GET /v1/chats/{chat}/exports")
	_, _ = fmt.Fprintln(w, "  connections                 GET /v1/connections")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
