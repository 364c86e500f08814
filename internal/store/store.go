// Package store defines the persistence contracts for chats, saved target
// connections and the query audit trail.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/querychat/querychat/internal/conversation"
	"github.com/querychat/querychat/internal/target"
)

var ErrNotFound = errors.New("store: not found")

const WelcomeMessage = "Hello! I am a SQL Assistant. Ask me anything about your database."

type ChatStore interface {
	CreateChat(ctx context.Context, userID, welcome string) (Chat, error)
	GetChat(ctx context.Context, chatID int64) (Chat, error)
	ListChats(ctx context.Context, userID string) ([]Chat, error)
	ListMessages(ctx context.Context, chatID int64) ([]Message, error)
	ListTurns(ctx context.Context, chatID int64) ([]conversation.Turn, error)
	AppendTurn(ctx context.Context, chatID int64, role conversation.Role, text string) (int64, error)
}

type ConnectionStore interface {
	GetTarget(ctx context.Context, databaseID int64) (target.Target, error)
	ListConnections(ctx context.Context) ([]Connection, error)
	SaveConnection(ctx context.Context, in SaveConnectionInput) (Connection, error)
}

// QueryAuditStore is append-only: records are never updated or deleted.
type QueryAuditStore interface {
	InsertRecord(ctx context.Context, in InsertRecordInput) (int64, error)
	ListRecords(ctx context.Context, chatID int64) ([]QueryRecord, error)
}

type Repository interface {
	HealthCheck(ctx context.Context) error
	ChatStore
	ConnectionStore
	QueryAuditStore
}

type Chat struct {
	ChatID       int64     `json:"chat_id"`
	UserID       string    `json:"user_id"`
	FirstMessage string    `json:"first_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Message struct {
	MessageID int64             `json:"message_id"`
	ChatID    int64             `json:"chat_id"`
	Role      conversation.Role `json:"-"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
}

// Connection is a saved target without its credentials.
type Connection struct {
	DatabaseID int64     `json:"db_id"`
	Name       string    `json:"db_name"`
	Dialect    string    `json:"db_type"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type SaveConnectionInput struct {
	Target    target.Target
	CreatedBy string
}

type InsertRecordInput struct {
	ChatID       int64
	DatabaseID   *int64
	Question     string
	GeneratedSQL *string
	Result       *string
	Outcome      string
}

type QueryRecord struct {
	QueryID      int64     `json:"query_id"`
	ChatID       int64     `json:"chat_id"`
	DatabaseID   *int64    `json:"db_id,omitempty"`
	DatabaseName *string   `json:"db_name,omitempty"`
	Question     string    `json:"natural_language_query"`
	GeneratedSQL *string   `json:"generated_sql,omitempty"`
	Result       *string   `json:"result,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
