package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/querychat/querychat/internal/conversation"
	"github.com/querychat/querychat/internal/store"
	"github.com/querychat/querychat/internal/target"
)

type Repository struct {
	db *sql.DB
}

var _ store.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

// CreateChat inserts the chat and its assistant welcome message in one
// transaction.
func (r *Repository) CreateChat(ctx context.Context, userID, welcome string) (store.Chat, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Chat{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	chat := store.Chat{UserID: userID}
	if err := tx.QueryRowContext(ctx, `
INSERT INTO chat (user_id)
VALUES ($1)
RETURNING chat_id, created_at`, userID).Scan(&chat.ChatID, &chat.CreatedAt); err != nil {
		return store.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	if welcome != "" {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO message (chat_id, role, content)
VALUES ($1, $2, $3)`, chat.ChatID, conversation.RoleAssistant.String(), welcome); err != nil {
			return store.Chat{}, fmt.Errorf("insert welcome message: %w", err)
		}
		chat.FirstMessage = welcome
	}
	if err := tx.Commit(); err != nil {
		return store.Chat{}, fmt.Errorf("commit tx: %w", err)
	}
	return chat, nil
}

func (r *Repository) GetChat(ctx context.Context, chatID int64) (store.Chat, error) {
	var chat store.Chat
	if err := r.db.QueryRowContext(ctx, `
SELECT chat_id, user_id, created_at
FROM chat
WHERE chat_id = $1`, chatID).Scan(&chat.ChatID, &chat.UserID, &chat.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Chat{}, store.ErrNotFound
		}
		return store.Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

func (r *Repository) ListChats(ctx context.Context, userID string) ([]store.Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT c.chat_id, c.user_id, c.created_at,
       COALESCE((SELECT m.content FROM message m
                 WHERE m.chat_id = c.chat_id
                 ORDER BY m.created_at ASC, m.message_id ASC
                 LIMIT 1), '') AS first_message
FROM chat c
WHERE c.user_id = $1
ORDER BY c.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chats := make([]store.Chat, 0)
	for rows.Next() {
		var chat store.Chat
		if err := rows.Scan(&chat.ChatID, &chat.UserID, &chat.CreatedAt, &chat.FirstMessage); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return chats, nil
}

func (r *Repository) ListMessages(ctx context.Context, chatID int64) ([]store.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT message_id, chat_id, role, content, created_at
FROM message
WHERE chat_id = $1
ORDER BY created_at ASC, message_id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]store.Message, 0)
	for rows.Next() {
		var (
			message store.Message
			role    string
		)
		if err := rows.Scan(&message.MessageID, &message.ChatID, &role, &message.Content, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		parsed, err := conversation.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", message.MessageID, err)
		}
		message.Role = parsed
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func (r *Repository) ListTurns(ctx context.Context, chatID int64) ([]conversation.Turn, error) {
	messages, err := r.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	turns := make([]conversation.Turn, 0, len(messages))
	for _, message := range messages {
		turns = append(turns, conversation.Turn{Role: message.Role, Text: message.Content})
	}
	return turns, nil
}

func (r *Repository) AppendTurn(ctx context.Context, chatID int64, role conversation.Role, text string) (int64, error) {
	var messageID int64
	if err := r.db.QueryRowContext(ctx, `
INSERT INTO message (chat_id, role, content)
VALUES ($1, $2, $3)
RETURNING message_id`, chatID, role.String(), text).Scan(&messageID); err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	return messageID, nil
}

func (r *Repository) GetTarget(ctx context.Context, databaseID int64) (target.Target, error) {
	var name, dialect, info string
	if err := r.db.QueryRowContext(ctx, `
SELECT db_name, db_type, connection_info
FROM database_connection
WHERE db_id = $1`, databaseID).Scan(&name, &dialect, &info); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return target.Target{}, store.ErrNotFound
		}
		return target.Target{}, fmt.Errorf("get database connection: %w", err)
	}
	resolved, err := target.FromConnectionInfo(databaseID, name, dialect, info)
	if err != nil {
		return target.Target{}, fmt.Errorf("database connection %d: %w", databaseID, err)
	}
	return resolved, nil
}

func (r *Repository) ListConnections(ctx context.Context) ([]store.Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT db_id, db_name, db_type, created_by, created_at
FROM database_connection
ORDER BY db_name ASC, db_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list database connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	connections := make([]store.Connection, 0)
	for rows.Next() {
		var connection store.Connection
		if err := rows.Scan(&connection.DatabaseID, &connection.Name, &connection.Dialect, &connection.CreatedBy, &connection.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan database connection row: %w", err)
		}
		connections = append(connections, connection)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate database connection rows: %w", err)
	}
	return connections, nil
}

func (r *Repository) SaveConnection(ctx context.Context, in store.SaveConnectionInput) (store.Connection, error) {
	info, err := target.EncodeConnectionInfo(in.Target)
	if err != nil {
		return store.Connection{}, err
	}
	connection := store.Connection{
		Name:      in.Target.Name,
		Dialect:   string(in.Target.Dialect),
		CreatedBy: in.CreatedBy,
	}
	if err := r.db.QueryRowContext(ctx, `
INSERT INTO database_connection (db_name, db_type, connection_info, created_by)
VALUES ($1, $2, $3::jsonb, $4)
RETURNING db_id, created_at`, connection.Name, connection.Dialect, info, in.CreatedBy).Scan(&connection.DatabaseID, &connection.CreatedAt); err != nil {
		return store.Connection{}, fmt.Errorf("save database connection: %w", err)
	}
	return connection, nil
}

func (r *Repository) InsertRecord(ctx context.Context, in store.InsertRecordInput) (int64, error) {
	var queryID int64
	if err := r.db.QueryRowContext(ctx, `
INSERT INTO query (chat_id, db_id, natural_language_query, generated_sql, result, outcome)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
RETURNING query_id`,
		in.ChatID,
		in.DatabaseID,
		in.Question,
		in.GeneratedSQL,
		in.Result,
		in.Outcome,
	).Scan(&queryID); err != nil {
		return 0, fmt.Errorf("insert query record: %w", err)
	}
	return queryID, nil
}

func (r *Repository) ListRecords(ctx context.Context, chatID int64) ([]store.QueryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT q.query_id, q.chat_id, q.db_id, db.db_name, q.natural_language_query,
       q.generated_sql, q.result, COALESCE(q.outcome, ''), q.created_at
FROM query q
LEFT JOIN database_connection db ON q.db_id = db.db_id
WHERE q.chat_id = $1
ORDER BY q.created_at ASC, q.query_id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]store.QueryRecord, 0)
	for rows.Next() {
		var (
			record    store.QueryRecord
			createdAt time.Time
		)
		if err := rows.Scan(
			&record.QueryID,
			&record.ChatID,
			&record.DatabaseID,
			&record.DatabaseName,
			&record.Question,
			&record.GeneratedSQL,
			&record.Result,
			&record.Outcome,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan query record row: %w", err)
		}
		record.CreatedAt = createdAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query record rows: %w", err)
	}
	return records, nil
}
