// Package memory is a process-local store used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/querychat/querychat/internal/conversation"
	"github.com/querychat/querychat/internal/store"
	"github.com/querychat/querychat/internal/target"
)

type Repository struct {
	mu          sync.Mutex
	now         func() time.Time
	nextID      int64
	chats       map[int64]store.Chat
	messages    map[int64][]store.Message
	connections map[int64]savedConnection
	records     []store.QueryRecord

	// InsertRecordErr, when set, is returned by InsertRecord.
	InsertRecordErr error
}

type savedConnection struct {
	connection store.Connection
	target     target.Target
}

var _ store.Repository = (*Repository)(nil)

func New() *Repository {
	return &Repository{
		now:         func() time.Time { return time.Now().UTC() },
		chats:       map[int64]store.Chat{},
		messages:    map[int64][]store.Message{},
		connections: map[int64]savedConnection{},
	}
}

func (r *Repository) HealthCheck(context.Context) error {
	return nil
}

func (r *Repository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *Repository) CreateChat(_ context.Context, userID, welcome string) (store.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat := store.Chat{ChatID: r.id(), UserID: userID, CreatedAt: r.now()}
	r.chats[chat.ChatID] = chat
	if welcome != "" {
		r.appendLocked(chat.ChatID, conversation.RoleAssistant, welcome)
		chat.FirstMessage = welcome
	}
	return chat, nil
}

func (r *Repository) GetChat(_ context.Context, chatID int64) (store.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return store.Chat{}, store.ErrNotFound
	}
	return chat, nil
}

func (r *Repository) ListChats(_ context.Context, userID string) ([]store.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats := make([]store.Chat, 0)
	for _, chat := range r.chats {
		if chat.UserID != userID {
			continue
		}
		if messages := r.messages[chat.ChatID]; len(messages) > 0 {
			chat.FirstMessage = messages[0].Content
		}
		chats = append(chats, chat)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ChatID > chats[j].ChatID })
	return chats, nil
}

func (r *Repository) ListMessages(_ context.Context, chatID int64) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]store.Message(nil), r.messages[chatID]...), nil
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

func (r *Repository) AppendTurn(_ context.Context, chatID int64, role conversation.Role, text string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[chatID]; !ok {
		return 0, store.ErrNotFound
	}
	return r.appendLocked(chatID, role, text), nil
}

func (r *Repository) appendLocked(chatID int64, role conversation.Role, text string) int64 {
	message := store.Message{MessageID: r.id(), ChatID: chatID, Role: role, Content: text, CreatedAt: r.now()}
	r.messages[chatID] = append(r.messages[chatID], message)
	return message.MessageID
}

func (r *Repository) GetTarget(_ context.Context, databaseID int64) (target.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved, ok := r.connections[databaseID]
	if !ok {
		return target.Target{}, store.ErrNotFound
	}
	return saved.target, nil
}

func (r *Repository) ListConnections(context.Context) ([]store.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connections := make([]store.Connection, 0, len(r.connections))
	for _, saved := range r.connections {
		connections = append(connections, saved.connection)
	}
	sort.Slice(connections, func(i, j int) bool {
		if connections[i].Name == connections[j].Name {
			return connections[i].DatabaseID < connections[j].DatabaseID
		}
		return connections[i].Name < connections[j].Name
	})
	return connections, nil
}

func (r *Repository) SaveConnection(_ context.Context, in store.SaveConnectionInput) (store.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved := in.Target
	saved.ID = r.id()
	connection := store.Connection{
		DatabaseID: saved.ID,
		Name:       saved.Name,
		Dialect:    string(saved.Dialect),
		CreatedBy:  in.CreatedBy,
		CreatedAt:  r.now(),
	}
	r.connections[saved.ID] = savedConnection{connection: connection, target: saved}
	return connection, nil
}

func (r *Repository) InsertRecord(_ context.Context, in store.InsertRecordInput) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.InsertRecordErr != nil {
		return 0, r.InsertRecordErr
	}
	record := store.QueryRecord{
		QueryID:      r.id(),
		ChatID:       in.ChatID,
		DatabaseID:   in.DatabaseID,
		Question:     in.Question,
		GeneratedSQL: in.GeneratedSQL,
		Result:       in.Result,
		Outcome:      in.Outcome,
		CreatedAt:    r.now(),
	}
	r.records = append(r.records, record)
	return record.QueryID, nil
}

func (r *Repository) ListRecords(_ context.Context, chatID int64) ([]store.QueryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]store.QueryRecord, 0)
	for _, record := range r.records {
		if record.ChatID != chatID {
			continue
		}
		if record.DatabaseID != nil {
			if saved, ok := r.connections[*record.DatabaseID]; ok {
				name := saved.connection.Name
				record.DatabaseName = &name
			}
		}
		records = append(records, record)
	}
	return records, nil
}
