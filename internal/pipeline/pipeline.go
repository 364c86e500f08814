// Package pipeline runs one conversational turn: describe the selected
// database, translate the question to SQL, execute it and explain the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querychat/querychat/internal/conversation"
	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/query"
	"github.com/querychat/querychat/internal/schema"
	"github.com/querychat/querychat/internal/store"
	"github.com/querychat/querychat/internal/target"
)

type State string

const (
	StateStart         State = "start"
	StateSchemaFetched State = "schema_fetched"
	StateSQLGenerated  State = "sql_generated"
	StateExecuted      State = "executed"
	StateAnswered      State = "answered"
	StateFailed        State = "failed"
)

var ErrNoDatabase = errors.New("no database selected")

const NoDatabaseMessage = "No database selected. Please select a database from the sidebar."

type SchemaDescriber interface {
	Describe(ctx context.Context, t target.Target) (schema.Description, error)
}

type StatementExecutor interface {
	Execute(ctx context.Context, t target.Target, sqlText string) (query.Outcome, error)
}

type Request struct {
	ChatID     int64  `json:"chat_id"`
	DatabaseID *int64 `json:"db_id,omitempty"`
	Question   string `json:"question"`
}

type Result struct {
	RunID    string  `json:"run_id"`
	State    State   `json:"state"`
	Answer   string  `json:"answer"`
	SQL      *string `json:"sql,omitempty"`
	Outcome  *string `json:"outcome,omitempty"`
	Failed   bool    `json:"failed"`
	Degraded bool    `json:"degraded,omitempty"`
	RecordID int64   `json:"query_id,omitempty"`
}

type Orchestrator struct {
	Chats       store.ChatStore
	Connections store.ConnectionStore
	Records     store.QueryAuditStore
	Schema      SchemaDescriber
	Translator  nl2sql.Translator
	Executor    StatementExecutor
	Synthesizer nl2sql.Synthesizer
	Logger      *slog.Logger
}

// RunTurn answers one question within a chat. It appends the question and
// exactly one assistant message to the chat, and writes one query record when
// the turn reaches StateAnswered. Failed turns return a non-nil error.
func (o *Orchestrator) RunTurn(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{State: StateFailed, Failed: true}, fmt.Errorf("question is required")
	}

	runID := uuid.NewString()
	ctx = observability.ContextWithRunID(ctx, runID)
	run := &turn{o: o, ctx: ctx, chatID: req.ChatID, runID: runID, state: StateStart, started: time.Now()}

	history, err := o.Chats.ListTurns(ctx, req.ChatID)
	if err != nil {
		return run.abort(fmt.Errorf("load chat history: %w", err))
	}
	if _, err := o.Chats.AppendTurn(ctx, req.ChatID, conversation.RoleUser, question); err != nil {
		return run.abort(fmt.Errorf("append question: %w", err))
	}

	if req.DatabaseID == nil {
		return run.fail(NoDatabaseMessage, ErrNoDatabase)
	}
	t, err := o.Connections.GetTarget(ctx, *req.DatabaseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return run.fail(fmt.Sprintf("Database connection %d does not exist.", *req.DatabaseID), fmt.Errorf("load database %d: %w", *req.DatabaseID, err))
		}
		return run.fail(fmt.Sprintf("Could not load the selected database connection: %v", err), fmt.Errorf("load database %d: %w", *req.DatabaseID, err))
	}

	description, err := o.Schema.Describe(ctx, t)
	if err != nil {
		return run.fail(fmt.Sprintf("Could not connect to the database: %v", err), fmt.Errorf("describe schema: %w", err))
	}
	run.advance(StateSchemaFetched)

	translated, err := o.Translator.Translate(ctx, nl2sql.Request{Schema: description, History: history, Question: question})
	if err != nil {
		return run.fail(fmt.Sprintf("Could not generate a SQL query: %v", err), fmt.Errorf("generate sql: %w", err))
	}
	sqlText := translated.Query.SQL
	run.advance(StateSQLGenerated)

	outcome, err := o.Executor.Execute(ctx, t, sqlText)
	if err != nil {
		outcome = query.Failure(sqlText, err.Error())
	}
	run.advance(StateExecuted)

	degraded := false
	answer, err := o.Synthesizer.SynthesizeAnswer(ctx, nl2sql.AnswerRequest{
		Schema:   description,
		History:  history,
		Question: question,
		SQL:      sqlText,
		Outcome:  outcome.Text,
	})
	if err != nil {
		o.logger().WarnContext(ctx, "answer synthesis failed; using raw outcome", append(observability.RequestAttrs(ctx), slog.Int64("chat_id", req.ChatID), slog.Any("error", err))...)
		answer = fallbackAnswer(sqlText, outcome)
		degraded = true
	}
	run.advance(StateAnswered)

	result := Result{
		RunID:    runID,
		State:    StateAnswered,
		Answer:   answer,
		SQL:      &sqlText,
		Outcome:  &outcome.Text,
		Failed:   outcome.Failed(),
		Degraded: degraded,
	}

	recordID, err := o.Records.InsertRecord(ctx, store.InsertRecordInput{
		ChatID:       req.ChatID,
		DatabaseID:   req.DatabaseID,
		Question:     question,
		GeneratedSQL: &sqlText,
		Result:       &outcome.Text,
		Outcome:      outcome.Kind.String(),
	})
	if err != nil {
		observability.IncrementRecordWriteFailure()
		o.logger().ErrorContext(ctx, "query record write failed", append(observability.RequestAttrs(ctx), slog.Int64("chat_id", req.ChatID), slog.Any("error", err))...)
	} else {
		result.RecordID = recordID
	}

	if _, err := o.Chats.AppendTurn(ctx, req.ChatID, conversation.RoleAssistant, answer); err != nil {
		run.finish()
		return result, fmt.Errorf("append answer: %w", err)
	}
	run.finish()
	return result, nil
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// fallbackAnswer is shown when the explanation model is unavailable.
func fallbackAnswer(sqlText string, outcome query.Outcome) string {
	if outcome.Failed() {
		return fmt.Sprintf("Error executing SQL query: %s\n\nThe query was: %s", outcome.Text, sqlText)
	}
	return fmt.Sprintf("The query returned:\n%s\n\nThe query was: %s", outcome.Text, sqlText)
}

type turn struct {
	o       *Orchestrator
	ctx     context.Context
	chatID  int64
	runID   string
	state   State
	started time.Time
}

func (t *turn) advance(next State) {
	t.o.logger().DebugContext(t.ctx, "turn state changed", append(observability.RequestAttrs(t.ctx),
		slog.Int64("chat_id", t.chatID),
		slog.String("from", string(t.state)),
		slog.String("state", string(next)),
	)...)
	t.state = next
}

// fail moves the turn to StateFailed and records message as the assistant's
// reply.
func (t *turn) fail(message string, cause error) (Result, error) {
	t.advance(StateFailed)
	result := Result{RunID: t.runID, State: StateFailed, Answer: message, Failed: true}
	if _, err := t.o.Chats.AppendTurn(t.ctx, t.chatID, conversation.RoleAssistant, message); err != nil {
		cause = errors.Join(cause, fmt.Errorf("append failure message: %w", err))
	}
	t.finish()
	return result, cause
}

// abort ends a turn whose chat could not be read or written.
func (t *turn) abort(cause error) (Result, error) {
	t.state = StateFailed
	t.finish()
	return Result{RunID: t.runID, State: StateFailed, Failed: true}, cause
}

func (t *turn) finish() {
	observability.ObserveTurn(string(t.state))
	t.o.logger().InfoContext(t.ctx, "turn finished", append(observability.RequestAttrs(t.ctx),
		slog.Int64("chat_id", t.chatID),
		slog.String("state", string(t.state)),
		slog.Int64("duration_ms", time.Since(t.started).Milliseconds()),
	)...)
}
