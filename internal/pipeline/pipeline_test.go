package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/querychat/querychat/internal/conversation"
	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/query"
	"github.com/querychat/querychat/internal/schema"
	"github.com/querychat/querychat/internal/store"
	"github.com/querychat/querychat/internal/store/memory"
	"github.com/querychat/querychat/internal/target"
)

func TestRunTurnAnswersQuestion(t *testing.T) {
	h := newHarness(t)
	h.sqlModel.replies = []reply{{text: "```sql\nSELECT Name FROM Artist LIMIT 10;\n```"}}
	h.explainModel.replies = []reply{{text: "The first artists are AC/DC and Accept."}}

	result, err := h.run("Name 10 artists")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if result.State != StateAnswered || result.Failed || result.Degraded {
		t.Fatalf("result = %+v", result)
	}
	if result.SQL == nil || *result.SQL != "SELECT Name FROM Artist LIMIT 10;" {
		t.Fatalf("SQL = %v", result.SQL)
	}
	if result.Outcome == nil || !strings.Contains(*result.Outcome, "AC/DC") {
		t.Fatalf("Outcome = %v", result.Outcome)
	}
	if result.Answer != "The first artists are AC/DC and Accept." {
		t.Fatalf("Answer = %q", result.Answer)
	}
	if result.RunID == "" {
		t.Fatal("RunID is empty")
	}

	records := h.records()
	if len(records) != 1 {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Result == nil || *records[0].Result != *result.Outcome || records[0].Outcome != "success" {
		t.Fatalf("record = %+v", records[0])
	}
	if records[0].DatabaseID == nil || *records[0].DatabaseID != h.databaseID {
		t.Fatalf("record database = %v", records[0].DatabaseID)
	}

	turns := h.turns()
	if len(turns) != 3 {
		t.Fatalf("turns = %+v", turns)
	}
	if turns[1].Role != conversation.RoleUser || turns[1].Text != "Name 10 artists" {
		t.Fatalf("question turn = %+v", turns[1])
	}
	if turns[2].Role != conversation.RoleAssistant || turns[2].Text != result.Answer {
		t.Fatalf("answer turn = %+v", turns[2])
	}
}

func TestRunTurnHistoryExcludesCurrentQuestion(t *testing.T) {
	h := newHarness(t)
	h.sqlModel.replies = []reply{{text: "SHOW TABLES;"}}
	h.explainModel.replies = []reply{{text: "There is one table."}}

	if _, err := h.run("List tables"); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	prompt := h.sqlModel.prompts[0]
	if !strings.Contains(prompt, "AI: "+store.WelcomeMessage) {
		t.Fatalf("prompt is missing history:\n%s", prompt)
	}
	if strings.Contains(prompt, "Human: List tables") {
		t.Fatalf("history contains the current question:\n%s", prompt)
	}
	if !strings.Contains(prompt, "CREATE TABLE") || !strings.Contains(prompt, "Artist") {
		t.Fatalf("prompt is missing schema:\n%s", prompt)
	}
}

func TestRunTurnExecutesDestructiveStatement(t *testing.T) {
	h := newHarness(t)
	h.sqlModel.replies = []reply{{text: "DROP TABLE Users;"}}
	h.explainModel.replies = []reply{{text: "The Users table was dropped."}}

	result, err := h.run("Drop the users table")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if result.State != StateAnswered || result.Failed {
		t.Fatalf("result = %+v", result)
	}
	if len(h.records()) != 1 {
		t.Fatalf("records = %+v", h.records())
	}

	description, err := schema.NewIntrospector(5*time.Second, 0).Describe(context.Background(), h.target)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	for _, name := range description.TableNames() {
		if name == "Users" {
			t.Fatalf("Users table still exists: %v", description.TableNames())
		}
	}
}

func TestRunTurnFailsWhenGenerationFails(t *testing.T) {
	h := newHarness(t)
	h.sqlModel.replies = []reply{{err: errors.New("network unreachable")}}

	result, err := h.run("Name 10 artists")
	var genErr *nl2sql.GenerationError
	if !errors.As(err, &genErr) || genErr.Stage != nl2sql.StageSQL {
		t.Fatalf("RunTurn() error = %v, want sql GenerationError", err)
	}
	if result.State != StateFailed || !result.Failed || result.SQL != nil {
		t.Fatalf("result = %+v", result)
	}
	if len(h.records()) != 0 {
		t.Fatalf("records = %+v", h.records())
	}
	if len(h.explainModel.prompts) != 0 {
		t.Fatal("explanation model should not be called")
	}
	turns := h.turns()
	if len(turns) != 3 || turns[2].Role != conversation.RoleAssistant || !strings.Contains(turns[2].Text, "network unreachable") {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestRunTurnExplainsExecutionFailure(t *testing.T) {
	h := newHarness(t)
	h.sqlModel.replies = []reply{{text: "SELECT Nme FROM Artist LIMIT 10;"}}
	h.explainModel.respond = func(prompt string) string {
		_, response, _ := strings.Cut(prompt, "SQL Response: ")
		return "The query failed: " + response
	}

	result, err := h.run("Name 10 artists")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if result.State != StateAnswered || !result.Failed {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Answer, "Nme") {
		t.Fatalf("Answer = %q", result.Answer)
	}
	records := h.records()
	if len(records) != 1 || records[0].Result == nil || !strings.Contains(*records[0].Result, "Nme") || records[0].Outcome != "failure" {
		t.Fatalf("records = %+v", records)
	}
}

func TestRunTurnWithoutDatabase(t *testing.T) {
	h := newHarness(t)

	result, err := h.orchestrator.RunTurn(context.Background(), Request{ChatID: h.chatID, Question: "List tables"})
	if !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("RunTurn() error = %v, want ErrNoDatabase", err)
	}
	if result.State != StateFailed || result.Answer != NoDatabaseMessage {
		t.Fatalf("result = %+v", result)
	}
	if len(h.records()) != 0 || len(h.sqlModel.prompts) != 0 {
		t.Fatal("no record or model call expected")
	}
	turns := h.turns()
	if len(turns) != 3 || turns[2].Text != NoDatabaseMessage {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestRunTurnUnknownDatabase(t *testing.T) {
	h := newHarness(t)
	missing := int64(9999)

	result, err := h.orchestrator.RunTurn(context.Background(), Request{ChatID: h.chatID, DatabaseID: &missing, Question: "List tables"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("RunTurn() error = %v, want ErrNotFound", err)
	}
	if result.State != StateFailed || len(h.records()) != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunTurnUnreachableDatabase(t *testing.T) {
	h := newHarness(t)
	gone, err := h.repo.SaveConnection(context.Background(), store.SaveConnectionInput{Target: target.Target{
		Name:     "gone",
		Dialect:  target.DialectDuckDB,
		Database: filepath.Join(t.TempDir(), "missing.duckdb"),
	}})
	if err != nil {
		t.Fatalf("SaveConnection() error = %v", err)
	}

	result, err := h.orchestrator.RunTurn(context.Background(), Request{ChatID: h.chatID, DatabaseID: &gone.DatabaseID, Question: "List tables"})
	var connErr *target.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("RunTurn() error = %v, want ConnectionError", err)
	}
	if result.State != StateFailed || !strings.HasPrefix(result.Answer, "Could not connect to the database") {
		t.Fatalf("result = %+v", result)
	}
	if len(h.records()) != 0 || len(h.sqlModel.prompts) != 0 {
		t.Fatal("no record or model call expected")
	}
}

func TestRunTurnDegradesWhenExplanationFails(t *testing.T) {
	h := newHarness(t)
	h.sqlModel.replies = []reply{{text: "SELECT Nme FROM Artist"}}
	h.explainModel.replies = []reply{{err: context.DeadlineExceeded}}

	result, err := h.run("Name artists")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if result.State != StateAnswered || !result.Degraded {
		t.Fatalf("result = %+v", result)
	}
	if !strings.HasPrefix(result.Answer, "Error executing SQL query: ") || !strings.HasSuffix(result.Answer, "The query was: SELECT Nme FROM Artist") {
		t.Fatalf("Answer = %q", result.Answer)
	}
	if len(h.records()) != 1 {
		t.Fatalf("records = %+v", h.records())
	}
}

func TestRunTurnFoldsExecutionConnectionError(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.Executor = executorFunc(func(ctx context.Context, tg target.Target, sqlText string) (query.Outcome, error) {
		return query.Outcome{}, &target.ConnectionError{Dialect: tg.Dialect, Address: tg.Address(), Err: errors.New("connection reset")}
	})
	h.sqlModel.replies = []reply{{text: "SELECT 1"}}
	h.explainModel.replies = []reply{{text: "The database went away."}}

	result, err := h.run("Ping")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if result.State != StateAnswered || !result.Failed || !strings.Contains(*result.Outcome, "connection reset") {
		t.Fatalf("result = %+v", result)
	}
	if len(h.records()) != 1 {
		t.Fatalf("records = %+v", h.records())
	}
}

func TestRunTurnSurvivesRecordWriteFailure(t *testing.T) {
	h := newHarness(t)
	h.repo.InsertRecordErr = errors.New("audit table is read only")
	h.sqlModel.replies = []reply{{text: "SELECT Name FROM Artist"}}
	h.explainModel.replies = []reply{{text: "Three artists."}}

	result, err := h.run("Name artists")
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if result.State != StateAnswered || result.RecordID != 0 || result.Answer != "Three artists." {
		t.Fatalf("result = %+v", result)
	}
	if turns := h.turns(); turns[len(turns)-1].Text != "Three artists." {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestRunTurnRejectsEmptyQuestion(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run("   "); err == nil {
		t.Fatal("expected error")
	}
	if len(h.turns()) != 1 {
		t.Fatalf("turns = %+v", h.turns())
	}
}

type harness struct {
	t            *testing.T
	repo         *memory.Repository
	orchestrator *Orchestrator
	sqlModel     *scriptedModel
	explainModel *scriptedModel
	target       target.Target
	chatID       int64
	databaseID   int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "music.duckdb")
	db, err := sql.Open("duckdb", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	for _, statement := range []string{
		`CREATE TABLE Artist (ArtistId INTEGER, Name VARCHAR)`,
		`INSERT INTO Artist VALUES (1, 'AC/DC'), (2, 'Accept'), (3, 'Aerosmith')`,
		`CREATE TABLE Users (UserId INTEGER, Email VARCHAR)`,
	} {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("seed %q error = %v", statement, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close seed db: %v", err)
	}

	repo := memory.New()
	connection, err := repo.SaveConnection(ctx, store.SaveConnectionInput{Target: target.Target{Name: "music", Dialect: target.DialectDuckDB, Database: path}})
	if err != nil {
		t.Fatalf("SaveConnection() error = %v", err)
	}
	chat, err := repo.CreateChat(ctx, "u1", store.WelcomeMessage)
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	sqlModel := &scriptedModel{name: "sql-model"}
	explainModel := &scriptedModel{name: "explain-model"}
	return &harness{
		t:    t,
		repo: repo,
		orchestrator: &Orchestrator{
			Chats:       repo,
			Connections: repo,
			Records:     repo,
			Schema:      schema.NewIntrospector(5*time.Second, 2),
			Translator:  nl2sql.NewTranslator(nl2sql.NewGenerator(sqlModel)),
			Executor:    query.NewExecutor(5*time.Second, 100, query.AllowAll()),
			Synthesizer: nl2sql.NewExplainer(explainModel),
		},
		sqlModel:     sqlModel,
		explainModel: explainModel,
		target:       target.Target{ID: connection.DatabaseID, Name: "music", Dialect: target.DialectDuckDB, Database: path},
		chatID:       chat.ChatID,
		databaseID:   connection.DatabaseID,
	}
}

func (h *harness) run(question string) (Result, error) {
	databaseID := h.databaseID
	return h.orchestrator.RunTurn(context.Background(), Request{ChatID: h.chatID, DatabaseID: &databaseID, Question: question})
}

func (h *harness) records() []store.QueryRecord {
	h.t.Helper()
	records, err := h.repo.ListRecords(context.Background(), h.chatID)
	if err != nil {
		h.t.Fatalf("ListRecords() error = %v", err)
	}
	return records
}

func (h *harness) turns() []conversation.Turn {
	h.t.Helper()
	turns, err := h.repo.ListTurns(context.Background(), h.chatID)
	if err != nil {
		h.t.Fatalf("ListTurns() error = %v", err)
	}
	return turns
}

type reply struct {
	text string
	err  error
}

type scriptedModel struct {
	mu      sync.Mutex
	name    string
	replies []reply
	respond func(prompt string) string
	prompts []string
}

func (m *scriptedModel) Model() string { return m.name }

func (m *scriptedModel) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.respond != nil {
		return m.respond(prompt), nil
	}
	if len(m.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return next.text, next.err
}

type executorFunc func(ctx context.Context, t target.Target, sqlText string) (query.Outcome, error)

func (f executorFunc) Execute(ctx context.Context, t target.Target, sqlText string) (query.Outcome, error) {
	return f(ctx, t, sqlText)
}
