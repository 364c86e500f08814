package migrations

import (
	"context"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_saved_queries.up.sql":   {Data: []byte("CREATE TABLE saved_query (id INT);")},
		"sql/000002_saved_queries.down.sql": {Data: []byte("DROP TABLE saved_query;")},
		"sql/000001_one.up.sql":             {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql":           {Data: []byte("SELECT -1;")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
	if items[1].Name != "saved_queries" || items[1].Label() != "000002_saved_queries" {
		t.Fatalf("items[1] = %+v", items[1])
	}
	if !reflect.DeepEqual(items[1].Tables, []string{"saved_query"}) {
		t.Fatalf("items[1].Tables = %v", items[1].Tables)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "000001_one is missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsRejectsConflictingNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_uno.down.sql": {Data: []byte("SELECT -1;")},
	}
	if _, err := loadMigrations(fsys); err == nil || !strings.Contains(err.Error(), "conflicting names") {
		t.Fatalf("loadMigrations() error = %v, want conflicting names", err)
	}
}

func TestEmbeddedMigrationsDescribeChatStoreTables(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) == 0 || items[0].Version != 1 || items[0].Name != "init" {
		t.Fatalf("items = %+v", items)
	}
	want := []string{"chat", "message", "database_connection", "query"}
	if !reflect.DeepEqual(items[0].Tables, want) {
		t.Fatalf("init tables = %v, want %v", items[0].Tables, want)
	}
}

func TestUpAppliesOnlyPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("CREATE TABLE one (id INT);")},
		"sql/000001_one.down.sql": {Data: []byte("DROP TABLE one;")},
		"sql/000002_two.up.sql":   {Data: []byte("CREATE TABLE two (id INT);")},
		"sql/000002_two.down.sql": {Data: []byte("DROP TABLE two;")},
	}
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	expectHistory(mock, sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE two (id INT);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO querychat_schema_migrations (version, name) VALUES ($1, $2)")).
		WithArgs(int64(2), "two").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := (&Runner{fsys: fsys}).Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestDownRollsBackNewestAppliedMigration(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("CREATE TABLE one (id INT);")},
		"sql/000001_one.down.sql": {Data: []byte("DROP TABLE one;")},
		"sql/000002_two.up.sql":   {Data: []byte("CREATE TABLE two (id INT);")},
		"sql/000002_two.down.sql": {Data: []byte("DROP TABLE two;")},
	}
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	now := time.Now()
	expectHistory(mock, sqlmock.NewRows([]string{"version", "applied_at"}).
		AddRow(int64(1), now).
		AddRow(int64(2), now))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE two;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM querychat_schema_migrations WHERE version = $1")).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolledBack, err := (&Runner{fsys: fsys}).Down(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("rolledBack = %d", rolledBack)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestStatusReportsAppliedAndPendingSteps(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_init.up.sql":          {Data: []byte("CREATE TABLE IF NOT EXISTS chat (id INT);\nCREATE TABLE message (id INT);")},
		"sql/000001_init.down.sql":        {Data: []byte("DROP TABLE message; DROP TABLE chat;")},
		"sql/000002_query_index.up.sql":   {Data: []byte("CREATE INDEX query_chat_idx ON query (chat_id);")},
		"sql/000002_query_index.down.sql": {Data: []byte("DROP INDEX query_chat_idx;")},
	}
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	appliedAt := time.Date(2026, 2, 19, 9, 5, 0, 0, time.UTC)
	expectHistory(mock, sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), appliedAt))

	statuses, err := (&Runner{fsys: fsys}).Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d", len(statuses))
	}
	if got, want := statuses[0].String(), "000001_init  applied 2026-02-19T09:05:00Z  tables: chat, message"; got != want {
		t.Fatalf("statuses[0] = %q, want %q", got, want)
	}
	if got, want := statuses[1].String(), "000002_query_index  pending"; got != want {
		t.Fatalf("statuses[1] = %q, want %q", got, want)
	}
}

func TestPendingListsUnappliedVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
	}
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	expectHistory(mock, sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(int64(1), time.Now()))

	pending, err := (&Runner{fsys: fsys}).Pending(context.Background(), db)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0] != 2 {
		t.Fatalf("pending = %v", pending)
	}
}

func expectHistory(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS querychat_schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, applied_at FROM querychat_schema_migrations")).
		WillReturnRows(rows)
}
