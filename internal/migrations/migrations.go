// Package migrations evolves the chat store schema (chats, messages, saved
// connections and query records) from embedded SQL files named
// <version>_<name>.up.sql and <version>_<name>.down.sql.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const historyTable = "querychat_schema_migrations"

var (
	fileNamePattern    = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)
	createTablePattern = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?([a-z_][a-z0-9_]*)`)
)

// Migration is one schema step of the chat store.
type Migration struct {
	Version int64
	Name    string
	// Tables lists the store tables the up script creates.
	Tables []string
	up     string
	down   string
}

// Label renders the migration as 000001_init.
func (m Migration) Label() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

// Status reports whether a migration has been applied to a store database.
type Status struct {
	Migration
	Applied   bool
	AppliedAt time.Time
}

func (s Status) String() string {
	state := "pending"
	if s.Applied {
		state = "applied " + s.AppliedAt.UTC().Format(time.RFC3339)
	}
	if len(s.Tables) == 0 {
		return fmt.Sprintf("%s  %s", s.Label(), state)
	}
	return fmt.Sprintf("%s  %s  tables: %s", s.Label(), state, strings.Join(s.Tables, ", "))
}

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// Status lists every known migration in version order with its applied state.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	migrations, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, err
	}
	applied, err := appliedAt(ctx, db)
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(migrations))
	for _, m := range migrations {
		at, ok := applied[m.Version]
		statuses = append(statuses, Status{Migration: m, Applied: ok, AppliedAt: at})
	}
	return statuses, nil
}

// Pending lists the migration versions not yet applied to db.
func (r *Runner) Pending(ctx context.Context, db *sql.DB) ([]int64, error) {
	statuses, err := r.Status(ctx, db)
	if err != nil {
		return nil, err
	}
	pending := make([]int64, 0)
	for _, status := range statuses {
		if !status.Applied {
			pending = append(pending, status.Version)
		}
	}
	return pending, nil
}

// Up applies pending migrations oldest first. steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	statuses, err := r.Status(ctx, db)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, status := range statuses {
		if status.Applied {
			continue
		}
		if steps > 0 && count >= steps {
			break
		}
		if err := runStep(ctx, db, status.Migration, true); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Down rolls back applied migrations newest first. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	migrations, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}
	applied, err := appliedAt(ctx, db)
	if err != nil {
		return 0, err
	}
	known := make(map[int64]Migration, len(migrations))
	for _, m := range migrations {
		known[m.Version] = m
	}
	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	count := 0
	for _, version := range versions {
		if count >= steps {
			break
		}
		m, ok := known[version]
		if !ok {
			return count, fmt.Errorf("applied migration %d is missing from source", version)
		}
		if err := runStep(ctx, db, m, false); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// runStep executes one script and records it in the history table inside a
// single transaction.
func runStep(ctx context.Context, db *sql.DB, m Migration, up bool) error {
	script, record, verb := m.up, `INSERT INTO `+historyTable+` (version, name) VALUES ($1, $2)`, "apply"
	args := []any{m.Version, m.Name}
	if !up {
		script, record, verb = m.down, `DELETE FROM `+historyTable+` WHERE version = $1`, "roll back"
		args = args[:1]
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", verb, m.Label(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s %s: %w", verb, m.Label(), err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s %s: %w", verb, m.Label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", verb, m.Label(), err)
	}
	return nil
}

// appliedAt creates the history table when missing and returns the applied
// versions with their timestamps.
func appliedAt(ctx context.Context, db *sql.DB) (map[int64]time.Time, error) {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+historyTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, fmt.Errorf("ensure migration history: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM `+historyTable)
	if err != nil {
		return nil, fmt.Errorf("query migration history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]time.Time{}
	for rows.Next() {
		var (
			version int64
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan migration history: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read migration history: %w", err)
	}
	return applied, nil
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := fileNamePattern.FindStringSubmatch(path.Base(entry.Name()))
		if matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = m
		} else if m.Name != matches[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, m.Name, matches[2])
		}
		if matches[3] == "up" {
			m.up = string(script)
			m.Tables = createdTables(m.up)
		} else {
			m.down = string(script)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.up) == "" {
			return nil, fmt.Errorf("migration %s is missing up SQL", m.Label())
		}
		if strings.TrimSpace(m.down) == "" {
			return nil, fmt.Errorf("migration %s is missing down SQL", m.Label())
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func createdTables(script string) []string {
	var tables []string
	for _, match := range createTablePattern.FindAllStringSubmatch(script, -1) {
		tables = append(tables, strings.ToLower(match[1]))
	}
	return tables
}
