package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/querychat/querychat/internal/query"
	"github.com/querychat/querychat/internal/target"
)

const columnsQueryInformationSchema = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = %s
ORDER BY table_name, ordinal_position`

const columnsQuerySQLite = `
SELECT m.name, p.name, p.type, CASE WHEN p."notnull" = 0 THEN 'YES' ELSE 'NO' END
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

type OpenFunc func(ctx context.Context, t target.Target) (*sql.DB, error)

// Introspector reads a fresh Description on every call. Nothing is cached
// so schema changes between turns are always visible.
type Introspector struct {
	Timeout    time.Duration
	SampleRows int
	Open       OpenFunc
}

func NewIntrospector(timeout time.Duration, sampleRows int) *Introspector {
	return &Introspector{Timeout: timeout, SampleRows: sampleRows, Open: target.Open}
}

func (i *Introspector) Describe(ctx context.Context, t target.Target) (Description, error) {
	if i.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}
	open := i.Open
	if open == nil {
		open = target.Open
	}

	db, err := open(ctx, t)
	if err != nil {
		return Description{}, err
	}
	defer func() { _ = db.Close() }()

	// Open is lazy for most drivers, so the catalog read is the first round
	// trip. Any failure there means the target is unusable, except caller
	// cancellation.
	description, err := DescribeDB(ctx, db, t.Dialect, i.SampleRows)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Description{}, err
		}
		return Description{}, &target.ConnectionError{Dialect: t.Dialect, Address: t.Address(), Err: err}
	}
	return description, nil
}

// DescribeDB reads tables and columns through an already open handle.
func DescribeDB(ctx context.Context, db *sql.DB, dialect target.Dialect, sampleRows int) (Description, error) {
	rows, err := db.QueryContext(ctx, columnsQuery(dialect))
	if err != nil {
		return Description{}, fmt.Errorf("list columns: %w", err)
	}

	tables := make([]Table, 0)
	for rows.Next() {
		var tableName, column, dataType, nullable string
		if err := rows.Scan(&tableName, &column, &dataType, &nullable); err != nil {
			_ = rows.Close()
			return Description{}, fmt.Errorf("scan column: %w", err)
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != tableName {
			tables = append(tables, Table{Name: tableName})
		}
		current := &tables[len(tables)-1]
		current.Columns = append(current.Columns, Column{
			Name:     column,
			Type:     strings.ToUpper(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Description{}, fmt.Errorf("iterate columns: %w", err)
	}
	_ = rows.Close()

	if sampleRows > 0 {
		for idx := range tables {
			samples, err := readSampleRows(ctx, db, dialect, tables[idx].Name, sampleRows)
			if err != nil {
				if ctx.Err() != nil {
					return Description{}, fmt.Errorf("sample rows for %q: %w", tables[idx].Name, err)
				}
				continue
			}
			tables[idx].SampleRows = samples
		}
	}

	return Description{Dialect: dialect, Tables: tables}, nil
}

func columnsQuery(dialect target.Dialect) string {
	switch dialect {
	case target.DialectSQLite:
		return columnsQuerySQLite
	case target.DialectMySQL:
		return fmt.Sprintf(columnsQueryInformationSchema, "DATABASE()")
	default:
		return fmt.Sprintf(columnsQueryInformationSchema, "current_schema()")
	}
}

func readSampleRows(ctx context.Context, db *sql.DB, dialect target.Dialect, table string, limit int) ([][]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(dialect, table), limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	samples := make([][]string, 0, limit)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		samples = append(samples, query.FormatValues(values))
	}
	return samples, rows.Err()
}
