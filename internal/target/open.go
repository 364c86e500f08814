package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"
)

// Open returns a single-connection handle to t, verified with a ping. The
// caller owns the handle and must close it.
func Open(ctx context.Context, t Target) (*sql.DB, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	if t.Dialect.FileBased() {
		if _, err := os.Stat(t.Database); err != nil {
			return nil, &ConnectionError{Dialect: t.Dialect, Address: t.Address(), Err: err}
		}
	}
	dsn, err := t.dataSourceName()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(t.Dialect.driverName(), dsn)
	if err != nil {
		return nil, &ConnectionError{Dialect: t.Dialect, Address: t.Address(), Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, &ConnectionError{Dialect: t.Dialect, Address: t.Address(), Err: err}
	}
	return db, nil
}
