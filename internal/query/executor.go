package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/target"
)

type OpenFunc func(ctx context.Context, t target.Target) (*sql.DB, error)

// Executor opens a fresh connection for every statement and closes it before
// returning.
type Executor struct {
	Timeout time.Duration
	MaxRows int
	Policy  Policy
	Open    OpenFunc
}

func NewExecutor(timeout time.Duration, maxRows int, policy Policy) *Executor {
	return &Executor{Timeout: timeout, MaxRows: maxRows, Policy: policy, Open: target.Open}
}

// Execute runs sqlText against t. The returned error is non-nil only when the
// target cannot be opened; every statement level problem is a Failure outcome.
func (e *Executor) Execute(ctx context.Context, t target.Target, sqlText string) (outcome Outcome, err error) {
	statements := SplitStatements(sqlText)
	kind := StatementOther
	if len(statements) > 0 {
		kind = statements[0].Kind()
	}
	start := time.Now()
	defer func() {
		if err != nil {
			return
		}
		outcome.SQL = sqlText
		outcome.Statement = kind
		outcome.Duration = time.Since(start)
		observability.ObserveExecution(outcome.Kind.String(), string(kind), outcome.Duration)
	}()

	switch {
	case len(statements) == 0:
		return Failure(sqlText, "empty SQL statement"), nil
	case len(statements) > 1:
		return Failure(sqlText, fmt.Sprintf("only one SQL statement can run per question, got %d", len(statements))), nil
	case !e.Policy.Allows(kind):
		return Failure(sqlText, fmt.Sprintf("%s statements are not allowed by the execution policy", kind)), nil
	}
	statement := statements[0].Text

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	open := e.Open
	if open == nil {
		open = target.Open
	}
	db, err := open(ctx, t)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = db.Close() }()

	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = Failure(sqlText, fmt.Sprintf("execution aborted: %v", recovered))
		}
	}()

	if kind.ReturnsRows() {
		outcome, err = e.queryRows(ctx, db, statement)
	} else {
		outcome, err = execStatement(ctx, db, statement)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && e.Timeout > 0 {
			err = fmt.Errorf("timed out after %s: %w", e.Timeout, err)
		}
		return Failure(sqlText, err.Error()), nil
	}
	return outcome, nil
}

func (e *Executor) queryRows(ctx context.Context, db *sql.DB, statement string) (Outcome, error) {
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Outcome{}, err
	}

	resultRows := make([][]string, 0)
	truncated := false
	for rows.Next() {
		if e.MaxRows > 0 && len(resultRows) == e.MaxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Outcome{}, err
		}
		resultRows = append(resultRows, FormatValues(values))
	}
	if err := rows.Err(); err != nil {
		return Outcome{}, err
	}

	outcome := Success("", renderTable(columns, resultRows, truncated))
	outcome.Columns = columns
	outcome.RowCount = len(resultRows)
	outcome.Truncated = truncated
	return outcome, nil
}

func execStatement(ctx context.Context, db *sql.DB, statement string) (Outcome, error) {
	result, err := db.ExecContext(ctx, statement)
	if err != nil {
		return Outcome{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Success("", "statement executed"), nil
	}
	outcome := Success("", fmt.Sprintf("%d row(s) affected", affected))
	outcome.RowsAffected = affected
	return outcome, nil
}
