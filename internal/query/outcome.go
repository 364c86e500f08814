// Package query runs generated statements against a target database.
package query

import "time"

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of executing one statement. A failed statement is an
// Outcome, not an error.
type Outcome struct {
	Kind         OutcomeKind
	Text         string
	SQL          string
	Statement    StatementKind
	Columns      []string
	RowCount     int
	RowsAffected int64
	Truncated    bool
	Duration     time.Duration
}

func Success(sql, text string) Outcome {
	return Outcome{Kind: OutcomeSuccess, SQL: sql, Text: text}
}

func Failure(sql, text string) Outcome {
	return Outcome{Kind: OutcomeFailure, SQL: sql, Text: text}
}

func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailure
}
