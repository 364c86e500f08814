package query

import (
	"fmt"
	"sort"
	"strings"
)

type StatementKind string

const (
	StatementSelect StatementKind = "select"
	StatementInsert StatementKind = "insert"
	StatementUpdate StatementKind = "update"
	StatementDelete StatementKind = "delete"
	StatementDDL    StatementKind = "ddl"
	StatementOther  StatementKind = "other"
)

var statementKinds = map[StatementKind]struct{}{
	StatementSelect: {},
	StatementInsert: {},
	StatementUpdate: {},
	StatementDelete: {},
	StatementDDL:    {},
	StatementOther:  {},
}

var leadingKeywords = map[string]StatementKind{
	"select":   StatementSelect,
	"with":     StatementSelect,
	"values":   StatementSelect,
	"table":    StatementSelect,
	"show":     StatementSelect,
	"describe": StatementSelect,
	"desc":     StatementSelect,
	"explain":  StatementSelect,
	"pragma":   StatementSelect,
	"insert":   StatementInsert,
	"replace":  StatementInsert,
	"upsert":   StatementInsert,
	"update":   StatementUpdate,
	"delete":   StatementDelete,
	"truncate": StatementDelete,
	"create":   StatementDDL,
	"alter":    StatementDDL,
	"drop":     StatementDDL,
	"rename":   StatementDDL,
	"comment":  StatementDDL,
}

// nestedKeywords are the words that turn a WITH or EXPLAIN statement into a
// data-modifying one, for example WITH d AS (DELETE ... RETURNING *) SELECT.
var nestedKeywords = map[string]StatementKind{
	"insert":   StatementInsert,
	"update":   StatementUpdate,
	"merge":    StatementUpdate,
	"delete":   StatementDelete,
	"truncate": StatementDelete,
	"create":   StatementDDL,
	"alter":    StatementDDL,
	"drop":     StatementDDL,
}

// ReturnsRows reports whether statements of this kind produce a result set.
func (k StatementKind) ReturnsRows() bool {
	return k == StatementSelect
}

// Classify names the kind of the first statement in sqlText.
func Classify(sqlText string) StatementKind {
	statements := SplitStatements(sqlText)
	if len(statements) == 0 {
		return StatementOther
	}
	return statements[0].Kind()
}

// Kind names the statement from its leading keyword. WITH and EXPLAIN take
// the kind of the first data-modifying keyword they contain, and a query that
// selects INTO a table counts as ddl.
func (s Statement) Kind() StatementKind {
	if len(s.Words) == 0 {
		return StatementOther
	}
	lead := s.Words[0]
	kind, ok := leadingKeywords[lead]
	if !ok {
		return StatementOther
	}
	if kind != StatementSelect {
		return kind
	}
	switch lead {
	case "with", "explain":
		for i, word := range s.Words[1:] {
			nested, ok := nestedKeywords[word]
			if !ok {
				continue
			}
			// FOR UPDATE and FOR NO KEY UPDATE only lock rows.
			if word == "update" && (s.Words[i] == "for" || s.Words[i] == "key") {
				continue
			}
			return nested
		}
		fallthrough
	case "select", "values", "table":
		for _, word := range s.Words[1:] {
			if word == "into" {
				return StatementDDL
			}
		}
	}
	return kind
}

// Policy limits which statement kinds may run. The zero value allows every
// kind.
type Policy struct {
	allowed map[StatementKind]struct{}
}

func AllowAll() Policy {
	return Policy{}
}

func NewPolicy(kinds []string) (Policy, error) {
	if len(kinds) == 0 {
		return Policy{}, fmt.Errorf("at least one statement kind must be allowed")
	}
	allowed := make(map[StatementKind]struct{}, len(kinds))
	for _, raw := range kinds {
		kind := StatementKind(strings.ToLower(strings.TrimSpace(raw)))
		if _, ok := statementKinds[kind]; !ok {
			return Policy{}, fmt.Errorf("unknown statement kind %q", raw)
		}
		allowed[kind] = struct{}{}
	}
	if len(allowed) == len(statementKinds) {
		return Policy{}, nil
	}
	return Policy{allowed: allowed}, nil
}

func (p Policy) Allows(kind StatementKind) bool {
	if p.allowed == nil {
		return true
	}
	_, ok := p.allowed[kind]
	return ok
}

func (p Policy) Allowed() []StatementKind {
	kinds := make([]StatementKind, 0, len(statementKinds))
	for kind := range statementKinds {
		if p.Allows(kind) {
			kinds = append(kinds, kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
