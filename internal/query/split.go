package query

import "strings"

// Statement is one top-level statement of a SQL text together with the
// lower-cased words it contains outside literals, quoted identifiers and
// comments.
type Statement struct {
	Text  string
	Words []string
}

// SplitStatements cuts sqlText on top-level semicolons. Semicolons inside
// string literals, quoted identifiers, dollar-quoted bodies and comments do not
// split. Statements that hold nothing but whitespace or comments are dropped.
//
// Backslashes are not treated as escapes, so a MySQL-style escaped quote can
// only make the text split into more statements, never fewer.
func SplitStatements(sqlText string) []Statement {
	var (
		statements []Statement
		words      []string
		start      int
		hasContent bool
	)
	flush := func(end int) {
		if hasContent {
			statements = append(statements, Statement{
				Text:  strings.TrimSpace(sqlText[start:end]),
				Words: words,
			})
		}
		words = nil
		hasContent = false
	}

	for i := 0; i < len(sqlText); {
		c := sqlText[i]
		switch {
		case c == ';':
			flush(i)
			i++
			start = i
		case c == '-' && strings.HasPrefix(sqlText[i:], "--"):
			newline := strings.IndexByte(sqlText[i:], '\n')
			if newline < 0 {
				i = len(sqlText)
			} else {
				i += newline + 1
			}
		case c == '/' && strings.HasPrefix(sqlText[i:], "/*"):
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				i = len(sqlText)
			} else {
				i += end + 4
			}
		case c == '\'' || c == '"' || c == '`':
			hasContent = true
			i = skipQuoted(sqlText, i, c)
		case c == '$':
			hasContent = true
			if tag, ok := dollarTag(sqlText[i:]); ok {
				end := strings.Index(sqlText[i+len(tag):], tag)
				if end < 0 {
					i = len(sqlText)
				} else {
					i += len(tag) + end + len(tag)
				}
				continue
			}
			i++
		case isWordByte(c) && !isDigit(c):
			hasContent = true
			j := i + 1
			for j < len(sqlText) && isWordByte(sqlText[j]) {
				j++
			}
			words = append(words, strings.ToLower(sqlText[i:j]))
			i = j
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		default:
			hasContent = true
			i++
		}
	}
	flush(len(sqlText))
	return statements
}

// skipQuoted returns the index just past the literal opened at sqlText[open].
// A doubled quote character stays inside the literal.
func skipQuoted(sqlText string, open int, quote byte) int {
	for i := open + 1; i < len(sqlText); i++ {
		if sqlText[i] != quote {
			continue
		}
		if i+1 < len(sqlText) && sqlText[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(sqlText)
}

// dollarTag matches a Postgres dollar-quote opener such as $$ or $body$.
// Positional parameters like $1 are not tags.
func dollarTag(rest string) (string, bool) {
	for j := 1; j < len(rest); j++ {
		c := rest[j]
		switch {
		case c == '$':
			return rest[:j+1], true
		case j == 1 && isDigit(c):
			return "", false
		case !isWordByte(c):
			return "", false
		}
	}
	return "", false
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c) || c >= 0x80
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
