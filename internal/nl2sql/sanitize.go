package nl2sql

import "strings"

var languageTags = []string{"sql", "mysql", "postgresql", "postgres", "sqlite", "duckdb"}

const answerLabel = "sql query:"

const fence = "```"

// Sanitize turns raw model output into executable SQL text. It removes code
// fence markers at the edges or on their own line, a leading bare language tag
// or echoed "SQL Query:" label, and surrounding whitespace, repeating until
// nothing changes. Backticks inside the statement are left alone.
func Sanitize(raw string) string {
	current := raw
	for {
		next := sanitizeOnce(current)
		if next == current {
			return next
		}
		current = next
	}
}

func sanitizeOnce(value string) string {
	value = strings.TrimSpace(dropFenceLines(value))
	value = strings.TrimSpace(strings.TrimPrefix(value, fence))
	value = strings.TrimSpace(strings.TrimSuffix(value, fence))
	if len(value) >= len(answerLabel) && strings.EqualFold(value[:len(answerLabel)], answerLabel) {
		value = value[len(answerLabel):]
	}
	return strings.TrimSpace(stripLanguageTag(value))
}

// dropFenceLines removes lines that hold only a fence marker, optionally
// followed by a language tag.
func dropFenceLines(value string) string {
	lines := strings.Split(value, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, fence) && isLanguageTag(strings.TrimSpace(trimmed[len(fence):])) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isLanguageTag(value string) bool {
	if value == "" {
		return true
	}
	for _, tag := range languageTags {
		if strings.EqualFold(value, tag) {
			return true
		}
	}
	return false
}

func stripLanguageTag(value string) string {
	end := strings.IndexAny(value, " \t\r\n")
	first := value
	if end >= 0 {
		first = value[:end]
	}
	if first != "" && isLanguageTag(first) {
		return value[len(first):]
	}
	return value
}
