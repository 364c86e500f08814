package query

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// FormatValues renders scanned driver values as display text.
func FormatValues(values []any) []string {
	formatted := make([]string, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case nil:
			formatted[i] = "NULL"
		case []byte:
			formatted[i] = string(typed)
		case time.Time:
			formatted[i] = typed.Format(time.RFC3339)
		default:
			formatted[i] = fmt.Sprint(typed)
		}
	}
	return formatted
}

func renderTable(columns []string, rows [][]string, truncated bool) string {
	var buf bytes.Buffer
	writer := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(writer, strings.Join(columns, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(writer, strings.Join(escapeCells(row), "\t"))
	}
	_ = writer.Flush()

	switch {
	case truncated:
		fmt.Fprintf(&buf, "(showing first %d rows)", len(rows))
	case len(rows) == 1:
		buf.WriteString("(1 row)")
	default:
		fmt.Fprintf(&buf, "(%d rows)", len(rows))
	}
	return buf.String()
}

func escapeCells(row []string) []string {
	escaped := make([]string, len(row))
	for i, cell := range row {
		cell = strings.ReplaceAll(cell, "\t", " ")
		escaped[i] = strings.ReplaceAll(cell, "\n", " ")
	}
	return escaped
}
