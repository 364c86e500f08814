// Package schema snapshots the structure of a target database as prompt text.
package schema

import (
	"fmt"
	"strings"

	"github.com/querychat/querychat/internal/target"
)

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type Table struct {
	Name       string     `json:"name"`
	Columns    []Column   `json:"columns"`
	SampleRows [][]string `json:"sample_rows,omitempty"`
}

// Description is the structure of one target at the moment it was read.
type Description struct {
	Dialect target.Dialect `json:"dialect"`
	Tables  []Table        `json:"tables"`
}

func (d Description) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for _, table := range d.Tables {
		names = append(names, table.Name)
	}
	return names
}

// String renders every table as a CREATE TABLE statement followed by its
// sample rows in a comment block.
func (d Description) String() string {
	blocks := make([]string, 0, len(d.Tables))
	for _, table := range d.Tables {
		blocks = append(blocks, renderTable(d.Dialect, table))
	}
	return strings.Join(blocks, "\n\n")
}

func renderTable(dialect target.Dialect, table Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quoteIdent(dialect, table.Name))
	for i, column := range table.Columns {
		fmt.Fprintf(&b, "\t%s %s", quoteIdent(dialect, column.Name), column.Type)
		if !column.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(table.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")

	if len(table.SampleRows) == 0 {
		return b.String()
	}
	names := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		names = append(names, column.Name)
	}
	fmt.Fprintf(&b, "\n\n/*\n%d rows from %s table:\n", len(table.SampleRows), table.Name)
	b.WriteString(strings.Join(names, "\t"))
	b.WriteString("\n")
	for _, row := range table.SampleRows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	b.WriteString("*/")
	return b.String()
}

func quoteIdent(dialect target.Dialect, value string) string {
	if dialect == target.DialectMySQL {
		return "`" + strings.ReplaceAll(value, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
