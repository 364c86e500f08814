package prompt

import (
	"strings"

	"github.com/querychat/querychat/internal/conversation"
	"github.com/querychat/querychat/internal/target"
)

const generationText = `You are a data analyst at a company. You are interacting with a user who is asking you questions about the company's database. You can modify the database (i.e. CREATE, UPDATE, DELETE, DROP) tables if needed.
Based on the table schema below, write a {dialect} SQL query that would answer the user's question. Take the conversation history into account.

<SCHEMA>{schema}</SCHEMA>

Conversation History: {chat_history}

Write only the SQL query and nothing else. Do not wrap the SQL query in any other text, not even backticks.

For example:
{examples}

Your turn:
Question: {question}
SQL Query:`

const explanationText = `You are a data analyst at a company. You are interacting with a user who is asking questions about the company's database.
Based on the table schema below, question, sql query, and sql response, write a natural language response. If the SQL response is an error, explain what went wrong instead of inventing a result.
<SCHEMA>{schema}</SCHEMA>

Conversation History: {chat_history}
SQL Query: <SQL>{query}</SQL>
User Question: {question}
SQL Response: {response}`

var (
	generationTemplate  = MustTemplate("generation", generationText)
	explanationTemplate = MustTemplate("explanation", explanationText)
)

// Example is one worked question/statement pair shown to the SQL model.
type Example struct {
	Question string
	SQL      string
}

// ListingQuestions are phrasings that all ask for the table list.
var ListingQuestions = []string{
	"Show me all tables",
	"List tables",
	"What tables are in this database?",
	"What is the database schema?",
}

// ListingStatement is the canonical table listing statement for a dialect.
func ListingStatement(dialect target.Dialect) string {
	switch dialect {
	case target.DialectPostgres:
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema();"
	case target.DialectSQLite:
		return "SELECT name FROM sqlite_master WHERE type = 'table';"
	default:
		return "SHOW TABLES;"
	}
}

func Examples(dialect target.Dialect) []Example {
	examples := []Example{{
		Question: "Which 3 artists have the most tracks?",
		SQL:      "SELECT Artist, COUNT(*) as track_count FROM Track GROUP BY Artist ORDER BY track_count DESC LIMIT 3;",
	}}
	for _, question := range ListingQuestions {
		examples = append(examples, Example{Question: question, SQL: ListingStatement(dialect)})
	}
	return append(examples, Example{
		Question: "Name 10 artists",
		SQL:      "SELECT Name FROM Artist LIMIT 10;",
	})
}

// Builder renders prompts for one target dialect. Its methods are pure.
type Builder struct {
	dialect  target.Dialect
	examples string
}

func NewBuilder(dialect target.Dialect) *Builder {
	return &Builder{dialect: dialect, examples: renderExamples(Examples(dialect))}
}

func (b *Builder) Dialect() target.Dialect {
	return b.dialect
}

func (b *Builder) GenerationPrompt(schema string, history []conversation.Turn, question string) string {
	return generationTemplate.MustRender(map[string]string{
		"dialect":      dialectLabel(b.dialect),
		"schema":       schema,
		"chat_history": conversation.RenderHistory(history),
		"examples":     b.examples,
		"question":     strings.TrimSpace(question),
	})
}

// ExplanationPrompt embeds the execution outcome text verbatim, including
// database error messages.
func (b *Builder) ExplanationPrompt(schema string, history []conversation.Turn, question, sql, outcome string) string {
	return explanationTemplate.MustRender(map[string]string{
		"schema":       schema,
		"chat_history": conversation.RenderHistory(history),
		"query":        sql,
		"question":     strings.TrimSpace(question),
		"response":     outcome,
	})
}

func renderExamples(examples []Example) string {
	blocks := make([]string, 0, len(examples))
	for _, example := range examples {
		blocks = append(blocks, "Question: "+example.Question+"\nSQL Query: "+example.SQL)
	}
	return strings.Join(blocks, "\n\n")
}

func dialectLabel(dialect target.Dialect) string {
	switch dialect {
	case target.DialectMySQL:
		return "MySQL"
	case target.DialectPostgres:
		return "PostgreSQL"
	case target.DialectSQLite:
		return "SQLite"
	case target.DialectDuckDB:
		return "DuckDB"
	default:
		return "standard"
	}
}
