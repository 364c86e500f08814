package nl2sql

import (
	"context"
	"time"

	"github.com/querychat/querychat/internal/llm"
	"github.com/querychat/querychat/internal/observability"
)

type Generator struct {
	client llm.Client
}

func NewGenerator(client llm.Client) *Generator {
	return &Generator{client: client}
}

// GenerateSQL sends a built prompt to the SQL model and returns the sanitized
// statement. No semantic validation happens here.
func (g *Generator) GenerateSQL(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	raw, err := g.client.Generate(ctx, prompt)
	observability.ObserveModelCall(StageSQL, time.Since(start), err)
	if err != nil {
		return "", &GenerationError{Stage: StageSQL, Model: g.client.Model(), Err: err}
	}
	sql := Sanitize(raw)
	if sql == "" {
		return "", &GenerationError{Stage: StageSQL, Model: g.client.Model(), Err: llm.ErrEmptyResponse}
	}
	return sql, nil
}
