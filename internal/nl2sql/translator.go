package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/querychat/querychat/internal/conversation"
	"github.com/querychat/querychat/internal/prompt"
	"github.com/querychat/querychat/internal/schema"
)

type Request struct {
	Schema   schema.Description
	History  []conversation.Turn
	Question string
}

// GeneratedQuery lives only for the duration of one turn.
type GeneratedQuery struct {
	SQL      string `json:"sql"`
	Question string `json:"question"`
}

type Result struct {
	Query  GeneratedQuery `json:"query"`
	Prompt string         `json:"-"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// ModelTranslator builds the generation prompt for the target dialect and
// hands it to a Generator.
type ModelTranslator struct {
	generator *Generator
}

func NewTranslator(generator *Generator) *ModelTranslator {
	return &ModelTranslator{generator: generator}
}

func (t *ModelTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	text := prompt.NewBuilder(req.Schema.Dialect).GenerationPrompt(req.Schema.String(), req.History, question)
	sql, err := t.generator.GenerateSQL(ctx, text)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Query:  GeneratedQuery{SQL: sql, Question: question},
		Prompt: text,
	}, nil
}
