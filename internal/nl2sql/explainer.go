package nl2sql

import (
	"context"
	"strings"
	"time"

	"github.com/querychat/querychat/internal/conversation"
	"github.com/querychat/querychat/internal/llm"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/prompt"
	"github.com/querychat/querychat/internal/schema"
)

type AnswerRequest struct {
	Schema   schema.Description
	History  []conversation.Turn
	Question string
	SQL      string
	Outcome  string
}

type Synthesizer interface {
	SynthesizeAnswer(ctx context.Context, req AnswerRequest) (string, error)
}

// Explainer asks the explanation model to describe an execution outcome,
// successful or not, in natural language.
type Explainer struct {
	client llm.Client
}

func NewExplainer(client llm.Client) *Explainer {
	return &Explainer{client: client}
}

func (e *Explainer) SynthesizeAnswer(ctx context.Context, req AnswerRequest) (string, error) {
	text := prompt.NewBuilder(req.Schema.Dialect).ExplanationPrompt(
		req.Schema.String(),
		req.History,
		req.Question,
		req.SQL,
		req.Outcome,
	)

	start := time.Now()
	answer, err := e.client.Generate(ctx, text)
	observability.ObserveModelCall(StageExplain, time.Since(start), err)
	if err != nil {
		return "", &GenerationError{Stage: StageExplain, Model: e.client.Model(), Err: err}
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", &GenerationError{Stage: StageExplain, Model: e.client.Model(), Err: llm.ErrEmptyResponse}
	}
	return answer, nil
}
