// Package llm wraps the text generation services used to write SQL and
// explain results.
package llm

import (
	"context"
	"errors"
)

var ErrEmptyResponse = errors.New("model returned an empty response")

// Client sends a single prompt to a model and returns its text reply.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}
