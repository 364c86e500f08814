package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
)

// RetryClient retries failed generations with exponential backoff. Caller
// cancellation and client errors from the provider (bad request, auth,
// unknown model) end the loop on the first attempt.
type RetryClient struct {
	Client      Client
	MaxAttempts int
	Backoff     time.Duration
	OnRetry     func(attempt int, err error)

	timer backoff.Timer
}

func NewRetryClient(client Client, maxAttempts int, initial time.Duration) *RetryClient {
	return &RetryClient{Client: client, MaxAttempts: maxAttempts, Backoff: initial}
}

func (c *RetryClient) Model() string {
	return c.Client.Model()
}

func (c *RetryClient) Generate(ctx context.Context, prompt string) (string, error) {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		text string
		made int
	)
	operation := func() error {
		made++
		var err error
		text, err = c.Client.Generate(ctx, prompt)
		if err != nil && !transient(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		if c.OnRetry != nil {
			c.OnRetry(made, err)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, c.policy(ctx, attempts), notify, c.timer)
	if err == nil {
		return text, nil
	}
	if made <= 1 {
		return "", err
	}
	return "", fmt.Errorf("generation failed after %d attempt(s): %w", made, err)
}

func (c *RetryClient) policy(ctx context.Context, attempts int) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.Backoff
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// transient reports whether err is worth another attempt.
func transient(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code < 400 || code >= 500
}
