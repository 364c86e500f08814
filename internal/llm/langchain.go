package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient talks to any OpenAI compatible endpoint through langchaingo.
type LangChainClient struct {
	llm         llms.Model
	model       string
	temperature float64
	timeout     time.Duration
}

func NewLangChain(apiKey, baseURL, model string, temperature float64, timeout time.Duration) (*LangChainClient, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create langchain openai model: %w", err)
	}
	return &LangChainClient{llm: llm, model: model, temperature: temperature, timeout: timeout}, nil
}

func (c *LangChainClient) Model() string {
	return c.model
}

func (c *LangChainClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	completion, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", fmt.Errorf("generate completion: %w", err)
	}
	return completion, nil
}
