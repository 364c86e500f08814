package llm

import (
	"fmt"
	"strings"

	"github.com/querychat/querychat/internal/config"
)

const (
	ProviderOpenAI    = "openai"
	ProviderLangChain = "langchain"
)

func NewClient(cfg config.ModelConfig) (Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, "":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.Timeout), nil
	case ProviderLangChain:
		return NewLangChain(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// NewFromConfig builds the SQL and explanation clients, each wrapped with
// the configured retry policy.
func NewFromConfig(cfg config.AIConfig) (sqlClient Client, explainClient Client, err error) {
	sqlBase, err := NewClient(cfg.SQL)
	if err != nil {
		return nil, nil, fmt.Errorf("sql model: %w", err)
	}
	explainBase, err := NewClient(cfg.Explain)
	if err != nil {
		return nil, nil, fmt.Errorf("explain model: %w", err)
	}
	return NewRetryClient(sqlBase, cfg.MaxAttempts, cfg.RetryBackoff),
		NewRetryClient(explainBase, cfg.MaxAttempts, cfg.RetryBackoff), nil
}
