package llm

import (
	"fmt"
	"time"
)

// Config selects and configures the model provider.
type Config struct {
	// Provider is one of "ollama", "openai", or "none". "none" runs
	// the engine archive-only: no distillation, no consolidation, no
	// vectors until a provider is configured.
	Provider string `yaml:"provider"`

	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// Model drives completions; EmbeddingModel drives vectors.
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`

	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
}

// NewTextGenerator builds the completion client for the configured
// provider. Returns (nil, nil) for "none".
func NewTextGenerator(cfg Config) (TextGenerator, error) {
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			RPS:     cfg.RPS,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			RPS:     cfg.RPS,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator builds the embedding client for the configured
// provider. Returns (nil, nil) for "none".
func NewEmbeddingGenerator(cfg Config) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.EmbeddingModel,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
			RPS:     cfg.RPS,
		}), nil
	case "ollama", "":
		model := cfg.EmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   model,
			Timeout: cfg.Timeout,
			RPS:     cfg.RPS,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
