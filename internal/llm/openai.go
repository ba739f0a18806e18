package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIConfig holds configuration shared by the OpenAI completion and
// embedding clients.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string        // default https://api.openai.com
	Timeout time.Duration // default 60s
	RPS     float64       // 0 means unlimited
	Breaker BreakerConfig
}

func (c *OpenAIConfig) normalize(defaultModel string, defaultTimeout time.Duration) {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com"
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

func newOpenAILimiter(rps float64) *rate.Limiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return rate.NewLimiter(limit, 1)
}

// OpenAIClient implements TextGenerator over the chat completions API.
type OpenAIClient struct {
	cfg     OpenAIConfig
	client  *http.Client
	breaker *breaker
	limiter *rate.Limiter
}

// NewOpenAIClient creates a completion client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	cfg.normalize("gpt-4o-mini", 60*time.Second)
	return &OpenAIClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker("openai:"+cfg.Model, cfg.Breaker),
		limiter: newOpenAILimiter(cfg.RPS),
	}
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a single-turn completion and returns the response
// text.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.breaker.execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	body, err := openAIPost(ctx, c.client, c.limiter, c.cfg, "/v1/chat/completions", openAIChatRequest{
		Model:       c.cfg.Model,
		Messages:    []openAIChatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	var resp openAIChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

// BreakerState reports the circuit breaker state, for health logging.
func (c *OpenAIClient) BreakerState() string { return c.breaker.State() }

var _ TextGenerator = (*OpenAIClient)(nil)

// OpenAIEmbeddingClient implements EmbeddingGenerator over the
// embeddings API.
type OpenAIEmbeddingClient struct {
	cfg     OpenAIConfig
	client  *http.Client
	breaker *breaker
	limiter *rate.Limiter
}

// NewOpenAIEmbeddingClient creates an embedding client.
func NewOpenAIEmbeddingClient(cfg OpenAIConfig) *OpenAIEmbeddingClient {
	cfg.normalize("text-embedding-3-small", 30*time.Second)
	return &OpenAIEmbeddingClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker("openai-embed:"+cfg.Model, cfg.Breaker),
		limiter: newOpenAILimiter(cfg.RPS),
	}
}

type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed generates the embedding vector for text.
func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := c.breaker.execute(ctx, func() (interface{}, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (c *OpenAIEmbeddingClient) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := openAIPost(ctx, c.client, c.limiter, c.cfg, "/v1/embeddings", openAIEmbeddingRequest{
		Model: c.cfg.Model,
		Input: text,
	})
	if err != nil {
		return nil, err
	}

	var resp openAIEmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode openai response: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned an empty embedding")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Model returns the configured model name.
func (c *OpenAIEmbeddingClient) Model() string { return c.cfg.Model }

var _ EmbeddingGenerator = (*OpenAIEmbeddingClient)(nil)

func openAIPost(ctx context.Context, client *http.Client, limiter *rate.Limiter, cfg OpenAIConfig, path string, payload any) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError("openai", resp.StatusCode, string(body))
	}
	return body, nil
}
