package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// OllamaClient talks to a local Ollama server's /api/generate endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	BaseURL string        // default http://localhost:11434
	Model   string        // default llama3.2
	Timeout time.Duration // default 30s
	RPS     float64       // default 5
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}

	return &OllamaClient{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker("ollama-llm"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
	}
}

func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest, profile Profile) (*CompletionResponse, error) {
	req = profileParams(req, profile)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("%w: ollama circuit breaker open", ErrLLMUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	return result.(*CompletionResponse), nil
}

func (c *OllamaClient) generate(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Stream: false,
		Options: map[string]interface{}{
			"num_predict": req.MaxTokens,
			"temperature": req.Temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(b))
	}

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &CompletionResponse{
		Content:          parsed.Response,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
	}, nil
}

func (c *OllamaClient) Synthesize(ctx context.Context, prompt string, maxTokens int, profile Profile) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{Prompt: prompt, MaxTokens: maxTokens}, profile)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *OllamaClient) Model() string { return c.model }

// Breaker returns a snapshot of the circuit breaker state and counts.
func (c *OllamaClient) Breaker() BreakerMetrics { return breakerMetrics(c.breaker) }

var _ Client = (*OllamaClient)(nil)
