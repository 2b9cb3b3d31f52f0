package ml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/temcen/searchrank/internal/config"
)

var ErrLLMUnavailable = errors.New("language model is not configured")

// LLMClient produces a single chat completion for a prompt.
type LLMClient interface {
	Available() bool
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// ChatClient talks to an OpenAI-compatible chat completions API (Groq by
// default). Calls are throttled client-side and guarded by a circuit breaker.
type ChatClient struct {
	cfg        config.AIConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[string]
	logger     *logrus.Logger
}

func NewChatClient(cfg config.AIConfig, logger *logrus.Logger, listener StateListener) *ChatClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Limit(cfg.RequestsPerSec)
	if cfg.RequestsPerSec <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ChatClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    newBreaker[string]("llm-api", cfg.CircuitBreaker, logger, listener),
		logger:     logger,
	}
}

func (c *ChatClient) Available() bool {
	return c.cfg.Enabled && c.cfg.APIKey != "" && c.cfg.BaseURL != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *ChatClient) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if !c.Available() {
		return "", ErrLLMUnavailable
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	return c.breaker.Execute(func() (string, error) {
		return c.complete(ctx, chatRequest{
			Model:       c.cfg.Model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
	})
}

func (c *ChatClient) complete(ctx context.Context, payload chatRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion returned status %d", resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode chat completion: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	c.logger.WithFields(logrus.Fields{
		"model":      c.cfg.Model,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("Chat completion finished")

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
