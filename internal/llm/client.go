package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/internal/metrics"
	"github.com/insightsboard/backend/pkg/circuitbreaker"
	"github.com/insightsboard/backend/pkg/config"
	"github.com/insightsboard/backend/pkg/logger"
	"github.com/insightsboard/backend/pkg/retry"
)

var (
	ErrMissingAPIKey   = errors.New("an API key is required")
	ErrEmptyCompletion = errors.New("model returned no choices")
)

// Generator produces free-form insight text for a prompt.
type Generator interface {
	GenerateInsights(ctx context.Context, apiKey, prompt string) (*Completion, error)
}

// KeyResolver is implemented by generators that fall back to a configured key.
// Callers use it to reject keyless requests before any cached answer is served.
type KeyResolver interface {
	ResolveKey(apiKey string) (string, error)
}

type Completion struct {
	Text  string
	Model string
	Usage Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float32
	maxTokens   int
	topP        float32
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg config.LLMConfig) *Client {
	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxProbes:        2,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        func(err error) bool { return !isCallerError(err) },
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})
	metrics.CircuitState.WithLabelValues(cb.Name()).Set(float64(circuitbreaker.StateClosed))

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("provider", cfg.Provider),
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
	)

	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		topP:        cfg.TopP,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// WithRetry replaces the retry policy. Used by tests to avoid backoff sleeps.
func (c *Client) WithRetry(cfg retry.Config) *Client {
	c.retryConfig = cfg
	return c
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) openaiClient(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// ResolveKey returns apiKey, or the configured key when apiKey is empty.
func (c *Client) ResolveKey(apiKey string) (string, error) {
	if apiKey == "" {
		apiKey = c.apiKey
	}
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}
	return apiKey, nil
}

// GenerateInsights sends prompt as a single user message. A non-empty apiKey
// takes precedence over the configured key.
func (c *Client) GenerateInsights(ctx context.Context, apiKey, prompt string) (*Completion, error) {
	apiKey, err := c.ResolveKey(apiKey)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client := c.openaiClient(apiKey)
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		TopP:        c.topP,
	}

	var result *Completion

	err = c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := client.CreateChatCompletion(ctx, req)
			if err != nil {
				err = fmt.Errorf("failed to create completion: %w", err)
				if isCallerError(err) {
					return retry.Permanent(err)
				}
				return err
			}

			if len(resp.Choices) == 0 {
				return ErrEmptyCompletion
			}

			logger.Debug("LLM completion generated",
				zap.String("model", resp.Model),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &Completion{
				Text:  resp.Choices[0].Message.Content,
				Model: resp.Model,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// StatusCode extracts the HTTP status returned by the model endpoint, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// isCallerError reports 4xx responses other than rate limiting. Those are
// neither retried nor counted by the breaker.
func isCallerError(err error) bool {
	code := StatusCode(err)
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
}
