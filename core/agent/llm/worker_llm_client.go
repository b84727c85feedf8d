// Package llm implements the oracle port on top of the OpenAI chat API.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"pattern_worker/core/port/out"
	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/logger"
	"pattern_worker/pkg/metrics"
	"pattern_worker/pkg/resilience"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultMiniModel     = "gpt-4o-mini"
	DefaultStandardModel = "gpt-4o"
)

// chatAPI is the slice of the OpenAI client the oracle uses.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type ClientConfig struct {
	APIKey        string
	BaseURL       string
	MiniModel     string
	StandardModel string
	// Timeout bounds one attempt.
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MiniModel:     DefaultMiniModel,
		StandardModel: DefaultStandardModel,
		Timeout:       30 * time.Second,
		MaxRetries:    2,
		RetryBackoff:  500 * time.Millisecond,
	}
}

// Client is the out.Oracle implementation. Every attempt is bounded by the
// configured timeout and guarded by a circuit breaker.
type Client struct {
	api     chatAPI
	cfg     ClientConfig
	breaker *resilience.CircuitBreaker
	costs   *CostTracker
	metrics *metrics.Metrics
}

var _ out.Oracle = (*Client)(nil)

func NewClient(cfg ClientConfig, m *metrics.Metrics) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return newClient(openai.NewClientWithConfig(oc), cfg, m)
}

func newClient(api chatAPI, cfg ClientConfig, m *metrics.Metrics) *Client {
	def := DefaultClientConfig()
	if cfg.MiniModel == "" {
		cfg.MiniModel = def.MiniModel
	}
	if cfg.StandardModel == "" {
		cfg.StandardModel = def.StandardModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &Client{
		api:     api,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("openai")),
		costs:   NewCostTracker(),
		metrics: m,
	}
}

// Model returns the model name serving a tier.
func (c *Client) Model(tier out.ModelTier) string {
	if tier == out.TierStandard {
		return c.cfg.StandardModel
	}
	return c.cfg.MiniModel
}

// Costs exposes accumulated token spend.
func (c *Client) Costs() CostStats {
	return c.costs.GetStats()
}

func (c *Client) Generate(ctx context.Context, req out.OracleRequest) (*out.OracleResponse, error) {
	model := c.Model(req.Tier)
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, 2),
	}
	if req.SystemPrompt != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.complete(ctx, chatReq)
	elapsed := time.Since(start)

	if err == nil && (len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "") {
		err = errors.New("empty completion")
	}
	c.metrics.OracleCall(string(req.Tier), resp.Usage.TotalTokens, elapsed, err)
	if err != nil {
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"model": model,
			"tier":  string(req.Tier),
		}).Warn("[Oracle] completion failed")
		return nil, apperr.OracleFailure("chat completion", err)
	}

	cost := c.costs.Track(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	logger.WithContext(ctx).WithDuration(elapsed).WithFields(map[string]any{
		"model":  model,
		"tokens": resp.Usage.TotalTokens,
		"cost":   cost,
	}).Debug("[Oracle] completion done")

	name := resp.Model
	if name == "" {
		name = model
	}
	return &out.OracleResponse{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		Model:      name,
	}, nil
}

// complete retries transient failures with exponential backoff.
func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var (
		resp openai.ChatCompletionResponse
		err  error
	)
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.cfg.RetryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return resp, ctx.Err()
			case <-time.After(wait):
			}
		}

		err = c.breaker.Execute(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
			var callErr error
			resp, callErr = c.api.CreateChatCompletion(callCtx, req)
			return callErr
		})
		if err == nil || !retryable(ctx, err) {
			return resp, err
		}
		logger.WithContext(ctx).WithError(err).WithField("attempt", attempt+1).Debug("[Oracle] retrying")
	}
	return resp, err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || resilience.IsOpen(err) {
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
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
