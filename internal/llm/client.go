// Package llm wraps the OpenAI chat-completion API behind a small
// gateway with per-call timeouts, bounded retry, structured-output
// decoding, and usage metering.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/usage"
)

// Request is a single completion call.
type Request struct {
	// Stage attributes failures to the calling pipeline stage.
	Stage domain.Stage
	// Operation names the call for usage metering, e.g. "psychology_analysis".
	Operation   string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	// JSONMode forces a JSON-object response from the model.
	JSONMode bool
}

// Response is the completion text plus the usage recorded for it.
type Response struct {
	Text  string
	Usage domain.UsageRecord
}

// Client is the completion port every pipeline stage consumes.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// OpenAIClient implements Client on go-openai.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	meter      usage.Meter
	estimator  *Estimator
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*OpenAIClient)

// WithMeter sets the usage meter.
func WithMeter(m usage.Meter) Option {
	return func(c *OpenAIClient) { c.meter = m }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *OpenAIClient) { c.timeout = d }
}

// WithMaxRetries sets the bounded retry count for retryable failures.
func WithMaxRetries(n int) Option {
	return func(c *OpenAIClient) { c.maxRetries = n }
}

// NewOpenAIClient creates the gateway. baseURL may be empty for the
// public API.
func NewOpenAIClient(apiKey, model, baseURL string, logger *slog.Logger, opts ...Option) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	c := &OpenAIClient{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		timeout:    8 * time.Second,
		maxRetries: 2,
		meter:      usage.Nop{},
		estimator:  NewEstimator(model),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs one chat completion with bounded retry. Timeouts and
// rate limits are retried; everything else fails immediately with a
// typed StageError.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.NewStageError(req.Stage, domain.FailureTimeout, ctx.Err())
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateChatCompletion(callCtx, apiReq)
		cancel()

		if err != nil {
			ft, retryable := classifyError(err)
			lastErr = domain.NewStageError(req.Stage, ft, err)
			if !retryable {
				return nil, lastErr
			}
			c.logger.WarnContext(ctx, "llm call retrying",
				slog.String("operation", req.Operation),
				slog.Int("attempt", attempt+1),
				slog.String("failure", string(ft)),
				slog.String("error", err.Error()))
			continue
		}

		if len(resp.Choices) == 0 {
			return nil, domain.NewStageError(req.Stage, domain.FailureMalformed,
				errors.New("completion returned no choices"))
		}

		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		rec := c.usageRecord(req, apiReq, text, resp.Usage)
		c.meter.Record(ctx, rec)

		return &Response{Text: text, Usage: rec}, nil
	}

	return nil, lastErr
}

func (c *OpenAIClient) usageRecord(req Request, apiReq openai.ChatCompletionRequest, text string, u openai.Usage) domain.UsageRecord {
	rec := domain.UsageRecord{
		Operation:    req.Operation,
		Model:        c.model,
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		At:           time.Now(),
	}
	// Some gateways strip usage from the response; fall back to a
	// local tiktoken estimate so the ledger never records zeros.
	if rec.InputTokens == 0 && rec.OutputTokens == 0 {
		var prompt strings.Builder
		for _, m := range apiReq.Messages {
			prompt.WriteString(m.Content)
			prompt.WriteString("\n")
		}
		rec.InputTokens = c.estimator.Count(prompt.String())
		rec.OutputTokens = c.estimator.Count(text)
		rec.Estimated = true
	}
	return rec
}

// classifyError maps a transport error to a failure type and whether
// it is worth retrying.
func classifyError(err error) (domain.FailureType, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return domain.FailureTimeout, false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return domain.FailureRateLimit, true
		case apiErr.HTTPStatusCode >= 500:
			return domain.FailureProvider, true
		default:
			return domain.FailureProvider, false
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return domain.FailureRateLimit, true
		}
		return domain.FailureProvider, reqErr.HTTPStatusCode >= 500
	}

	// Transport-level errors (connection reset, EOF) are retryable.
	return domain.FailureProvider, true
}

// DecodeJSON unmarshals a model response into v, tolerating markdown
// code fences around the JSON body. A decode failure is a
// FailureMalformed StageError for the given stage.
func DecodeJSON(stage domain.Stage, text string, v any) error {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return domain.NewStageError(stage, domain.FailureMalformed,
			fmt.Errorf("decode structured response: %w", err))
	}
	return nil
}
