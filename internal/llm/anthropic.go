package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/logging"
	"github.com/HendryAvila/devteam/internal/sdkerr"
)

const (
	anthropicVersion = "2023-06-01"
	defaultRetries   = 2
)

// backoff is the delay before retry attempt n (1-based).
var backoff = func(n int) time.Duration {
	return time.Duration(n) * 500 * time.Millisecond
}

// Anthropic implements Provider for the Anthropic Messages API.
type Anthropic struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	retries    int
	logger     *zap.Logger
}

// AnthropicOption configures an Anthropic provider.
type AnthropicOption func(*Anthropic)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(a *Anthropic) { a.httpClient = c }
}

// WithRetries sets how many times rate-limited or overloaded requests are
// retried.
func WithRetries(n int) AnthropicOption {
	return func(a *Anthropic) { a.retries = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AnthropicOption {
	return func(a *Anthropic) { a.logger = logging.Named(l, "llm") }
}

// NewAnthropic creates a provider. An empty API key is a configuration
// error.
func NewAnthropic(baseURL, apiKey string, timeout time.Duration, opts ...AnthropicOption) (*Anthropic, error) {
	if apiKey == "" {
		return nil, sdkerr.Configuration("Anthropic API key not configured").WithCode("MISSING_API_KEY")
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	a := &Anthropic{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		retries:    defaultRetries,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// FromConfig builds a provider from the llm section of cfg.
func FromConfig(cfg *config.Config, logger *zap.Logger) (*Anthropic, error) {
	return NewAnthropic(cfg.LLM.BaseURL, cfg.APIKey(),
		time.Duration(cfg.LLM.Timeout)*time.Second, WithLogger(logger))
}

// Complete sends a request and returns the concatenated text blocks.
func (a *Anthropic) Complete(ctx context.Context, request Request) (*Response, error) {
	if request.Model == "" {
		return nil, sdkerr.Validation("llm: model is required")
	}
	if request.MaxTokens <= 0 {
		request.MaxTokens = 4096
	}
	wire := buildRequest(request)
	headers := http.Header{}
	headers.Set("x-api-key", a.apiKey)
	headers.Set("anthropic-version", anthropicVersion)

	var lastErr error
	for attempt := 0; attempt <= a.retries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			a.logger.Warn("retrying llm request",
				zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, classify(ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := doRequest(ctx, a.httpClient, a.baseURL+"/v1/messages", headers, wire)
		if err != nil {
			lastErr = err
			if retryable(err) && ctx.Err() == nil {
				continue
			}
			return nil, classify(err)
		}

		var wireResp anthropicResponse
		err = json.NewDecoder(resp.Body).Decode(&wireResp)
		resp.Body.Close()
		if err != nil {
			return nil, sdkerr.Wrap(sdkerr.KindCommunication, err, "llm: decoding response")
		}
		return wireResp.toResponse(), nil
	}
	return nil, classify(lastErr)
}

func buildRequest(request Request) anthropicRequest {
	wire := anthropicRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		System:      request.System,
		Temperature: request.Temperature,
	}
	for _, m := range request.Messages {
		wire.Messages = append(wire.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContentBlock{{Type: "text", Text: m.Content}},
		})
	}
	return wire
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      Usage                   `json:"usage"`
}

func (r *anthropicResponse) toResponse() *Response {
	var text strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		ID:         r.ID,
		Model:      r.Model,
		Text:       text.String(),
		StopReason: r.StopReason,
		Usage:      r.Usage,
	}
}
