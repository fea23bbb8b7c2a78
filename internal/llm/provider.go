// Package llm is a small client for the Anthropic Messages API used by the
// agents to produce their analysis text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/HendryAvila/devteam/internal/sdkerr"
)

// Provider is the interface agents use to reach a model.
type Provider interface {
	Complete(ctx context.Context, request Request) (*Response, error)
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is a completed model turn.
type Response struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
}

// ProviderError is returned when the API responds with an error status.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited returns true for HTTP 429.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// IsOverloaded returns true for HTTP 529.
func (err *ProviderError) IsOverloaded() bool {
	return err.StatusCode == 529
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRateLimited() || pe.IsOverloaded() || pe.StatusCode >= 500
	}
	return false
}

// classify attaches an sdkerr kind to a provider failure while keeping the
// ProviderError reachable through errors.As.
func classify(err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.IsRateLimited():
			return sdkerr.Wrap(sdkerr.KindRateLimit, err, "llm rate limited")
		case pe.StatusCode == http.StatusUnauthorized || pe.StatusCode == http.StatusForbidden:
			return sdkerr.Wrap(sdkerr.KindAuthentication, err, "llm authentication failed")
		default:
			return sdkerr.Wrap(sdkerr.KindTaskExecution, err, "llm request failed")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sdkerr.Wrap(sdkerr.KindTimeout, err, "llm request timed out")
	}
	return sdkerr.Wrap(sdkerr.KindCommunication, err, "llm request failed")
}

// doRequest marshals wireRequest as JSON and POSTs it to endpoint. Returns
// a ProviderError for non-200 status codes. On success the caller closes
// the body.
func doRequest(ctx context.Context, client *http.Client, endpoint string, headers http.Header, wireRequest any) (*http.Response, error) {
	body, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readProviderError(resp)
	}
	return resp, nil
}

// readProviderError parses {"error":{"type":"...","message":"..."}}.
func readProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: string(body)}
}
