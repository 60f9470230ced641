package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/hashi/common/redact"
)

const defaultTimeout = 30 * time.Second

// Completer is the single operation the router needs from the gateway.
// Implementations must be safe for concurrent use.
type Completer interface {
	// Complete sends prompt to the named provider authenticated with
	// credential and returns the reply text. Fails with ErrUnknownProvider
	// (no network call) or *UpstreamError.
	Complete(ctx context.Context, name, credential, prompt string) (string, error)
}

// Gateway issues completion requests against the provider registry.
// One POST per invocation; retries are the caller's decision.
type Gateway struct {
	registry *Registry
	client   *http.Client
}

// NewGateway returns a Gateway over the given registry. A zero timeout
// defaults to 30 s.
func NewGateway(registry *Registry, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{
		registry: registry,
		client:   &http.Client{Timeout: timeout},
	}
}

// --- provider wire types ---

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireChoice struct {
	Message wireMessage `json:"message"`
}

// wireResponse covers both the success shape and the two error shapes seen
// upstream: a nested error object or top-level message/code fields.
type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Error   *struct {
		Message string      `json:"message"`
		Code    looseString `json:"code"`
	} `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Code    looseString `json:"code,omitempty"`
}

// looseString accepts both string and numeric JSON values; some providers
// report error codes as numbers.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	*s = looseString(bytes.TrimSpace(data))
	return nil
}

// Complete implements Completer.
func (g *Gateway) Complete(ctx context.Context, name, credential, prompt string) (string, error) {
	cfg, ok := g.registry.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	// Merge the static payload template with the prompt as the sole message.
	body := make(map[string]any, len(cfg.Payload)+1)
	for k, v := range cfg.Payload {
		body[k] = v
	}
	body["messages"] = []wireMessage{{Role: "user", Content: prompt}}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	// The credential always wins over a static Authorization header.
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := g.client.Do(req)
	if err != nil {
		ue := &UpstreamError{
			Category: CategoryNetwork,
			Message:  redact.String(err.Error(), credential),
			Code:     "network_error",
		}
		slog.Warn("provider request failed before a response", "provider", name, "err", ue.Message)
		return "", ue
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UpstreamError{
			Category: CategoryNetwork,
			Message:  redact.String(err.Error(), credential),
			Code:     "network_error",
		}
	}

	var wire wireResponse
	// A decode failure on an error status is fine; the status text carries
	// enough detail. On a success status it means an unusable reply.
	decodeErr := json.Unmarshal(respBody, &wire)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || wire.Error != nil {
		ue := newUpstreamError(resp.StatusCode, &wire)
		ue.Message = redact.String(ue.Message, credential)
		slog.Warn("provider reported an error",
			"provider", name,
			"category", ue.Category,
			"status", resp.StatusCode,
			"code", ue.Code,
		)
		return "", ue
	}

	if decodeErr != nil {
		return "", &UpstreamError{
			Category:   CategoryGeneric,
			Message:    "undecodable provider response",
			Code:       "bad_response",
			HTTPStatus: resp.StatusCode,
		}
	}
	if len(wire.Choices) == 0 {
		return "", &UpstreamError{
			Category:   CategoryGeneric,
			Message:    "no choices returned",
			Code:       "empty_response",
			HTTPStatus: resp.StatusCode,
		}
	}

	return wire.Choices[0].Message.Content, nil
}

// newUpstreamError extracts the richest available error detail and assigns
// the category here, at parse time, so nothing downstream matches on text.
func newUpstreamError(status int, wire *wireResponse) *UpstreamError {
	message := http.StatusText(status)
	code := "unknown_error"

	if wire.Message != "" {
		message = wire.Message
	}
	if wire.Code != "" {
		code = string(wire.Code)
	}
	if wire.Error != nil {
		if wire.Error.Message != "" {
			message = wire.Error.Message
		}
		if wire.Error.Code != "" {
			code = string(wire.Error.Code)
		}
	}

	return &UpstreamError{
		Category:   classify(status, message, code),
		Message:    message,
		Code:       code,
		HTTPStatus: status,
	}
}

// classify maps the provider's error detail onto a Category. The rules mirror
// the observable behaviors of the supported vendors.
func classify(status int, message, code string) Category {
	switch {
	case strings.Contains(code, "invalid_api_key") || strings.Contains(message, "invalid_api_key"):
		return CategoryInvalidCredential
	case status == http.StatusForbidden ||
		strings.Contains(message, "doesn't have any credits") ||
		strings.Contains(code, "insufficient_credits") ||
		strings.Contains(message, "insufficient_credits"):
		return CategoryInsufficientCredit
	case status == http.StatusTooManyRequests ||
		strings.Contains(code, "insufficient_quota") ||
		strings.Contains(message, "insufficient_quota") ||
		strings.Contains(message, "exceeded your current quota"):
		return CategoryQuotaExceeded
	default:
		return CategoryGeneric
	}
}
