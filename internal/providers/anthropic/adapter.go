// Package anthropic implements the P-A provider adapter: Anthropic-shaped
// messages API, streamed (endpoint, header, and error classification shape,
// plus SSE streaming support).
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/caldera-labs/chatrouter/internal/providers"
	"github.com/caldera-labs/chatrouter/internal/routing"
	"github.com/caldera-labs/chatrouter/internal/transform"
)

// Adapter implements providers.Adapter for Anthropic.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new Anthropic adapter. The HTTP client timeout is 30s
// unless WithTimeout sets another value.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.client.Timeout = d
	}
}

func (a *Adapter) ID() string { return a.id }

// HealthEndpoint returns a URL for health probing. A GET to the messages
// endpoint returns 405 (Method Not Allowed) which proves reachability.
func (a *Adapter) HealthEndpoint() string {
	return a.baseURL + "/v1/messages"
}

// Call builds the Anthropic messages request (fixed endpoint, max_tokens =
// budgetCap, stream: true) and returns the raw SSE body plus a delta
// extractor for content_block_delta events.
func (a *Adapter) Call(ctx context.Context, decision routing.Decision, messages []routing.Message, images []routing.ImageAttachment, _ providers.CallOptions) (providers.CallResult, error) {
	payload := map[string]any{
		"model":      decision.ProviderModelID,
		"max_tokens": decision.BudgetCap,
		"messages":   transform.ToAnthropic(messages, images),
		"stream":     true,
	}

	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	}

	stream, err := providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, headers)
	if err != nil {
		return providers.CallResult{}, err
	}

	return providers.CallResult{
		Stream:           stream,
		ExtractDeltas:    extractDeltas,
		EffectiveModelID: decision.ProviderModelID,
	}, nil
}

// extractDeltas pulls plain text out of an Anthropic content_block_delta
// event payload. Other event types (message_start, content_block_start,
// message_delta, message_stop, ping) yield no deltas.
func extractDeltas(payload []byte) []string {
	res := gjson.ParseBytes(payload)
	if res.Get("type").String() != "content_block_delta" {
		return nil
	}
	delta := res.Get("delta")
	if delta.Get("type").String() != "text_delta" {
		return nil
	}
	text := delta.Get("text").String()
	if text == "" {
		return nil
	}
	return []string{text}
}

func (a *Adapter) ClassifyError(err error) providers.ErrorClass {
	var se *providers.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429 || se.StatusCode == 529:
			return providers.ErrRateLimited
		case se.StatusCode >= 500:
			return providers.ErrTransient
		case strings.Contains(se.Body, "prompt is too long") || strings.Contains(se.Body, "prompt_too_long"):
			return providers.ErrContextOverflow
		}
	}
	return providers.ErrFatal
}
