// Package openai implements the P-O provider adapter: OpenAI-shaped chat
// completions API, streamed (endpoint and bearer-auth shape), with streaming
// and the max_completion_tokens/max_tokens legacy retry
// added per the component design.
package openai

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

// Adapter implements providers.Adapter for OpenAI.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new OpenAI adapter.
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

func (a *Adapter) HealthEndpoint() string {
	return a.baseURL + "/v1/chat/completions"
}

// Call builds the chat-completions request with max_completion_tokens. Some
// older-generation models reject that field name with a 400 that names
// "max_completion_tokens" in the body; on that specific failure, Call retries
// once with the legacy max_tokens field instead of surfacing the error.
func (a *Adapter) Call(ctx context.Context, decision routing.Decision, messages []routing.Message, images []routing.ImageAttachment, _ providers.CallOptions) (providers.CallResult, error) {
	body := map[string]any{
		"model":    decision.ProviderModelID,
		"messages": transform.ToOpenAI(messages, images),
		"stream":   true,
	}

	body["max_completion_tokens"] = decision.BudgetCap
	stream, err := providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", body, a.headers())
	if err != nil {
		var se *providers.StatusError
		if errors.As(err, &se) && se.StatusCode == 400 && strings.Contains(se.Body, "max_completion_tokens") {
			delete(body, "max_completion_tokens")
			body["max_tokens"] = decision.BudgetCap
			stream, err = providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", body, a.headers())
		}
		if err != nil {
			return providers.CallResult{}, err
		}
	}

	return providers.CallResult{
		Stream:           stream,
		ExtractDeltas:    extractDeltas,
		EffectiveModelID: decision.ProviderModelID,
	}, nil
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}

// extractDeltas pulls plain text out of an OpenAI chat.completion.chunk
// payload. Chunks with an empty delta (role-only preamble, or the trailing
// finish_reason chunk) yield no deltas.
func extractDeltas(payload []byte) []string {
	res := gjson.ParseBytes(payload)
	text := res.Get("choices.0.delta.content").String()
	if text == "" {
		return nil
	}
	return []string{text}
}

func (a *Adapter) ClassifyError(err error) providers.ErrorClass {
	var se *providers.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return providers.ErrRateLimited
		case se.StatusCode >= 500:
			return providers.ErrTransient
		case strings.Contains(se.Body, "context_length_exceeded"):
			return providers.ErrContextOverflow
		}
	}
	return providers.ErrFatal
}
