// Package gemini implements the P-G provider adapter: Gemini-shaped
// generateContent API, streamed over SSE (alt=sse). Grounded on
// eugener/gandalf's internal/provider/gemini/client.go for the endpoint
// shape (models/{id}:streamGenerateContent?alt=sse, x-goog-api-key header)
// and extended with the alias resolver and thinking-level hint per the
// component design.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/caldera-labs/chatrouter/internal/providers"
	"github.com/caldera-labs/chatrouter/internal/routing"
	"github.com/caldera-labs/chatrouter/internal/transform"
)

const flashTier = "gemini-3-flash"

// Adapter implements providers.Adapter for Gemini.
type Adapter struct {
	id       string
	apiKey   string
	baseURL  string
	client   *http.Client
	resolver *AliasResolver
}

// New creates a new Gemini adapter with its own alias resolver.
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
	a.resolver = NewAliasResolver(apiKey, baseURL, a.client)
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
	return a.baseURL + "/models"
}

// Call resolves the decision's modelTier to a concrete model id through the
// alias resolver, attaches the thinking-level hint for gemini-3-flash, and
// streams the response over SSE. A 400 mentioning "thinking" triggers one
// retry without the hint, reporting EffectiveThinkingLevel = "none".
func (a *Adapter) Call(ctx context.Context, decision routing.Decision, messages []routing.Message, images []routing.ImageAttachment, opts providers.CallOptions) (providers.CallResult, error) {
	modelID, err := a.resolver.ResolveAlias(ctx, decision.ModelTier)
	if err != nil {
		return providers.CallResult{}, err
	}

	thinkingLevel := opts.ThinkingLevel
	if decision.ModelTier != flashTier {
		thinkingLevel = ""
	}

	stream, effectiveLevel, err := a.doCall(ctx, modelID, messages, images, thinkingLevel)
	if err != nil {
		return providers.CallResult{}, err
	}

	return providers.CallResult{
		Stream:                 stream,
		ExtractDeltas:          extractDeltas,
		EffectiveModelID:       modelID,
		EffectiveThinkingLevel: effectiveLevel,
	}, nil
}

func (a *Adapter) doCall(ctx context.Context, modelID string, messages []routing.Message, images []routing.ImageAttachment, thinkingLevel string) (stream io.ReadCloser, effectiveLevel string, err error) {
	body := buildRequestBody(messages, images, thinkingLevel)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.baseURL, modelID)
	headers := map[string]string{"x-goog-api-key": a.apiKey}

	rc, callErr := providers.DoStreamRequest(ctx, a.client, url, body, headers)
	if callErr != nil {
		var se *providers.StatusError
		if thinkingLevel != "" && errors.As(callErr, &se) && se.StatusCode == 400 && strings.Contains(strings.ToLower(se.Body), "thinking") {
			body = buildRequestBody(messages, images, "")
			rc, callErr = providers.DoStreamRequest(ctx, a.client, url, body, headers)
			if callErr == nil {
				return rc, "none", nil
			}
		}
		return nil, "", callErr
	}
	if thinkingLevel != "" {
		return rc, thinkingLevel, nil
	}
	return rc, "", nil
}

func buildRequestBody(messages []routing.Message, images []routing.ImageAttachment, thinkingLevel string) map[string]any {
	body := map[string]any{
		"contents": transform.ToGemini(messages, images),
	}
	if thinkingLevel != "" {
		body["generationConfig"] = map[string]any{
			"thinkingConfig": map[string]any{"thinkingLevel": thinkingLevel},
		}
	}
	return body
}

// extractDeltas pulls plain text out of a Gemini streamGenerateContent SSE
// chunk. Chunks without a text part (safety blocks, finishReason-only
// tails) yield no deltas.
func extractDeltas(payload []byte) []string {
	res := gjson.ParseBytes(payload)
	text := res.Get("candidates.0.content.parts.0.text").String()
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
		case strings.Contains(se.Body, "exceeds the maximum"):
			return providers.ErrContextOverflow
		}
	}
	return providers.ErrFatal
}
