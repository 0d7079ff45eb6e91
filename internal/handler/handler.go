// Package handler implements the Request Handler: the single HTTP endpoint
// that strings together auth, ownership checks, memory retrieval, routing,
// availability normalization, optional debate orchestration, the provider
// call, and SSE normalization, using a deps-struct-plus-ServeHTTP shape
// built around this system's own pipeline and collaborator
// interfaces.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caldera-labs/chatrouter/internal/apierr"
	"github.com/caldera-labs/chatrouter/internal/availability"
	"github.com/caldera-labs/chatrouter/internal/collab"
	"github.com/caldera-labs/chatrouter/internal/debate"
	"github.com/caldera-labs/chatrouter/internal/memory"
	"github.com/caldera-labs/chatrouter/internal/metrics"
	"github.com/caldera-labs/chatrouter/internal/modelregistry"
	"github.com/caldera-labs/chatrouter/internal/pricing"
	"github.com/caldera-labs/chatrouter/internal/providers"
	"github.com/caldera-labs/chatrouter/internal/routing"
	"github.com/caldera-labs/chatrouter/internal/sse"
	"github.com/caldera-labs/chatrouter/internal/tokenest"
)

const defaultFunctionTimeout = 55 * time.Second

// Deps are the Request Handler's collaborators, assembled in internal/app.
type Deps struct {
	Auth           collab.AuthValidator
	Conversations  collab.ConversationStore
	Memory         collab.MemoryStore
	VideoArtifacts collab.VideoArtifactStore

	Adapters           map[modelregistry.Provider]providers.Adapter
	AvailabilityConfig func() availability.Config

	Debate *debate.Orchestrator

	MemoryManager *memory.Manager

	Logger  *slog.Logger
	Metrics *metrics.Registry

	FunctionTimeout time.Duration

	EnableDebateMode bool
	EnableDebateAuto bool
	DebateThreshold  int
}

// Handler serves POST /v1/chat/stream.
type Handler struct {
	d Deps
}

// New builds a Handler from its dependencies, filling in defaults.
func New(d Deps) *Handler {
	if d.FunctionTimeout <= 0 {
		d.FunctionTimeout = defaultFunctionTimeout
	}
	if d.DebateThreshold <= 0 {
		d.DebateThreshold = 85
	}
	return &Handler{d: d}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeAPIError(w, logger, apierr.New(apierr.Unauthorized, "missing bearer token"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.d.FunctionTimeout)
	defer cancel()

	userID, err := h.d.Auth.Verify(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			writeAPIError(w, logger, apierr.New(apierr.DeadlineExceeded, "request deadline exceeded"))
			return
		}
		writeAPIError(w, logger, apierr.New(apierr.Unauthorized, "invalid credentials"))
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2<<20)).Decode(&req); err != nil {
		writeBadRequest(w, logger, "malformed request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeBadRequest(w, logger, msg)
		return
	}

	exists, totalTokens, err := h.d.Conversations.VerifyOwnership(ctx, req.ConversationID, userID)
	if err != nil {
		if ctx.Err() != nil {
			writeAPIError(w, logger, apierr.New(apierr.DeadlineExceeded, "request deadline exceeded"))
			return
		}
		writeAPIError(w, logger, apierr.New(apierr.ServerMisconfig, "conversation lookup failed"))
		return
	}
	if !exists {
		writeAPIError(w, logger, apierr.New(apierr.Forbidden, "conversation does not belong to caller"))
		return
	}

	videoBlock := ""
	if len(req.VideoAssetIDs) > 0 {
		ready, allReady, err := h.d.VideoArtifacts.ListReadyFor(ctx, req.VideoAssetIDs, userID)
		if err != nil || !allReady {
			writeAPIError(w, logger, apierr.VideoNotReadyErr())
			return
		}
		videoBlock = buildVideoContext(ready)
	}

	memBlock, memTokens, memHitCount := "", 0, 0
	if h.d.Memory != nil {
		block, toks, hits, err := memory.FetchRelevant(ctx, h.d.Memory, userID, req.Query)
		if err != nil {
			logger.Warn("memory retrieval failed, degrading silently", slog.String("error", err.Error()))
		} else {
			memBlock, memTokens, memHitCount = block, toks, hits
		}
	}

	queryForModel := memory.Inject(combineBlocks(memBlock, videoBlock), req.Query)

	params := routing.Params{
		UserQuery:            queryForModel,
		CurrentSessionTokens: totalTokens + memTokens,
		Platform:             routing.Platform(req.Platform),
		History:              req.toRoutingHistory(),
		Images:               req.toRoutingImages(),
		HasVideoAssets:       len(req.VideoAssetIDs) > 0,
	}

	manualOverride := routing.NormalizeOverride(req.ModelOverride)
	decision := routing.DetermineRoute(params, manualOverride)

	if h.d.AvailabilityConfig != nil {
		decision, err = availability.Normalize(decision, manualOverride != "", h.d.AvailabilityConfig())
		if err != nil {
			var unavail *availability.UnavailableError
			if errors.As(err, &unavail) {
				writeAPIError(w, logger, apierr.New(apierr.ProviderUnavailable, err.Error()))
				return
			}
			writeAPIError(w, logger, apierr.New(apierr.ServerMisconfig, err.Error()))
			return
		}
	}

	debateResult, debateProfile, debateTrigger := h.maybeRunDebate(ctx, req, params, decision)

	adapter, ok := h.d.Adapters[modelregistry.Provider(decision.Provider)]
	if !ok {
		writeAPIError(w, logger, apierr.New(apierr.ServerMisconfig, "no adapter configured for provider "+decision.Provider))
		return
	}

	if err := h.d.Conversations.RecordMessage(ctx, collab.Message{
		ConversationID: req.ConversationID,
		Role:           "user",
		Content:        req.Query,
		ModelUsed:      decision.ModelTier,
	}); err != nil {
		logger.Error("failed to persist user message", slog.String("error", err.Error()))
	}

	finalQuery := queryForModel
	if debateResult.Ran {
		finalQuery = debate.BuildSynthesisPrompt(queryForModel, debateResult.Outputs)
	}
	messages := append(append([]routing.Message{}, params.History...), routing.Message{Role: routing.RoleUser, Content: finalQuery})

	thinkingLevel := "n/a"
	if decision.Provider == string(modelregistry.ProviderGemini) && decision.ModelTier == modelregistry.TierGeminiFlash {
		thinkingLevel = req.geminiThinkingLevel()
	}

	preflight := pricing.PreFlightCost(decision.ModelTier, finalQuery, len(params.Images), 0, tokenest.Tokens)

	start := time.Now()
	result, err := adapter.Call(ctx, decision, messages, params.Images, providers.CallOptions{ThinkingLevel: thinkingLevelHint(thinkingLevel)})
	if err != nil {
		if ctx.Err() != nil {
			writeAPIError(w, logger, apierr.New(apierr.DeadlineExceeded, "request deadline exceeded"))
			return
		}
		writeAPIError(w, logger, apierr.Upstream(decision.Provider, err.Error()))
		return
	}
	if result.EffectiveThinkingLevel == "none" {
		thinkingLevel = "n/a"
	} else if result.EffectiveThinkingLevel != "" {
		thinkingLevel = result.EffectiveThinkingLevel
	}

	writeResponseHeaders(w, decision, manualOverride, debateResult, debateProfile, debateTrigger, thinkingLevel, memTokens, memHitCount, preflight)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	out := flushWriter{w: w, f: flusher}

	var assistantText strings.Builder
	var usage pricing.Usage
	_ = sse.Normalize(ctx, result.Stream, result.ExtractDeltas, out, sse.Hooks{
		OnDelta: func(text string) { assistantText.WriteString(text) },
		OnUsage: func(u pricing.Usage) { usage = u },
		OnComplete: func(completeErr error) {
			h.onStreamComplete(context.Background(), req, userID, decision, totalTokens+memTokens, assistantText.String(), usage, start, completeErr)
		},
	})
}

func (h *Handler) onStreamComplete(ctx context.Context, req chatRequest, userID string, decision routing.Decision, sessionTokens int, assistantText string, usage pricing.Usage, start time.Time, streamErr error) {
	logger := h.d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	status := "ok"
	if streamErr != nil {
		status = "error"
		logger.Warn("sse stream ended with error", slog.String("error", streamErr.Error()))
	}

	if h.d.Metrics != nil {
		h.d.Metrics.RequestsTotal.WithLabelValues(req.Mode, decision.ModelTier, decision.Provider, status).Inc()
		h.d.Metrics.RequestLatency.WithLabelValues(req.Mode, decision.ModelTier, decision.Provider).Observe(float64(time.Since(start).Milliseconds()))
		final := pricing.FinalCost(decision.ModelTier, usage)
		h.d.Metrics.CostUSD.WithLabelValues(decision.ModelTier, decision.Provider).Add(final.EstimatedUSD)
	}

	if assistantText != "" {
		if err := h.d.Conversations.RecordMessage(ctx, collab.Message{
			ConversationID: req.ConversationID,
			Role:           "assistant",
			Content:        assistantText,
			TokenCount:     usage.CompletionTokens,
			ModelUsed:      decision.ModelTier,
		}); err != nil {
			logger.Error("failed to persist assistant message", slog.String("error", err.Error()))
		}
	}

	delta := usage.PromptTokens + usage.CompletionTokens
	if delta == 0 {
		delta = tokenest.Tokens(assistantText)
	}
	if err := h.d.Conversations.IncrementTokens(ctx, req.ConversationID, delta); err != nil {
		logger.Error("failed to increment conversation tokens", slog.String("error", err.Error()))
	}

	if h.d.MemoryManager != nil {
		h.d.MemoryManager.MaybeSummarize(ctx, req.ConversationID, userID, sessionTokens+delta)
	}
}

func (h *Handler) maybeRunDebate(ctx context.Context, req chatRequest, params routing.Params, decision routing.Decision) (debate.Result, debate.Profile, debate.Trigger) {
	if h.d.Debate == nil || !h.d.EnableDebateMode {
		return debate.Result{}, "", ""
	}

	hasImages := len(params.Images) > 0
	hasVideo := params.HasVideoAssets

	var profile debate.Profile
	var trigger debate.Trigger

	if req.Mode == "debate" {
		profile = debate.Profile(req.DebateProfile)
		trigger = debate.TriggerExplicit
	} else if h.d.EnableDebateAuto && decision.ComplexityScore >= h.d.DebateThreshold {
		profile = debate.ProfileGeneral
		if strings.Contains(decision.RationaleTag, "code") {
			profile = debate.ProfileCode
		}
		trigger = debate.TriggerAuto
	} else {
		return debate.Result{}, "", ""
	}

	if err := debate.CheckEligibility(profile, trigger, hasImages, hasVideo); err != nil {
		return debate.Result{}, "", ""
	}

	plan, ok := debate.GetDebatePlan(profile, decision.ModelTier)
	if !ok {
		return debate.Result{}, "", ""
	}

	return h.d.Debate.Run(ctx, plan, req.Query), profile, trigger
}

func writeResponseHeaders(w http.ResponseWriter, decision routing.Decision, manualOverride string, debateResult debate.Result, debateProfile debate.Profile, debateTrigger debate.Trigger, thinkingLevel string, memTokens int, memHitCount int, preflight pricing.PreFlight) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Router-Model", decision.ModelTier)
	h.Set("X-Router-Model-Id", decision.ProviderModelID)
	h.Set("X-Provider", decision.Provider)
	h.Set("X-Router-Rationale", decision.RationaleTag)
	h.Set("X-Complexity-Score", strconv.Itoa(decision.ComplexityScore))
	h.Set("X-Gemini-Thinking-Level", thinkingLevel)
	h.Set("X-Memory-Hits", strconv.Itoa(memHitCount))
	h.Set("X-Memory-Tokens", strconv.Itoa(memTokens))
	h.Set("X-Cost-Estimate-USD", strconv.FormatFloat(preflight.EstimatedUSD, 'f', 6, 64))
	h.Set("X-Cost-Pricing-Version", preflight.PricingVersion)

	switch {
	case debateResult.Ran:
		h.Set("X-Model-Override", "debate:"+string(debateProfile))
	case manualOverride != "":
		h.Set("X-Model-Override", manualOverride)
	default:
		h.Set("X-Model-Override", "auto")
	}

	if debateResult.Ran {
		h.Set("X-Debate-Mode", "true")
		h.Set("X-Debate-Profile", string(debateProfile))
		h.Set("X-Debate-Trigger", string(debateTrigger))
		h.Set("X-Debate-Model", decision.ModelTier)
		h.Set("X-Debate-Cost-Note", "partial")
	}
}

func buildVideoContext(ready []collab.VideoArtifact) string {
	if len(ready) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("### Video Context\n")
	for _, v := range ready {
		b.WriteString("- ")
		b.WriteString(v.Title)
		b.WriteString(": ")
		b.WriteString(v.Summary)
		b.WriteString(" (")
		b.WriteString(strconv.Itoa(v.DurationSec))
		b.WriteString("s)\n")
	}
	b.WriteString("### End Video Context")
	return b.String()
}

func combineBlocks(blocks ...string) string {
	var nonEmpty []string
	for _, b := range blocks {
		if b != "" {
			nonEmpty = append(nonEmpty, b)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

func thinkingLevelHint(level string) string {
	if level == "low" || level == "high" {
		return level
	}
	return ""
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// flushWriter wraps an http.ResponseWriter so every Write is flushed
// immediately, matching SSE's one-event-at-a-time delivery expectation.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}
