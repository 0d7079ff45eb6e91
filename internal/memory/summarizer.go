package memory

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/caldera-labs/chatrouter/internal/modelregistry"
	"github.com/caldera-labs/chatrouter/internal/providers"
	"github.com/caldera-labs/chatrouter/internal/routing"
	"github.com/caldera-labs/chatrouter/internal/sse"
)

// summarizeTimeout bounds the whole fallback chain, per §4.10.
const summarizeTimeout = 15 * time.Second

// fallbackTiers is the "first available provider" order from §4.10:
// P-O, then P-A, then P-G.
var fallbackTiers = []string{
	modelregistry.TierGPT5Mini,
	modelregistry.TierHaiku45,
	modelregistry.TierGeminiFlash,
}

const summarizePrompt = "Extract durable, long-term facts about the user from the conversation below. " +
	"Write 1-3 sentences capturing preferences, goals, or stable facts worth remembering across sessions. " +
	"Omit anything transient or already obvious from context.\n\nConversation:\n"

// AdapterResolver resolves a model tier to its provider adapter, mirroring
// the debate orchestrator's collaborator shape so both consumers can share
// one wiring convention in internal/app.
type AdapterResolver func(tier string) (providers.Adapter, bool)

// Summarizer implements temporal.Summarizer by running the extraction
// prompt against the first available provider in fallbackTiers, matching
// §4.10's fallback chain and 15s timeout.
type Summarizer struct {
	Resolve AdapterResolver
}

// Summarize runs the extraction prompt against each fallback tier in turn,
// returning the first success. All tiers failing returns the last error.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	var lastErr error
	for _, tier := range fallbackTiers {
		text, err := s.tryTier(ctx, tier, transcript)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("memory: all providers failed: %w", lastErr)
}

func (s *Summarizer) tryTier(ctx context.Context, tier, transcript string) (string, error) {
	adapter, ok := s.Resolve(tier)
	if !ok {
		return "", fmt.Errorf("memory: no adapter for tier %s", tier)
	}
	entry, ok := modelregistry.Lookup(tier)
	if !ok {
		return "", fmt.Errorf("memory: unknown tier %s", tier)
	}

	decision := routing.Decision{
		Provider:        string(entry.Provider),
		ProviderModelID: entry.ProviderModelID,
		ModelTier:       tier,
		BudgetCap:       entry.BudgetCap,
	}
	messages := []routing.Message{
		{Role: routing.RoleUser, Content: summarizePrompt + transcript},
	}

	result, err := adapter.Call(ctx, decision, messages, nil, providers.CallOptions{})
	if err != nil {
		return "", err
	}

	var text string
	err = sse.Normalize(ctx, result.Stream, result.ExtractDeltas, io.Discard, sse.Hooks{
		OnDelta: func(s string) { text += s },
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("memory: empty summary from %s", tier)
	}
	return text, nil
}
