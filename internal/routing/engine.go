package routing

import (
	"github.com/caldera-labs/chatrouter/internal/modelregistry"
	"github.com/caldera-labs/chatrouter/internal/tokenest"
)

// DetermineRoute is the routing decision engine's entry point: purely
// functional, no I/O. manualOverride should already be normalized via
// NormalizeOverride; an empty string means "no override".
func DetermineRoute(params Params, manualOverride string) Decision {
	score := complexityScore(params)
	queryTokens := tokenest.Tokens(params.UserQuery)
	totalTokens := params.CurrentSessionTokens
	hasImages := len(params.Images) > 0
	codeHeavy := codeSignalCount(params.UserQuery) >= 2

	var tier, rationale string

	switch {
	case manualOverride != "":
		tier, rationale = manualOverride, "manual-override"

	case params.HasVideoAssets:
		tier, rationale = modelregistry.TierGemini31Pro, "video-default-pro"

	case hasImages:
		switch {
		case score >= 70 || totalTokens >= 60_000:
			tier, rationale = modelregistry.TierGemini31Pro, "images-complex"
		case score <= 30 && totalTokens < 30_000:
			tier, rationale = modelregistry.TierGeminiFlash, "images-fast"
		default:
			tier, rationale = modelregistry.TierGeminiFlash, "images-default-flash"
		}

	default:
		switch {
		case codeHeavy && score >= 45 && totalTokens < 90_000:
			tier, rationale = modelregistry.TierSonnet46, "code-quality-priority"
		case score >= 80 || totalTokens > 100_000:
			tier, rationale = modelregistry.TierOpus46, "high-complexity"
		case score <= 18 && queryTokens < 80 && totalTokens < 12_000:
			tier, rationale = modelregistry.TierGPT5Mini, "ultra-low-latency"
		case score <= 25 && queryTokens < 100 && totalTokens < 10_000:
			tier, rationale = modelregistry.TierHaiku45, "low-complexity"
		default:
			tier, rationale = modelregistry.TierGeminiFlash, "default-cost-optimized"
		}
	}

	entry, ok := modelregistry.Lookup(tier)
	if !ok {
		// Defensive fallback per the error-handling policy: routing cannot
		// fail in principle over typed input, so an unrecognized override
		// tier falls back to the default-cost-optimized tier rather than
		// propagating an error.
		entry, _ = modelregistry.Lookup(modelregistry.TierGeminiFlash)
		tier, rationale = modelregistry.TierGeminiFlash, "default-cost-optimized"
	}

	return Decision{
		Provider:        string(entry.Provider),
		ProviderModelID: entry.ProviderModelID,
		ModelTier:       tier,
		BudgetCap:       entry.BudgetCap,
		RationaleTag:    rationale,
		ComplexityScore: score,
	}
}
