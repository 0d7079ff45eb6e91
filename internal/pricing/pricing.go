// Package pricing holds the versioned per-model pricing registry and the
// cost engine's pre-flight and final cost computations. Grounded on the
// rate-table shape in the retrieval pack's maximhq/bifrost modelcatalog
// pricing code (separate "look up rate" / "compute cost" steps), kept
// deliberately simpler here: no cache tiers, no scoped multi-rate lookups.
package pricing

import "math"

// Version tags the whole pricing table.
const Version = "2026.07-1"

// Entry is a PricingEntry keyed by model tier.
type Entry struct {
	InputRatePer1M     float64
	OutputRatePer1M    float64
	ReasoningRatePer1M float64 // 0 means "use OutputRatePer1M"
	AsOfDate           string
	SourceRef          string
	IsEstimated        bool
}

var table = map[string]Entry{
	"sonnet-4.6": {InputRatePer1M: 3.00, OutputRatePer1M: 15.00, AsOfDate: "2026-06-01", SourceRef: "anthropic-pricing-2026-06", IsEstimated: false},
	"opus-4.6":   {InputRatePer1M: 15.00, OutputRatePer1M: 75.00, AsOfDate: "2026-06-01", SourceRef: "anthropic-pricing-2026-06", IsEstimated: false},
	"haiku-4.5":  {InputRatePer1M: 0.80, OutputRatePer1M: 4.00, AsOfDate: "2026-06-01", SourceRef: "anthropic-pricing-2026-06", IsEstimated: false},
	"gpt-5-mini": {InputRatePer1M: 0.25, OutputRatePer1M: 2.00, ReasoningRatePer1M: 2.00, AsOfDate: "2026-05-15", SourceRef: "openai-pricing-2026-05", IsEstimated: false},
	"gemini-3-flash": {InputRatePer1M: 0.15, OutputRatePer1M: 0.60, AsOfDate: "2026-04-20", SourceRef: "google-pricing-2026-04", IsEstimated: true},
	"gemini-3.1-pro": {InputRatePer1M: 2.50, OutputRatePer1M: 10.00, AsOfDate: "2026-04-20", SourceRef: "google-pricing-2026-04", IsEstimated: true},
}

// Lookup returns the pricing entry for a tier and whether one is registered.
func Lookup(tier string) (Entry, bool) {
	e, ok := table[tier]
	return e, ok
}

// PreFlight is the result of a pre-flight cost estimate.
type PreFlight struct {
	PromptTokens          int
	ProjectedOutputTokens int
	EstimatedUSD          float64
	PricingVersion        string
	HasUnknownRate        bool
}

// PreFlightCost computes promptTokens = tokens(text) + 1600*images + extra,
// projectedOutputTokens = max(64, ceil(promptTokens*0.35)), and the
// estimated USD cost. tokensFn is injected so callers reuse the shared
// tokenest.Tokens implementation without an import cycle.
func PreFlightCost(tier string, fullContextText string, imageCount int, extraPromptTokens int, tokensFn func(string) int) PreFlight {
	promptTokens := tokensFn(fullContextText) + 1600*imageCount + extraPromptTokens
	projected := int(math.Ceil(float64(promptTokens) * 0.35))
	if projected < 64 {
		projected = 64
	}

	entry, ok := table[tier]
	if !ok {
		return PreFlight{
			PromptTokens:          promptTokens,
			ProjectedOutputTokens: projected,
			EstimatedUSD:          0,
			PricingVersion:        Version,
			HasUnknownRate:        true,
		}
	}

	usd := entry.InputRatePer1M*float64(promptTokens)/1e6 + entry.OutputRatePer1M*float64(projected)/1e6
	return PreFlight{
		PromptTokens:          promptTokens,
		ProjectedOutputTokens: projected,
		EstimatedUSD:          round6(usd),
		PricingVersion:        Version,
		HasUnknownRate:        false,
	}
}

// Usage is the final-reconciliation usage counters from a provider response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
}

// Final is the result of the final cost reconciliation.
type Final struct {
	EstimatedUSD   float64
	PricingVersion string
	HasUnknownRate bool
}

// FinalCost mirrors PreFlightCost's formula against actual usage counters.
// The reasoning rate defaults to the output rate when unset.
func FinalCost(tier string, usage Usage) Final {
	entry, ok := table[tier]
	if !ok {
		return Final{EstimatedUSD: 0, PricingVersion: Version, HasUnknownRate: true}
	}
	reasoningRate := entry.ReasoningRatePer1M
	if reasoningRate == 0 {
		reasoningRate = entry.OutputRatePer1M
	}
	usd := entry.InputRatePer1M*float64(usage.PromptTokens)/1e6 +
		entry.OutputRatePer1M*float64(usage.CompletionTokens)/1e6 +
		reasoningRate*float64(usage.ReasoningTokens)/1e6
	return Final{EstimatedUSD: round6(usd), PricingVersion: Version, HasUnknownRate: false}
}

// round6 rounds a monetary value to 1e-6 USD, per spec.
func round6(usd float64) float64 {
	return math.Round(usd*1e6) / 1e6
}
