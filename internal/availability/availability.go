// Package availability implements the Provider Availability Normalizer:
// given a routing decision, it either confirms the decision's provider is
// ready or re-targets to a safe fallback.
//
// Readiness builds on a two-gate model (enabled, credentialsPresent) with a
// third, ambient gate reusing internal/health.Tracker's consecutive-error
// cooldown: a provider that is enabled and credentialed but currently
// erroring out is also treated as not-ready. This can only make a ready
// provider less available, never the reverse.
package availability

import (
	"fmt"

	"github.com/caldera-labs/chatrouter/internal/health"
	"github.com/caldera-labs/chatrouter/internal/modelregistry"
	"github.com/caldera-labs/chatrouter/internal/routing"
)

// Gate reports static readiness for one provider.
type Gate struct {
	Enabled            bool
	CredentialsPresent bool
}

// Config is the set of per-provider gates plus the health tracker used for
// the ambient runtime-availability enrichment.
type Config struct {
	Gates  map[string]Gate // keyed by modelregistry.Provider string value
	Health *health.Tracker // optional; nil disables the runtime enrichment
}

// fallbackOrder is the configured fallback chain: P-G -> P-O -> P-A.
var fallbackOrder = []struct {
	Provider string
	Tier     string
}{
	{string(modelregistry.ProviderGemini), modelregistry.TierGeminiFlash},
	{string(modelregistry.ProviderOpenAI), modelregistry.TierGPT5Mini},
	{string(modelregistry.ProviderAnthropic), modelregistry.TierSonnet46},
}

// UnavailableError is returned when an explicit manual override names a
// provider that isn't ready.
type UnavailableError struct {
	Provider string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s is not available", e.Provider)
}

// NoProviderReadyError is returned when no provider in the fallback chain
// is ready — a server-misconfiguration condition.
type NoProviderReadyError struct{}

func (e *NoProviderReadyError) Error() string {
	return "no provider is ready: check enabled flags and credentials"
}

func (c Config) ready(provider string) bool {
	g, ok := c.Gates[provider]
	if !ok || !g.Enabled || !g.CredentialsPresent {
		return false
	}
	if c.Health != nil && !c.Health.IsAvailable(provider) {
		return false
	}
	return true
}

// Normalize checks decision.Provider against the configured gates. wasManualOverride
// must reflect whether the decision's rationale came from an explicit
// override (routing.RouteDecision doesn't carry that bit itself).
func Normalize(decision routing.Decision, wasManualOverride bool, cfg Config) (routing.Decision, error) {
	if cfg.ready(decision.Provider) {
		return decision, nil
	}

	if wasManualOverride {
		return decision, &UnavailableError{Provider: decision.Provider}
	}

	for _, fb := range fallbackOrder {
		if !cfg.ready(fb.Provider) {
			continue
		}
		entry, ok := modelregistry.Lookup(fb.Tier)
		if !ok {
			continue
		}
		return routing.Decision{
			Provider:        string(entry.Provider),
			ProviderModelID: entry.ProviderModelID,
			ModelTier:       fb.Tier,
			BudgetCap:       entry.BudgetCap,
			RationaleTag:    "provider-unavailable-fallback-" + decision.Provider,
			ComplexityScore: decision.ComplexityScore,
		}, nil
	}

	return decision, &NoProviderReadyError{}
}
