package routing

import (
	"strings"

	"github.com/caldera-labs/chatrouter/internal/modelregistry"
)

// legacyAliases keeps backwards-compatibility tier strings resolving to
// their current tier key.
var legacyAliases = map[string]string{
	"sonnet-4.5": modelregistry.TierSonnet46,
	"opus-4.5":   modelregistry.TierOpus46,
	"haiku-4":    modelregistry.TierHaiku45,
}

// fragment is a natural-language phrase that resolves to a tier. Matched in
// declared order; the first match wins.
type fragment struct {
	phrase string
	tier   string
}

var fragments = []fragment{
	{"gemini 3.1 pro", modelregistry.TierGemini31Pro},
	{"gemini-3.1-pro", modelregistry.TierGemini31Pro},
	{"gemini 3 flash", modelregistry.TierGeminiFlash},
	{"gemini-3-flash", modelregistry.TierGeminiFlash},
	{"gemini flash", modelregistry.TierGeminiFlash},
	{"gpt mini", modelregistry.TierGPT5Mini},
	{"gpt-5 mini", modelregistry.TierGPT5Mini},
	{"gpt5 mini", modelregistry.TierGPT5Mini},
	{"sonnet", modelregistry.TierSonnet46},
	{"opus", modelregistry.TierOpus46},
	{"haiku", modelregistry.TierHaiku45},
}

// NormalizeOverride accepts a case-insensitive tier key, a "provider:tier"
// qualified form, a natural-language fragment, or a legacy alias, and
// returns the canonical tier key — or "" if nothing recognized ("no
// override", routing proceeds automatically). It never fails.
func NormalizeOverride(raw string) string {
	if raw == "" {
		return ""
	}
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return ""
	}

	// (a) exact tier key.
	if _, ok := modelregistry.Lookup(v); ok {
		return v
	}

	// Legacy alias (checked before qualified-form/fragment parsing so an
	// exact legacy string always resolves).
	if tier, ok := legacyAliases[v]; ok {
		return tier
	}

	// (b) provider:tier qualified form — accept and validate the tier
	// half regardless of what precedes the colon.
	if idx := strings.LastIndex(v, ":"); idx >= 0 {
		tierPart := strings.TrimSpace(v[idx+1:])
		if _, ok := modelregistry.Lookup(tierPart); ok {
			return tierPart
		}
		if tier, ok := legacyAliases[tierPart]; ok {
			return tier
		}
	}

	// (c) natural-language fragments.
	for _, f := range fragments {
		if strings.Contains(v, f.phrase) {
			return f.tier
		}
	}

	return ""
}
