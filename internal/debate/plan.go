package debate

import "github.com/caldera-labs/chatrouter/internal/modelregistry"

// EligibilityError explains why a requested debate profile was refused.
type EligibilityError struct {
	Reason string
}

func (e *EligibilityError) Error() string { return e.Reason }

// CheckEligibility enforces §4.9's per-profile gates. auto triggers never
// apply to video_ui; that profile is explicit-only.
func CheckEligibility(profile Profile, trigger Trigger, hasImages, hasVideoAssets bool) error {
	switch profile {
	case ProfileGeneral, ProfileCode:
		if hasImages || hasVideoAssets {
			return &EligibilityError{Reason: "debate profile " + string(profile) + " refuses image or video assets"}
		}
		return nil
	case ProfileVideoUI:
		if trigger == TriggerAuto {
			return &EligibilityError{Reason: "video_ui debate is explicit-only"}
		}
		if !hasVideoAssets || hasImages {
			return &EligibilityError{Reason: "video_ui debate requires a ready video asset and no images"}
		}
		return nil
	default:
		return &EligibilityError{Reason: "unrecognized debate profile " + string(profile)}
	}
}

// GetDebatePlan builds the challenger roster for a profile, filtering out
// any challenger whose tier equals the primary decision's tier (general,
// code only — video_ui is exempt per spec).
func GetDebatePlan(profile Profile, primaryTier string) (Plan, bool) {
	switch profile {
	case ProfileGeneral:
		return filterPlan(Plan{
			Profile: ProfileGeneral,
			Challengers: []Challenger{
				{Role: "skeptic", ModelTier: modelregistry.TierGPT5Mini},
				{Role: "synthesist", ModelTier: modelregistry.TierGeminiFlash},
			},
			MaxChallengerChars: 2000,
		}, primaryTier, true), true

	case ProfileCode:
		return filterPlan(Plan{
			Profile: ProfileCode,
			Challengers: []Challenger{
				{Role: "critic", ModelTier: modelregistry.TierGPT5Mini},
				{Role: "implementer", ModelTier: modelregistry.TierHaiku45},
			},
			MaxChallengerChars: 2400,
		}, primaryTier, true), true

	case ProfileVideoUI:
		return Plan{
			Profile: ProfileVideoUI,
			Challengers: []Challenger{
				{Role: "UI Designer Critic", ModelTier: modelregistry.TierGemini31Pro},
				{Role: "Product QA/UX", ModelTier: modelregistry.TierGemini31Pro},
				{Role: "Customer Persona", ModelTier: modelregistry.TierGemini31Pro},
			},
			MaxChallengerChars: 1800,
		}, true

	default:
		return Plan{}, false
	}
}

// filterPlan drops challengers matching primaryTier when filterPrimary is
// set, deduplicates by (role, modelTier), and caps the roster at 2.
func filterPlan(p Plan, primaryTier string, filterPrimary bool) Plan {
	seen := make(map[string]bool, len(p.Challengers))
	out := p.Challengers[:0]
	for _, c := range p.Challengers {
		if filterPrimary && c.ModelTier == primaryTier {
			continue
		}
		key := c.Role + "|" + c.ModelTier
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	if len(out) > 2 {
		out = out[:2]
	}
	p.Challengers = out
	return p
}
