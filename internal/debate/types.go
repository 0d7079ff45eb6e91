// Package debate implements the Debate Orchestrator: a bounded parallel
// fan-out of cheap "challenger" models that critique the user request
// before the primary model synthesizes a final answer. The fan-out itself
// (parallel dispatch with each challenger writing its own result slot,
// join-on-all, zero-success fallback) is built on golang.org/x/sync/errgroup.
package debate

// Profile is the closed variant set of recognized debate profiles.
type Profile string

const (
	ProfileGeneral Profile = "general"
	ProfileCode    Profile = "code"
	ProfileVideoUI Profile = "video_ui"
)

// Trigger records why debate ran, surfaced in X-Debate-Trigger.
type Trigger string

const (
	TriggerExplicit Trigger = "explicit"
	TriggerAuto     Trigger = "auto"
)

// Challenger is one slot in a DebatePlan.
type Challenger struct {
	Role      string
	ModelTier string
}

// Plan is a DebatePlan: the profile, its (deduplicated, primary-filtered)
// challenger list, and the per-challenger text clamp.
type Plan struct {
	Profile            Profile
	Challengers        []Challenger
	MaxChallengerChars int
}

// ChallengerOutput is one challenger's completed, clamped response.
type ChallengerOutput struct {
	Role      string
	ModelTier string
	Text      string
}

// Result is what Run returns: either the plan actually executed (Ran =
// true) with synthesis inputs, or Ran = false meaning the zero-challenger
// silent fallback applies and the caller should use the normal single-
// provider path instead.
type Result struct {
	Ran     bool
	Outputs []ChallengerOutput
}

// clampText truncates s to at most n characters (runes), per
// maxChallengerChars.
func clampText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
