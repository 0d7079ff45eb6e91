package debate

import (
	"context"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caldera-labs/chatrouter/internal/modelregistry"
	"github.com/caldera-labs/chatrouter/internal/providers"
	"github.com/caldera-labs/chatrouter/internal/routing"
	"github.com/caldera-labs/chatrouter/internal/sse"
)

// AdapterResolver returns the provider adapter that serves a model tier.
type AdapterResolver func(tier string) (providers.Adapter, bool)

// StageTimeouts configures per-profile challenger wall-clock budgets, set
// from DEBATE_VIDEO_UI_STAGE_TIMEOUT_MS et al.
type StageTimeouts struct {
	General time.Duration
	Code    time.Duration
	VideoUI time.Duration
}

func (t StageTimeouts) forProfile(p Profile) time.Duration {
	switch p {
	case ProfileCode:
		if t.Code > 0 {
			return t.Code
		}
	case ProfileVideoUI:
		if t.VideoUI > 0 {
			return t.VideoUI
		}
	}
	if t.General > 0 {
		return t.General
	}
	return 11 * time.Second
}

// WorkerMaxTokens holds the DEBATE_WORKER_MAX_TOKENS_{GENERAL,CODE,VIDEO_UI}
// per-worker budget caps applied on top of the challenger's registry cap.
type WorkerMaxTokens struct {
	General int
	Code    int
	VideoUI int
}

func (w WorkerMaxTokens) forProfile(p Profile) int {
	switch p {
	case ProfileCode:
		return w.Code
	case ProfileVideoUI:
		return w.VideoUI
	default:
		return w.General
	}
}

// Orchestrator runs a Plan's challengers in parallel and, on at least one
// success, leaves synthesis prompt assembly to the caller (Run returns the
// clamped outputs; BuildSynthesisPrompt turns them into the composite
// message).
type Orchestrator struct {
	Resolve  AdapterResolver
	Timeouts StageTimeouts
	MaxToks  WorkerMaxTokens
}

// Run launches one goroutine per challenger with an independent cancellation
// handle and a per-profile wall-clock timeout. A challenger that errors or
// times out contributes no output — it is never treated as a hard failure.
// If zero challengers produce non-empty text, Result.Ran is false and the
// caller must fall through to the normal single-provider path.
func (o *Orchestrator) Run(ctx context.Context, plan Plan, userQuery string) Result {
	if len(plan.Challengers) == 0 {
		return Result{Ran: false}
	}

	timeout := o.Timeouts.forProfile(plan.Profile)
	tokenCap := o.MaxToks.forProfile(plan.Profile)

	texts := make([]string, len(plan.Challengers))
	var g errgroup.Group

	for i, c := range plan.Challengers {
		i, c := i, c
		g.Go(func() error {
			text, err := o.runChallenger(ctx, c, userQuery, timeout, tokenCap)
			if err != nil {
				return nil // swallowed: a failed challenger contributes no output
			}
			texts[i] = clampText(text, plan.MaxChallengerChars)
			return nil
		})
	}
	_ = g.Wait() // child funcs never return non-nil; Wait only joins

	var outputs []ChallengerOutput
	for i, c := range plan.Challengers {
		if texts[i] == "" {
			continue
		}
		outputs = append(outputs, ChallengerOutput{Role: c.Role, ModelTier: c.ModelTier, Text: texts[i]})
	}
	if len(outputs) == 0 {
		return Result{Ran: false}
	}
	return Result{Ran: true, Outputs: outputs}
}

func (o *Orchestrator) runChallenger(parent context.Context, c Challenger, userQuery string, timeout time.Duration, tokenCap int) (string, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	adapter, ok := o.Resolve(c.ModelTier)
	if !ok {
		return "", &EligibilityError{Reason: "no adapter for tier " + c.ModelTier}
	}
	entry, ok := modelregistry.Lookup(c.ModelTier)
	if !ok {
		return "", &EligibilityError{Reason: "unknown tier " + c.ModelTier}
	}
	budget := entry.BudgetCap
	if tokenCap > 0 && tokenCap < budget {
		budget = tokenCap
	}

	decision := routing.Decision{
		Provider:        string(entry.Provider),
		ProviderModelID: entry.ProviderModelID,
		ModelTier:       c.ModelTier,
		BudgetCap:       budget,
	}
	messages := []routing.Message{{Role: routing.RoleUser, Content: BuildChallengerPrompt(c.Role, userQuery)}}

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
	return text, nil
}
