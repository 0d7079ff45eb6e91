package debate

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caldera-labs/chatrouter/internal/modelregistry"
	"github.com/caldera-labs/chatrouter/internal/providers"
	"github.com/caldera-labs/chatrouter/internal/routing"
)

type fakeStream struct{ *strings.Reader }

func (fakeStream) Close() error { return nil }

func sseFrame(text string) string {
	return "data: {\"delta\":\"" + text + "\"}\n\n"
}

func rawDeltas(payload []byte) []string {
	s := string(payload)
	const prefix = `{"delta":"`
	if !strings.HasPrefix(s, prefix) {
		return nil
	}
	return []string{strings.TrimSuffix(strings.TrimPrefix(s, prefix), `"}`)}
}

type scriptedAdapter struct {
	text string
	err  error
	wait time.Duration
}

func (a *scriptedAdapter) ID() string { return "test" }

func (a *scriptedAdapter) Call(ctx context.Context, _ routing.Decision, _ []routing.Message, _ []routing.ImageAttachment, _ providers.CallOptions) (providers.CallResult, error) {
	if a.err != nil {
		return providers.CallResult{}, a.err
	}
	if a.wait > 0 {
		select {
		case <-time.After(a.wait):
		case <-ctx.Done():
			return providers.CallResult{}, ctx.Err()
		}
	}
	return providers.CallResult{
		Stream:        fakeStream{strings.NewReader(sseFrame(a.text))},
		ExtractDeltas: rawDeltas,
	}, nil
}

func (a *scriptedAdapter) ClassifyError(error) providers.ErrorClass { return providers.ErrFatal }

func TestOrchestrator_AllChallengersSucceed(t *testing.T) {
	plan, ok := GetDebatePlan(ProfileCode, modelregistry.TierOpus46)
	require.True(t, ok)

	o := &Orchestrator{
		Resolve: func(tier string) (providers.Adapter, bool) {
			return &scriptedAdapter{text: "critique from " + tier}, true
		},
	}

	res := o.Run(context.Background(), plan, "refactor this module")
	require.True(t, res.Ran)
	require.Len(t, res.Outputs, 2)
}

func TestOrchestrator_ZeroSuccessesFallsBackSilently(t *testing.T) {
	plan, ok := GetDebatePlan(ProfileCode, modelregistry.TierOpus46)
	require.True(t, ok)

	o := &Orchestrator{
		Resolve: func(string) (providers.Adapter, bool) {
			return &scriptedAdapter{err: errors.New("upstream down")}, true
		},
	}

	res := o.Run(context.Background(), plan, "refactor this module")
	require.False(t, res.Ran)
	require.Empty(t, res.Outputs)
}

func TestOrchestrator_PartialSuccessStillRuns(t *testing.T) {
	plan, ok := GetDebatePlan(ProfileCode, modelregistry.TierOpus46)
	require.True(t, ok)

	first := true
	o := &Orchestrator{
		Resolve: func(tier string) (providers.Adapter, bool) {
			if first {
				first = false
				return &scriptedAdapter{err: errors.New("down")}, true
			}
			return &scriptedAdapter{text: "ok"}, true
		},
	}

	res := o.Run(context.Background(), plan, "refactor this module")
	require.True(t, res.Ran)
	require.Len(t, res.Outputs, 1)
}

func TestOrchestrator_TimeoutTreatsChallengerAsNoOutput(t *testing.T) {
	plan, ok := GetDebatePlan(ProfileGeneral, modelregistry.TierOpus46)
	require.True(t, ok)

	o := &Orchestrator{
		Timeouts: StageTimeouts{General: 10 * time.Millisecond},
		Resolve: func(string) (providers.Adapter, bool) {
			return &scriptedAdapter{text: "too slow", wait: 100 * time.Millisecond}, true
		},
	}

	res := o.Run(context.Background(), plan, "explain quantum computing")
	require.False(t, res.Ran)
}

func TestOrchestrator_NoAdapterForTierYieldsNoOutput(t *testing.T) {
	plan, ok := GetDebatePlan(ProfileGeneral, modelregistry.TierOpus46)
	require.True(t, ok)

	o := &Orchestrator{Resolve: func(string) (providers.Adapter, bool) { return nil, false }}
	res := o.Run(context.Background(), plan, "hello")
	require.False(t, res.Ran)
}

func TestBuildSynthesisPrompt_PreservesDeclaredOrderNotCompletionOrder(t *testing.T) {
	outputs := []ChallengerOutput{
		{Role: "critic", ModelTier: "gpt-5-mini", Text: "first note"},
		{Role: "implementer", ModelTier: "haiku-4.5", Text: "second note"},
	}
	prompt := BuildSynthesisPrompt("refactor this module", outputs)
	require.Less(t, strings.Index(prompt, "first note"), strings.Index(prompt, "second note"))
	require.Contains(t, prompt, "TEAM DEBATE NOTES")
}

var _ io.ReadCloser = fakeStream{}
