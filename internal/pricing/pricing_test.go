package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreFlightCost_PromptTokensFormula(t *testing.T) {
	fn := func(s string) int { return 10 }
	pf := PreFlightCost("sonnet-4.6", "irrelevant", 2, 5, fn)
	require.Equal(t, 10+1600*2+5, pf.PromptTokens)
}

func TestPreFlightCost_UnknownTier(t *testing.T) {
	fn := func(s string) int { return 10 }
	pf := PreFlightCost("not-a-real-tier", "x", 0, 0, fn)
	require.True(t, pf.HasUnknownRate)
	require.Equal(t, 0.0, pf.EstimatedUSD)
}

func TestPreFlightCost_OutputFloor(t *testing.T) {
	fn := func(s string) int { return 0 }
	pf := PreFlightCost("gpt-5-mini", "", 0, 0, fn)
	require.Equal(t, 64, pf.ProjectedOutputTokens)
}

func TestFinalCost_ReasoningDefaultsToOutputRate(t *testing.T) {
	withReasoning := FinalCost("sonnet-4.6", Usage{PromptTokens: 100, CompletionTokens: 100, ReasoningTokens: 50})
	// sonnet-4.6 has no ReasoningRatePer1M set, so reasoning cost uses the output rate.
	entry, ok := Lookup("sonnet-4.6")
	require.True(t, ok)
	want := round6(entry.InputRatePer1M*100/1e6 + entry.OutputRatePer1M*100/1e6 + entry.OutputRatePer1M*50/1e6)
	require.Equal(t, want, withReasoning.EstimatedUSD)
}

func TestFinalCost_UnknownTier(t *testing.T) {
	f := FinalCost("nope", Usage{})
	require.True(t, f.HasUnknownRate)
}
