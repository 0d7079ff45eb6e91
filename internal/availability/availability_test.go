package availability

import (
	"testing"

	"github.com/caldera-labs/chatrouter/internal/modelregistry"
	"github.com/caldera-labs/chatrouter/internal/routing"
	"github.com/stretchr/testify/require"
)

func allReady() Config {
	return Config{Gates: map[string]Gate{
		string(modelregistry.ProviderAnthropic): {Enabled: true, CredentialsPresent: true},
		string(modelregistry.ProviderOpenAI):    {Enabled: true, CredentialsPresent: true},
		string(modelregistry.ProviderGemini):    {Enabled: true, CredentialsPresent: true},
	}}
}

func TestNormalize_ReadyProviderPassesThrough(t *testing.T) {
	d := routing.Decision{Provider: string(modelregistry.ProviderAnthropic), ModelTier: "sonnet-4.6"}
	got, err := Normalize(d, false, allReady())
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestNormalize_AutoFallsBackInOrder(t *testing.T) {
	cfg := allReady()
	cfg.Gates[string(modelregistry.ProviderGemini)] = Gate{Enabled: false}
	d := routing.Decision{Provider: string(modelregistry.ProviderGemini), ModelTier: "gemini-3-flash"}
	got, err := Normalize(d, false, cfg)
	require.NoError(t, err)
	require.Equal(t, string(modelregistry.ProviderOpenAI), got.Provider)
	require.Equal(t, "provider-unavailable-fallback-P-G", got.RationaleTag)
}

func TestNormalize_ManualOverrideUnavailableFails(t *testing.T) {
	cfg := allReady()
	cfg.Gates[string(modelregistry.ProviderAnthropic)] = Gate{Enabled: false}
	d := routing.Decision{Provider: string(modelregistry.ProviderAnthropic), ModelTier: "sonnet-4.6"}
	_, err := Normalize(d, true, cfg)
	require.Error(t, err)
	var uae *UnavailableError
	require.ErrorAs(t, err, &uae)
}

func TestNormalize_NoProviderReady(t *testing.T) {
	cfg := Config{Gates: map[string]Gate{}}
	d := routing.Decision{Provider: string(modelregistry.ProviderAnthropic), ModelTier: "sonnet-4.6"}
	_, err := Normalize(d, false, cfg)
	require.Error(t, err)
	var npe *NoProviderReadyError
	require.ErrorAs(t, err, &npe)
}
