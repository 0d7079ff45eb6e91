package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/tidwall/gjson"

	"github.com/caldera-labs/chatrouter/internal/providers"
)

const aliasCacheTTL = 10 * time.Minute

// UnresolvableAliasError is returned when no model in the provider's list
// scores positively against the requested alias.
type UnresolvableAliasError struct {
	Alias string
}

func (e *UnresolvableAliasError) Error() string {
	return fmt.Sprintf("gemini: no model matches alias %q; try refreshing the model registry", e.Alias)
}

// AliasResolver caches the Gemini model list for aliasCacheTTL and resolves
// fuzzy alias strings (tier names, fragments) to a concrete model id.
type AliasResolver struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  *otter.Cache[string, []string]
}

// NewAliasResolver builds a resolver backed by a single time-keyed cache
// entry holding the provider's full model list.
func NewAliasResolver(apiKey, baseURL string, client *http.Client) *AliasResolver {
	cache, err := otter.New[string, []string](&otter.Options[string, []string]{
		MaximumSize:      1,
		ExpiryCalculator: otter.ExpiryWriting[string, []string](aliasCacheTTL),
	})
	if err != nil {
		panic("gemini: build alias cache: " + err.Error())
	}
	return &AliasResolver{apiKey: apiKey, baseURL: baseURL, client: client, models: cache}
}

const modelListCacheKey = "models"

func (r *AliasResolver) listModels(ctx context.Context) ([]string, error) {
	if ids, ok := r.models.GetIfPresent(modelListCacheKey); ok {
		return ids, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: build list-models request: %w", err)
	}
	req.Header.Set("x-goog-api-key", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: list models: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &providers.StatusError{StatusCode: resp.StatusCode}
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gemini: read list-models response: %w", err)
	}

	var ids []string
	gjson.ParseBytes(buf).Get("models").ForEach(func(_, model gjson.Result) bool {
		name := model.Get("name").String()
		if after, ok := strings.CutPrefix(name, "models/"); ok {
			ids = append(ids, after)
		} else if name != "" {
			ids = append(ids, name)
		}
		return true
	})

	r.models.Set(modelListCacheKey, ids)
	return ids, nil
}

// ResolveAlias scores every cached model id against alias and returns the
// best positive-scoring match.
func (r *AliasResolver) ResolveAlias(ctx context.Context, alias string) (string, error) {
	ids, err := r.listModels(ctx)
	if err != nil {
		return "", err
	}

	bestID := ""
	bestScore := 0
	for _, id := range ids {
		score := scoreAlias(alias, id)
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	if bestID == "" {
		return "", &UnresolvableAliasError{Alias: alias}
	}
	return bestID, nil
}

// scoreAlias applies the weighted matching rubric: exact match scores
// highest, substring match next, with boosts for recognized family/tier
// fragments and penalties for non-GA channels.
func scoreAlias(alias, candidate string) int {
	a := strings.ToLower(strings.TrimSpace(alias))
	c := strings.ToLower(strings.TrimSpace(candidate))
	if a == "" || c == "" {
		return 0
	}

	score := 0
	switch {
	case a == c:
		score += 1000
	case strings.Contains(c, a) || strings.Contains(a, c):
		score += 500
	default:
		return 0
	}

	for _, boost := range []string{"flash", "pro", "gemini-3.1", "gemini-3"} {
		if strings.Contains(a, boost) && strings.Contains(c, boost) {
			score += 50
		}
	}
	for _, penalty := range []string{"preview", "exp", "customtools"} {
		if strings.Contains(c, penalty) {
			score -= 200
		}
	}
	return score
}
