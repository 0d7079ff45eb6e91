package routing

import (
	"strings"

	"github.com/caldera-labs/chatrouter/internal/tokenest"
)

// complexKeywords and quickKeywords are data, not logic — deliberately kept
// as plain slices so the scoring rules in the component design read
// directly off the values used.
var complexKeywords = []string{
	"architecture", "design", "optimiz", "optimis", "algorithm", "refactor",
	"analyz", "analys", "detailed", "comprehensive", "thorough", "strategy",
	"tradeoff", "trade-off", "scalab", "distributed", "concurren", "security",
	"derive", "proof", "benchmark", "migrat",
}

var quickKeywords = []string{
	"quick", "fast", "brief", "short", "simple", "define", "tl;dr",
	"summary", "summarize", "tldr",
}

var inquiryMarkers = []string{
	"why", "how", "what if", "could", "would", "should", "compare", "versus", "vs",
}

var codeLanguageKeywords = []string{
	"function", "def ", "class ", "import ", "const ", "let ", "var ",
	"public static", "#include", "func ", "interface ", "async def",
}

var errorVocabulary = []string{
	"error", "exception", "stack trace", "traceback", "segfault", "panic:",
	"undefined is not a function", "nullpointerexception",
}

var structuredOutputMarkers = []string{"json", "list", "bullet", "table", "csv"}

var creativeWritingMarkers = []string{
	"write a story", "write a poem", "write a song", "creative writing",
	"short story", "fiction", "lyrics", "write a novel",
}

func countMatches(lower string, needles []string) int {
	n := 0
	for _, k := range needles {
		if strings.Contains(lower, k) {
			n++
		}
	}
	return n
}

// codeSignalCount counts how many of the four independent code-signal
// categories are present (fence, language keyword, brace density, error
// vocabulary), each counting as at most one signal.
func codeSignalCount(query string) int {
	signals := 0
	if strings.Count(query, "```") >= 2 {
		signals++
	}
	lower := strings.ToLower(query)
	if countMatches(lower, codeLanguageKeywords) > 0 {
		signals++
	}
	braces := strings.Count(query, "{") + strings.Count(query, "}")
	if braces >= 4 {
		signals++
	}
	if countMatches(lower, errorVocabulary) > 0 {
		signals++
	}
	return signals
}

// complexityScore implements the scoring rules of the routing engine,
// clamped to [0, 100].
func complexityScore(params Params) int {
	score := 50
	lower := strings.ToLower(params.UserQuery)
	queryTokens := tokenest.Tokens(params.UserQuery)

	switch {
	case queryTokens > 500:
		score += 15
	case queryTokens > 200:
		score += 10
	case queryTokens < 20:
		score -= 20
	case queryTokens < 50:
		score -= 10
	}

	complexHits := countMatches(lower, complexKeywords)
	if bump := complexHits * 5; bump > 0 {
		if bump > 25 {
			bump = 25
		}
		score += bump
	}
	quickHits := countMatches(lower, quickKeywords)
	if drop := quickHits * 5; drop > 0 {
		if drop > 15 {
			drop = 15
		}
		score -= drop
	}

	inquiryHits := countMatches(lower, inquiryMarkers)
	switch {
	case inquiryHits >= 3:
		score += 15
	case inquiryHits >= 2:
		score += 8
	}

	switch signals := codeSignalCount(params.UserQuery); {
	case signals >= 3:
		score += 15
	case signals >= 2:
		score += 10
	}

	switch {
	case params.CurrentSessionTokens > 100_000:
		score += 10
	case params.CurrentSessionTokens > 50_000:
		score += 5
	}

	if countMatches(lower, structuredOutputMarkers) > 0 && queryTokens < 100 {
		score -= 10
	}

	if countMatches(lower, creativeWritingMarkers) > 0 {
		score = clamp(score, 50, 65)
	}

	return clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
