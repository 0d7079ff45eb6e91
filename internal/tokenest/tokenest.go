// Package tokenest implements the deterministic token-count heuristic used
// for routing, cost estimation, and memory budget accounting.
package tokenest

import (
	"math"
	"strings"

	"github.com/maypok86/otter/v2"
)

// ImageTokens is the flat per-image token cost used across the router.
const ImageTokens = 1600

// memo is a size-bounded (not time-bounded) memoization cache, matching the
// "small LRU (<=100 entries)" contract: eviction is purely capacity-driven.
var memo = mustCache()

func mustCache() *otter.Cache[string, int] {
	c, err := otter.New[string, int](&otter.Options[string, int]{
		MaximumSize: 100,
	})
	if err != nil {
		panic("tokenest: build memo cache: " + err.Error())
	}
	return c
}

// Tokens estimates the token count of text using the word+char/4 heuristic:
// ceil((words + chars/4) / 2). Empty or whitespace-only input returns 0; the
// result is never negative.
func Tokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if v, ok := memo.GetIfPresent(text); ok {
		return v
	}
	words := len(strings.Fields(text))
	chars := len([]rune(text))
	n := int(math.Ceil((float64(words) + float64(chars)/4.0) / 2.0))
	if n < 0 {
		n = 0
	}
	memo.Set(text, n)
	return n
}

// ImagesTokens returns the flat token cost of n image attachments.
func ImagesTokens(n int) int {
	if n <= 0 {
		return 0
	}
	return ImageTokens * n
}
