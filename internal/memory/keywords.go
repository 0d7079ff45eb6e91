package memory

import "strings"

// maxKeywords caps the number of keywords extracted from a single query or
// summary, keeping scoring and tag derivation bounded.
const maxKeywords = 20

// tagCount is how many leading keywords of a freshly produced summary
// become its UserMemory.Tags.
const tagCount = 8

// minKeywordLen is the shortest token length kept after stop-word
// filtering.
const minKeywordLen = 3

// stopWords is a fixed, small stop-word set; it is deliberately short
// rather than exhaustive since the scoring formula tolerates a few
// low-signal survivors better than it tolerates dropping real signal.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "about": true, "into": true, "from": true, "by": true,
	"this": true, "that": true, "these": true, "those": true, "it": true,
	"you": true, "your": true, "i": true, "my": true, "me": true, "we": true,
	"our": true, "they": true, "them": true, "their": true, "can": true,
	"will": true, "would": true, "should": true, "could": true, "do": true,
	"does": true, "did": true, "have": true, "has": true, "had": true,
	"what": true, "which": true, "who": true, "how": true, "not": true,
}

// extractKeywords lowercases text, strips punctuation, drops stop words and
// tokens shorter than minKeywordLen, and caps the result at maxKeywords, per
// §4.10's retrieval keyword rule.
func extractKeywords(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})

	seen := make(map[string]bool, len(fields))
	keywords := make([]string, 0, maxKeywords)
	for _, f := range fields {
		if len(f) < minKeywordLen || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		keywords = append(keywords, f)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// deriveTags returns the first tagCount keywords of a summary, used to tag
// a freshly produced UserMemory row.
func deriveTags(summaryText string) []string {
	keywords := extractKeywords(summaryText)
	if len(keywords) > tagCount {
		keywords = keywords[:tagCount]
	}
	return keywords
}
