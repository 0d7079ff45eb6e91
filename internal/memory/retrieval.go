// Package memory implements the long-term memory subsystem: keyword-scored
// retrieval and context injection, and a debounced, fire-and-forget
// summarization gate. Grounded on thane's internal/facts (ContextProvider's
// score-then-format shape) and internal/episodic (nowFunc-injectable
// provider, token-budget formatting), adapted from embedding/file-based
// recall to the keyword-scored UserMemory rows this system persists.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/caldera-labs/chatrouter/internal/collab"
	"github.com/caldera-labs/chatrouter/internal/tokenest"
)

const (
	recentMemoryLimit = 24
	topMemoryCount    = 3
	contextBlockCap   = 1500
	blockHeader       = "### Long-Term User Memory"
	blockFooter       = "### End Memory"
)

// scored pairs a retrieved memory with its query-relevance score.
type scored struct {
	mem   collab.UserMemory
	score int
}

// scoreMemory implements §4.10's scoring formula: 2 points per keyword
// found in the summary text, 3 points per keyword found among the tags.
func scoreMemory(keywords []string, mem collab.UserMemory) int {
	summary := strings.ToLower(mem.SummaryText)
	tagSet := make(map[string]bool, len(mem.Tags))
	for _, t := range mem.Tags {
		tagSet[strings.ToLower(t)] = true
	}

	total := 0
	for _, kw := range keywords {
		if strings.Contains(summary, kw) {
			total += 2
		}
		if tagSet[kw] {
			total += 3
		}
	}
	return total
}

// FetchRelevant implements fetchRelevant(userId, query): it pulls the
// user's most recent memories, scores them against the query's keywords,
// and formats the selection into a bounded context block. Returns the
// block (empty when the user has no memories), its token count, and the
// number of UserMemory rows actually selected (0-3, per selectTop).
func FetchRelevant(ctx context.Context, store collab.MemoryStore, userID, query string) (block string, tokens int, hits int, err error) {
	recent, err := store.ListRecent(ctx, userID, recentMemoryLimit)
	if err != nil {
		return "", 0, 0, fmt.Errorf("memory: list recent: %w", err)
	}
	if len(recent) == 0 {
		return "", 0, 0, nil
	}

	keywords := extractKeywords(query)
	candidates := make([]scored, len(recent))
	for i, mem := range recent {
		candidates[i] = scored{mem: mem, score: scoreMemory(keywords, mem)}
	}

	selected := selectTop(candidates)
	if len(selected) == 0 {
		return "", 0, 0, nil
	}

	block = formatBlock(selected)
	return block, tokenest.Tokens(block), len(selected), nil
}

// selectTop picks the top topMemoryCount candidates with score > 0; if none
// score, it falls back to the single most recent memory (candidates is
// already newest-first, matching ListRecent's contract).
func selectTop(candidates []scored) []collab.UserMemory {
	positive := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.score > 0 {
			positive = append(positive, c)
		}
	}

	if len(positive) == 0 {
		return []collab.UserMemory{candidates[0].mem}
	}

	sort.SliceStable(positive, func(i, j int) bool {
		return positive[i].score > positive[j].score
	})
	if len(positive) > topMemoryCount {
		positive = positive[:topMemoryCount]
	}

	out := make([]collab.UserMemory, len(positive))
	for i, c := range positive {
		out[i] = c.mem
	}
	return out
}

// formatBlock assembles the header/footer-wrapped context block, truncated
// to contextBlockCap characters total.
func formatBlock(memories []collab.UserMemory) string {
	var sb strings.Builder
	sb.WriteString(blockHeader)
	sb.WriteString("\n\n")
	for _, mem := range memories {
		sb.WriteString("- ")
		sb.WriteString(mem.SummaryText)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(blockFooter)

	block := sb.String()
	if len(block) <= contextBlockCap {
		return block
	}
	return truncateBlock(block)
}

// truncateBlock shrinks an over-long block to contextBlockCap characters
// while keeping the footer intact, so a caller can always find the
// "End Memory" marker.
func truncateBlock(block string) string {
	reserve := len(blockFooter) + 1
	if reserve >= contextBlockCap {
		return block[:contextBlockCap]
	}
	return block[:contextBlockCap-reserve] + "\n" + blockFooter
}

// Inject prepends a non-empty memory block to the user's query per §4.10's
// injection rule. An empty block leaves the query untouched.
func Inject(block, query string) string {
	if block == "" {
		return query
	}
	return fmt.Sprintf("%s\n\nCurrent request:\n%s", block, query)
}
