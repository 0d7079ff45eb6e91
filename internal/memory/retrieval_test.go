package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldera-labs/chatrouter/internal/collab"
)

type fakeMemoryStore struct {
	recent []collab.UserMemory
}

func (f *fakeMemoryStore) ListRecent(_ context.Context, _ string, limit int) ([]collab.UserMemory, error) {
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}
func (f *fakeMemoryStore) UpsertMemory(context.Context, collab.UserMemory) error { return nil }
func (f *fakeMemoryStore) GetState(context.Context, string) (collab.ConversationMemoryState, bool, error) {
	return collab.ConversationMemoryState{}, false, nil
}
func (f *fakeMemoryStore) UpsertState(context.Context, collab.ConversationMemoryState) error {
	return nil
}
func (f *fakeMemoryStore) ListMessagesSince(context.Context, string, time.Time, int) ([]collab.HistoryMessage, error) {
	return nil, nil
}

func TestFetchRelevant_NoMemoriesReturnsEmptyBlock(t *testing.T) {
	store := &fakeMemoryStore{}
	block, tokens, hits, err := FetchRelevant(context.Background(), store, "user-1", "anything")
	require.NoError(t, err)
	assert.Empty(t, block)
	assert.Zero(t, tokens)
	assert.Zero(t, hits)
}

func TestFetchRelevant_PicksTopScoringMemories(t *testing.T) {
	store := &fakeMemoryStore{recent: []collab.UserMemory{
		{SummaryText: "user prefers dark roast coffee", Tags: []string{"coffee"}},
		{SummaryText: "user is allergic to shellfish", Tags: []string{"allergy", "shellfish"}},
		{SummaryText: "completely unrelated fact about gardening", Tags: []string{"garden"}},
	}}
	block, tokens, hits, err := FetchRelevant(context.Background(), store, "user-1", "what coffee roast do I like?")
	require.NoError(t, err)
	assert.Contains(t, block, "coffee")
	assert.Contains(t, block, blockHeader)
	assert.Contains(t, block, blockFooter)
	assert.Positive(t, tokens)
	assert.Equal(t, 1, hits)
}

func TestFetchRelevant_FallsBackToMostRecentWhenNothingScores(t *testing.T) {
	store := &fakeMemoryStore{recent: []collab.UserMemory{
		{SummaryText: "most recent unrelated note"},
		{SummaryText: "older unrelated note"},
	}}
	block, _, hits, err := FetchRelevant(context.Background(), store, "user-1", "zzqqxx nonsense query")
	require.NoError(t, err)
	assert.Contains(t, block, "most recent unrelated note")
	assert.NotContains(t, block, "older unrelated note")
	assert.Equal(t, 1, hits)
}

func TestFormatBlock_TruncatesToCapAndKeepsFooter(t *testing.T) {
	memories := make([]collab.UserMemory, 0, 50)
	for i := 0; i < 50; i++ {
		memories = append(memories, collab.UserMemory{SummaryText: "a fairly long repeated memory line about the user's preferences"})
	}
	block := formatBlock(memories)
	assert.LessOrEqual(t, len(block), contextBlockCap)
	assert.Contains(t, block, blockFooter)
}

func TestInject_PrependsBlockWithCurrentRequestMarker(t *testing.T) {
	out := Inject("### Long-Term User Memory\n- fact\n### End Memory", "what's my favorite color?")
	assert.Equal(t, "### Long-Term User Memory\n- fact\n### End Memory\n\nCurrent request:\nwhat's my favorite color?", out)
}

func TestInject_EmptyBlockLeavesQueryUntouched(t *testing.T) {
	out := Inject("", "hello")
	assert.Equal(t, "hello", out)
}
