// Package collab declares the collaborator interfaces the request handler
// consumes (§6), kept separate from their concrete implementations
// (internal/apikey, internal/store, internal/providers/*) so the handler
// depends only on these narrow contracts, with concrete types wired behind
// them in internal/app rather than imported directly.
package collab

import (
	"context"
	"time"
)

// AuthValidator verifies a bearer token and resolves it to a user.
type AuthValidator interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// Message is one persisted conversation turn.
type Message struct {
	ConversationID string
	Role           string
	Content        string
	TokenCount     int
	ModelUsed      string
	ImageURL       string
}

// ConversationStore backs the conversation-ownership check and message
// persistence side effects.
type ConversationStore interface {
	VerifyOwnership(ctx context.Context, conversationID, userID string) (exists bool, totalTokens int, err error)
	IncrementTokens(ctx context.Context, conversationID string, delta int) error
	RecordMessage(ctx context.Context, m Message) error
}

// UserMemory is a retrieved or newly summarized long-term memory row.
type UserMemory struct {
	ID                string
	UserID            string
	ConversationID     string
	SourceWindowEndAt time.Time
	SummaryText       string
	Tags              []string
	CreatedAt         time.Time
}

// ConversationMemoryState tracks the summarization debounce per
// conversation.
type ConversationMemoryState struct {
	ConversationID                string
	UserID                        string
	LastSummarizedAt              time.Time
	LastSummarizedMessageCreatedAt time.Time
	LastSummarizedTotalTokens     int
	UpdatedAt                     time.Time
}

// HistoryMessage is a minimal transcript row used for summarization input.
type HistoryMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// MemoryStore backs retrieval, injection, and summarization persistence.
type MemoryStore interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]UserMemory, error)
	UpsertMemory(ctx context.Context, row UserMemory) error
	GetState(ctx context.Context, conversationID string) (ConversationMemoryState, bool, error)
	UpsertState(ctx context.Context, row ConversationMemoryState) error
	ListMessagesSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]HistoryMessage, error)
}

// VideoArtifact is a ready video asset's compact metadata.
type VideoArtifact struct {
	AssetID     string
	Title       string
	Summary     string
	DurationSec int
}

// VideoArtifactStore resolves video asset ids to ready artifacts owned by
// the caller.
type VideoArtifactStore interface {
	ListReadyFor(ctx context.Context, assetIDs []string, userID string) (ready []VideoArtifact, allReady bool, err error)
}
