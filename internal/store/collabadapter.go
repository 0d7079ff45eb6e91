package store

import (
	"context"
	"time"

	"github.com/caldera-labs/chatrouter/internal/collab"
)

// CollabAdapter narrows a Store down to collab.ConversationStore and
// collab.MemoryStore, translating between the store's persisted record
// types and collab's request-handler-facing types. Kept separate from
// Store itself so internal/handler and internal/memory never import
// internal/store directly — concrete types are wired behind small
// interfaces in internal/app instead.
type CollabAdapter struct {
	Store Store
}

var (
	_ collab.ConversationStore  = (*CollabAdapter)(nil)
	_ collab.MemoryStore        = (*CollabAdapter)(nil)
	_ collab.VideoArtifactStore = (*CollabAdapter)(nil)
)

func (a *CollabAdapter) VerifyOwnership(ctx context.Context, conversationID, userID string) (bool, int, error) {
	return a.Store.VerifyOwnership(ctx, conversationID, userID)
}

func (a *CollabAdapter) IncrementTokens(ctx context.Context, conversationID string, delta int) error {
	return a.Store.IncrementTokens(ctx, conversationID, delta)
}

func (a *CollabAdapter) RecordMessage(ctx context.Context, m collab.Message) error {
	return a.Store.RecordMessage(ctx, MessageRecord{
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		TokenCount:     m.TokenCount,
		ModelUsed:      m.ModelUsed,
		ImageURL:       m.ImageURL,
		CreatedAt:      time.Now().UTC(),
	})
}

func (a *CollabAdapter) ListRecent(ctx context.Context, userID string, limit int) ([]collab.UserMemory, error) {
	rows, err := a.Store.ListRecentMemories(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]collab.UserMemory, len(rows))
	for i, r := range rows {
		out[i] = collab.UserMemory{
			ID:                r.ID,
			UserID:            r.UserID,
			ConversationID:    r.ConversationID,
			SourceWindowEndAt: r.SourceWindowEndAt,
			SummaryText:       r.SummaryText,
			Tags:              r.Tags,
			CreatedAt:         r.CreatedAt,
		}
	}
	return out, nil
}

func (a *CollabAdapter) UpsertMemory(ctx context.Context, row collab.UserMemory) error {
	return a.Store.UpsertMemory(ctx, UserMemoryRecord{
		ID:                row.ID,
		UserID:            row.UserID,
		ConversationID:    row.ConversationID,
		SourceWindowEndAt: row.SourceWindowEndAt,
		SummaryText:       row.SummaryText,
		Tags:              row.Tags,
		CreatedAt:         row.CreatedAt,
	})
}

func (a *CollabAdapter) GetState(ctx context.Context, conversationID string) (collab.ConversationMemoryState, bool, error) {
	row, ok, err := a.Store.GetMemoryState(ctx, conversationID)
	if err != nil || !ok {
		return collab.ConversationMemoryState{}, ok, err
	}
	return collab.ConversationMemoryState{
		ConversationID:                 row.ConversationID,
		UserID:                         row.UserID,
		LastSummarizedAt:               row.LastSummarizedAt,
		LastSummarizedMessageCreatedAt: row.LastSummarizedMessageCreatedAt,
		LastSummarizedTotalTokens:      row.LastSummarizedTotalTokens,
		UpdatedAt:                      row.UpdatedAt,
	}, true, nil
}

func (a *CollabAdapter) UpsertState(ctx context.Context, row collab.ConversationMemoryState) error {
	return a.Store.UpsertMemoryState(ctx, ConversationMemoryStateRecord{
		ConversationID:                 row.ConversationID,
		UserID:                         row.UserID,
		LastSummarizedAt:               row.LastSummarizedAt,
		LastSummarizedMessageCreatedAt: row.LastSummarizedMessageCreatedAt,
		LastSummarizedTotalTokens:      row.LastSummarizedTotalTokens,
		UpdatedAt:                      row.UpdatedAt,
	})
}

func (a *CollabAdapter) ListMessagesSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]collab.HistoryMessage, error) {
	rows, err := a.Store.ListMessagesSince(ctx, conversationID, since, limit)
	if err != nil {
		return nil, err
	}
	out := make([]collab.HistoryMessage, len(rows))
	for i, r := range rows {
		out[i] = collab.HistoryMessage{Role: r.Role, Content: r.Content, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (a *CollabAdapter) ListReadyFor(ctx context.Context, assetIDs []string, userID string) ([]collab.VideoArtifact, bool, error) {
	rows, err := a.Store.ListReadyVideoArtifacts(ctx, assetIDs, userID)
	if err != nil {
		return nil, false, err
	}
	ready := make([]collab.VideoArtifact, len(rows))
	for i, r := range rows {
		ready[i] = collab.VideoArtifact{
			AssetID:     r.AssetID,
			Title:       r.Title,
			Summary:     r.Summary,
			DurationSec: r.DurationSec,
		}
	}
	return ready, len(ready) == len(assetIDs), nil
}
