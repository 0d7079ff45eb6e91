package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrate(t *testing.T) {
	s := newTestStore(t)
	// Running migrate twice should be idempotent.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateConversation(ctx, "conv-1", "user-1"); err != nil {
		t.Fatalf("create conversation failed: %v", err)
	}

	exists, tokens, err := s.VerifyOwnership(ctx, "conv-1", "user-1")
	if err != nil {
		t.Fatalf("verify ownership failed: %v", err)
	}
	if !exists || tokens != 0 {
		t.Fatalf("expected owned conversation with 0 tokens, got exists=%v tokens=%d", exists, tokens)
	}

	if err := s.IncrementTokens(ctx, "conv-1", 500); err != nil {
		t.Fatalf("increment tokens failed: %v", err)
	}
	if err := s.IncrementTokens(ctx, "conv-1", 250); err != nil {
		t.Fatalf("increment tokens failed: %v", err)
	}

	_, tokens, err = s.VerifyOwnership(ctx, "conv-1", "user-1")
	if err != nil {
		t.Fatalf("verify ownership failed: %v", err)
	}
	if tokens != 750 {
		t.Fatalf("expected 750 accumulated tokens, got %d", tokens)
	}
}

func TestVerifyOwnership_MismatchedUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateConversation(ctx, "conv-1", "user-1"); err != nil {
		t.Fatalf("create conversation failed: %v", err)
	}

	exists, _, err := s.VerifyOwnership(ctx, "conv-1", "user-2")
	if err != nil {
		t.Fatalf("verify ownership failed: %v", err)
	}
	if exists {
		t.Fatal("expected ownership mismatch to report exists=false")
	}
}

func TestVerifyOwnership_MissingConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exists, tokens, err := s.VerifyOwnership(ctx, "does-not-exist", "user-1")
	if err != nil {
		t.Fatalf("verify ownership failed: %v", err)
	}
	if exists || tokens != 0 {
		t.Fatalf("expected no conversation found, got exists=%v tokens=%d", exists, tokens)
	}
}

func TestMessagesRecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateConversation(ctx, "conv-1", "user-1"); err != nil {
		t.Fatalf("create conversation failed: %v", err)
	}

	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	msgs := []MessageRecord{
		{ConversationID: "conv-1", Role: "user", Content: "hello", TokenCount: 2, CreatedAt: base},
		{ConversationID: "conv-1", Role: "assistant", Content: "hi there", TokenCount: 3, ModelUsed: "gpt-5-mini", CreatedAt: base.Add(time.Second)},
		{ConversationID: "conv-1", Role: "user", Content: "tell me more", TokenCount: 4, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, m := range msgs {
		if err := s.RecordMessage(ctx, m); err != nil {
			t.Fatalf("record message failed: %v", err)
		}
	}

	got, err := s.ListMessagesSince(ctx, "conv-1", base.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Content != "hello" || got[2].Content != "tell me more" {
		t.Fatalf("messages not in chronological order: %+v", got)
	}

	sinceSecond, err := s.ListMessagesSince(ctx, "conv-1", base, 10)
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if len(sinceSecond) != 2 {
		t.Fatalf("expected 2 messages strictly after base, got %d", len(sinceSecond))
	}
}

func TestMessagesListRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := s.RecordMessage(ctx, MessageRecord{
			ConversationID: "conv-1", Role: "user", Content: "msg",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("record message failed: %v", err)
		}
	}

	got, err := s.ListMessagesSince(ctx, "conv-1", base.Add(-time.Minute), 2)
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit of 2 messages, got %d", len(got))
	}
}

func TestUserMemoryUpsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	windowEnd := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	row := UserMemoryRecord{
		UserID:            "user-1",
		ConversationID:    "conv-1",
		SourceWindowEndAt: windowEnd,
		SummaryText:       "user prefers dark mode and rock climbing",
		Tags:              []string{"dark", "mode", "climbing"},
		CreatedAt:         windowEnd,
	}
	if err := s.UpsertMemory(ctx, row); err != nil {
		t.Fatalf("upsert memory failed: %v", err)
	}

	got, err := s.ListRecentMemories(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("list recent memories failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 memory row, got %d", len(got))
	}
	if got[0].ID == "" {
		t.Fatal("expected a generated memory ID")
	}
	if len(got[0].Tags) != 3 {
		t.Fatalf("expected 3 tags, got %+v", got[0].Tags)
	}

	// Re-upserting on the same (conversation_id, source_window_end_at) key
	// updates the existing row rather than inserting a new one.
	row.SummaryText = "user prefers dark mode and hiking"
	row.Tags = []string{"dark", "mode", "hiking"}
	if err := s.UpsertMemory(ctx, row); err != nil {
		t.Fatalf("second upsert memory failed: %v", err)
	}

	got, err = s.ListRecentMemories(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("list recent memories failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected upsert to replace, got %d rows", len(got))
	}
	if got[0].SummaryText != "user prefers dark mode and hiking" {
		t.Fatalf("expected updated summary text, got %q", got[0].SummaryText)
	}
}

func TestConversationMemoryStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetMemoryState(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get memory state failed: %v", err)
	}
	if ok {
		t.Fatal("expected no state for a fresh conversation")
	}

	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	state := ConversationMemoryStateRecord{
		ConversationID:                 "conv-1",
		UserID:                         "user-1",
		LastSummarizedAt:               now,
		LastSummarizedMessageCreatedAt: now,
		LastSummarizedTotalTokens:      1200,
		UpdatedAt:                      now,
	}
	if err := s.UpsertMemoryState(ctx, state); err != nil {
		t.Fatalf("upsert memory state failed: %v", err)
	}

	got, ok, err := s.GetMemoryState(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get memory state failed: %v", err)
	}
	if !ok {
		t.Fatal("expected state to be found")
	}
	if got.LastSummarizedTotalTokens != 1200 {
		t.Fatalf("expected 1200 tokens, got %d", got.LastSummarizedTotalTokens)
	}

	state.LastSummarizedTotalTokens = 3400
	if err := s.UpsertMemoryState(ctx, state); err != nil {
		t.Fatalf("re-upsert memory state failed: %v", err)
	}
	got, _, err = s.GetMemoryState(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get memory state failed: %v", err)
	}
	if got.LastSummarizedTotalTokens != 3400 {
		t.Fatalf("expected updated token count 3400, got %d", got.LastSummarizedTotalTokens)
	}
}

func TestProviderCredentialsCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetProviderCredential(ctx, "anthropic")
	if err != nil {
		t.Fatalf("get credential failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected no credential before insert")
	}

	err = s.UpsertProviderCredential(ctx, ProviderCredentialRecord{
		Provider:       "anthropic",
		EncryptedValue: []byte("cipher-bytes"),
	})
	if err != nil {
		t.Fatalf("upsert credential failed: %v", err)
	}

	got, err = s.GetProviderCredential(ctx, "anthropic")
	if err != nil {
		t.Fatalf("get credential failed: %v", err)
	}
	if got == nil || string(got.EncryptedValue) != "cipher-bytes" {
		t.Fatalf("expected credential to round-trip, got %+v", got)
	}

	err = s.UpsertProviderCredential(ctx, ProviderCredentialRecord{
		Provider:       "openai",
		EncryptedValue: []byte("other-cipher"),
	})
	if err != nil {
		t.Fatalf("upsert second credential failed: %v", err)
	}

	all, err := s.ListProviderCredentials(ctx)
	if err != nil {
		t.Fatalf("list credentials failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(all))
	}
}

func TestListReadyVideoArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO video_artifacts (asset_id, user_id, title, summary, duration_sec, ready) VALUES (?, ?, ?, ?, ?, ?)`,
		"asset-1", "user-1", "intro clip", "a short intro", 30, 1)
	if err != nil {
		t.Fatalf("seed video artifact failed: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO video_artifacts (asset_id, user_id, title, summary, duration_sec, ready) VALUES (?, ?, ?, ?, ?, ?)`,
		"asset-2", "user-1", "still rendering", "", 0, 0)
	if err != nil {
		t.Fatalf("seed video artifact failed: %v", err)
	}

	ready, err := s.ListReadyVideoArtifacts(ctx, []string{"asset-1", "asset-2"}, "user-1")
	if err != nil {
		t.Fatalf("list ready video artifacts failed: %v", err)
	}
	if len(ready) != 1 || ready[0].AssetID != "asset-1" {
		t.Fatalf("expected only asset-1 ready, got %+v", ready)
	}

	none, err := s.ListReadyVideoArtifacts(ctx, []string{"asset-1"}, "someone-else")
	if err != nil {
		t.Fatalf("list ready video artifacts failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no artifacts for a different owner, got %+v", none)
	}
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	key := APIKeyRecord{
		ID:               "key-1",
		KeyHash:          "hashed",
		KeyPrefix:        "sk-abcd",
		Name:             "ci bot",
		Scopes:           `["chat"]`,
		CreatedAt:        now,
		RotationDays:     90,
		MonthlyBudgetUSD: 25,
		Enabled:          true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("create api key failed: %v", err)
	}

	got, err := s.GetAPIKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("get api key failed: %v", err)
	}
	if got == nil || got.Name != "ci bot" {
		t.Fatalf("expected api key to round-trip, got %+v", got)
	}

	byPrefix, err := s.GetAPIKeysByPrefix(ctx, "sk-abcd")
	if err != nil {
		t.Fatalf("get by prefix failed: %v", err)
	}
	if len(byPrefix) != 1 {
		t.Fatalf("expected 1 key by prefix, got %d", len(byPrefix))
	}

	all, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("list api keys failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 key listed, got %d", len(all))
	}

	got.Name = "renamed bot"
	got.Enabled = false
	if err := s.UpdateAPIKey(ctx, *got); err != nil {
		t.Fatalf("update api key failed: %v", err)
	}
	got, err = s.GetAPIKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("get api key failed: %v", err)
	}
	if got.Name != "renamed bot" || got.Enabled {
		t.Fatalf("expected update to persist, got %+v", got)
	}

	if err := s.DeleteAPIKey(ctx, "key-1"); err != nil {
		t.Fatalf("delete api key failed: %v", err)
	}
	got, err = s.GetAPIKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("get api key failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestListExpiredRotationKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	longAgo := time.Now().UTC().Add(-100 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-1 * time.Hour)

	due := APIKeyRecord{ID: "due", KeyHash: "h1", KeyPrefix: "sk-due", Name: "due", Scopes: `["chat"]`, CreatedAt: longAgo, RotationDays: 30, Enabled: true}
	notDue := APIKeyRecord{ID: "not-due", KeyHash: "h2", KeyPrefix: "sk-nd", Name: "not due", Scopes: `["chat"]`, CreatedAt: recent, RotationDays: 30, Enabled: true}
	manual := APIKeyRecord{ID: "manual", KeyHash: "h3", KeyPrefix: "sk-m", Name: "manual", Scopes: `["chat"]`, CreatedAt: longAgo, RotationDays: 0, Enabled: true}

	for _, k := range []APIKeyRecord{due, notDue, manual} {
		if err := s.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("create api key failed: %v", err)
		}
	}

	expired, err := s.ListExpiredRotationKeys(ctx)
	if err != nil {
		t.Fatalf("list expired rotation keys failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "due" {
		t.Fatalf("expected only 'due' key to be listed, got %+v", expired)
	}
}

func TestSpendTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	spend, err := s.GetMonthlySpend(ctx, "key-1")
	if err != nil {
		t.Fatalf("get monthly spend failed: %v", err)
	}
	if spend != 0 {
		t.Fatalf("expected 0 spend with no records, got %v", spend)
	}

	if err := s.RecordSpend(ctx, "key-1", 1.25); err != nil {
		t.Fatalf("record spend failed: %v", err)
	}
	if err := s.RecordSpend(ctx, "key-1", 2.75); err != nil {
		t.Fatalf("record spend failed: %v", err)
	}
	if err := s.RecordSpend(ctx, "key-2", 9.99); err != nil {
		t.Fatalf("record spend failed: %v", err)
	}

	spend, err = s.GetMonthlySpend(ctx, "key-1")
	if err != nil {
		t.Fatalf("get monthly spend failed: %v", err)
	}
	if spend != 4.0 {
		t.Fatalf("expected 4.0 total spend for key-1, got %v", spend)
	}
}

func TestPruneOldMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := MessageRecord{ConversationID: "conv-1", Role: "user", Content: "ancient", CreatedAt: now.Add(-48 * time.Hour)}
	fresh := MessageRecord{ConversationID: "conv-1", Role: "user", Content: "recent", CreatedAt: now.Add(-1 * time.Minute)}
	if err := s.RecordMessage(ctx, old); err != nil {
		t.Fatalf("record message failed: %v", err)
	}
	if err := s.RecordMessage(ctx, fresh); err != nil {
		t.Fatalf("record message failed: %v", err)
	}

	n, err := s.PruneOldMessages(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune old messages failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}

	remaining, err := s.ListMessagesSince(ctx, "conv-1", now.Add(-72*time.Hour), 10)
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Content != "recent" {
		t.Fatalf("expected only the recent message to survive, got %+v", remaining)
	}
}
