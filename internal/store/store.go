// Package store implements the system's persistence layer: conversations,
// messages, long-term memory, provider credentials, and API keys, behind a
// SQLite-over-interface shape using the ON CONFLICT upsert idiom throughout.
package store

import (
	"context"
	"time"
)

// APIKeyRecord is the persisted form of a client API key. internal/apikey's
// Manager and BudgetChecker depend on these exact fields.
type APIKeyRecord struct {
	ID               string     `json:"id"`
	KeyHash          string     `json:"-"` // bcrypt hash, never serialized
	KeyPrefix        string     `json:"key_prefix"`
	Name             string     `json:"name"`
	Scopes           string     `json:"scopes"` // JSON array stored as text
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RotationDays     int        `json:"rotation_days"` // 0 = manual rotation only
	MonthlyBudgetUSD float64    `json:"monthly_budget_usd"`
	Enabled          bool       `json:"enabled"`
}

// ConversationRecord owns a conversation's accumulated token count, the
// figure routing's currentSessionTokens derives from.
type ConversationRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TotalTokens int       `json:"total_tokens"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageRecord is a persisted conversation turn.
type MessageRecord struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	TokenCount     int       `json:"token_count"`
	ModelUsed      string    `json:"model_used,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UserMemoryRecord is a durable summary of long-term user memory.
// Uniqueness key: (conversation_id, source_window_end_at).
type UserMemoryRecord struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	ConversationID    string    `json:"conversation_id"`
	SourceWindowEndAt time.Time `json:"source_window_end_at"`
	SummaryText       string    `json:"summary_text"`
	Tags              []string  `json:"tags"`
	CreatedAt         time.Time `json:"created_at"`
}

// ConversationMemoryStateRecord tracks the summarization debounce state
// for one conversation.
type ConversationMemoryStateRecord struct {
	ConversationID                 string    `json:"conversation_id"`
	UserID                          string    `json:"user_id"`
	LastSummarizedAt                time.Time `json:"last_summarized_at"`
	LastSummarizedMessageCreatedAt  time.Time `json:"last_summarized_message_created_at"`
	LastSummarizedTotalTokens       int       `json:"last_summarized_total_tokens"`
	UpdatedAt                       time.Time `json:"updated_at"`
}

// ProviderCredentialRecord is a vault-encrypted credential blob for one
// upstream provider, seeded from the configured keys at startup. The
// availability normalizer's credentialsPresent gate does not read these
// rows; it checks the configured keys.
type ProviderCredentialRecord struct {
	Provider       string    `json:"provider"` // modelregistry.Provider string value
	EncryptedValue []byte    `json:"-"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// VideoArtifactRecord is a ready video asset's compact metadata, surfaced
// to the video_ui debate profile.
type VideoArtifactRecord struct {
	AssetID     string `json:"asset_id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	DurationSec int    `json:"duration_sec"`
	Ready       bool   `json:"ready"`
}

// Store defines the persistence interface for the chat router.
type Store interface {
	// Conversations and messages
	CreateConversation(ctx context.Context, id, userID string) error
	VerifyOwnership(ctx context.Context, conversationID, userID string) (exists bool, totalTokens int, err error)
	IncrementTokens(ctx context.Context, conversationID string, delta int) error
	RecordMessage(ctx context.Context, m MessageRecord) error
	ListMessagesSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]MessageRecord, error)

	// Long-term memory
	ListRecentMemories(ctx context.Context, userID string, limit int) ([]UserMemoryRecord, error)
	UpsertMemory(ctx context.Context, row UserMemoryRecord) error
	GetMemoryState(ctx context.Context, conversationID string) (ConversationMemoryStateRecord, bool, error)
	UpsertMemoryState(ctx context.Context, row ConversationMemoryStateRecord) error

	// Provider credentials
	UpsertProviderCredential(ctx context.Context, row ProviderCredentialRecord) error
	GetProviderCredential(ctx context.Context, provider string) (*ProviderCredentialRecord, error)
	ListProviderCredentials(ctx context.Context) ([]ProviderCredentialRecord, error)

	// Video artifacts
	ListReadyVideoArtifacts(ctx context.Context, assetIDs []string, userID string) ([]VideoArtifactRecord, error)

	// API key management
	CreateAPIKey(ctx context.Context, key APIKeyRecord) error
	GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error)
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error)
	ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error)
	ListExpiredRotationKeys(ctx context.Context) ([]APIKeyRecord, error)
	UpdateAPIKey(ctx context.Context, key APIKeyRecord) error
	DeleteAPIKey(ctx context.Context, id string) error

	// Spend tracking, backing the per-key monthly budget gate
	RecordSpend(ctx context.Context, apiKeyID string, usd float64) error
	GetMonthlySpend(ctx context.Context, apiKeyID string) (float64, error)

	// Log retention
	PruneOldMessages(ctx context.Context, retention time.Duration) (int64, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
