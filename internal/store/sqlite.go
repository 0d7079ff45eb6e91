package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			model_used TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS user_memory (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			source_window_end_at TEXT NOT NULL,
			summary_text TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			UNIQUE(conversation_id, source_window_end_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_memory_user_created ON user_memory(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS conversation_memory_state (
			conversation_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			last_summarized_at TEXT,
			last_summarized_message_created_at TEXT,
			last_summarized_total_tokens INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS provider_credentials (
			provider TEXT PRIMARY KEY,
			encrypted_value BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS video_artifacts (
			asset_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			duration_sec INTEGER NOT NULL DEFAULT 0,
			ready INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '["chat"]',
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			expires_at TEXT,
			rotation_days INTEGER NOT NULL DEFAULT 0,
			monthly_budget_usd REAL NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
		`CREATE TABLE IF NOT EXISTS spend_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			api_key_id TEXT NOT NULL,
			usd REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spend_log_key_created ON spend_log(api_key_id, created_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Conversations and messages

func (s *SQLiteStore) CreateConversation(ctx context.Context, id, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, total_tokens, created_at)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, userID, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) VerifyOwnership(ctx context.Context, conversationID, userID string) (bool, int, error) {
	var ownerID string
	var totalTokens int
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, total_tokens FROM conversations WHERE id = ?`, conversationID).
		Scan(&ownerID, &totalTokens)
	if err == sql.ErrNoRows {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return ownerID == userID, totalTokens, nil
}

func (s *SQLiteStore) IncrementTokens(ctx context.Context, conversationID string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET total_tokens = total_tokens + ? WHERE id = ?`, delta, conversationID)
	return err
}

func (s *SQLiteStore) RecordMessage(ctx context.Context, m MessageRecord) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, token_count, model_used, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.Role, m.Content, m.TokenCount, m.ModelUsed, m.ImageURL,
		createdAt.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ListMessagesSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 24
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, token_count, model_used, image_url, created_at
		 FROM messages WHERE conversation_id = ? AND created_at > ?
		 ORDER BY created_at ASC LIMIT ?`,
		conversationID, since.Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		var ts string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.TokenCount, &m.ModelUsed, &m.ImageURL, &ts); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Long-term memory

func (s *SQLiteStore) ListRecentMemories(ctx context.Context, userID string, limit int) ([]UserMemoryRecord, error) {
	if limit <= 0 {
		limit = 24
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, source_window_end_at, summary_text, tags, created_at
		 FROM user_memory WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []UserMemoryRecord
	for rows.Next() {
		var r UserMemoryRecord
		var sourceTs, createdTs, tagsJSON string
		if err := rows.Scan(&r.ID, &r.UserID, &r.ConversationID, &sourceTs, &r.SummaryText, &tagsJSON, &createdTs); err != nil {
			return nil, err
		}
		r.SourceWindowEndAt, _ = time.Parse(time.RFC3339Nano, sourceTs)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdTs)
		if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal memory tags: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertMemory(ctx context.Context, row UserMemoryRecord) error {
	if row.ID == "" {
		row.ID = uuid.Must(uuid.NewV7()).String()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	tagsJSON, err := json.Marshal(row.Tags)
	if err != nil {
		return fmt.Errorf("marshal memory tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_memory (id, user_id, conversation_id, source_window_end_at, summary_text, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id, source_window_end_at) DO UPDATE SET
		   summary_text=excluded.summary_text,
		   tags=excluded.tags`,
		row.ID, row.UserID, row.ConversationID,
		row.SourceWindowEndAt.Format(time.RFC3339Nano), row.SummaryText, string(tagsJSON),
		row.CreatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) GetMemoryState(ctx context.Context, conversationID string) (ConversationMemoryStateRecord, bool, error) {
	var r ConversationMemoryStateRecord
	var lastSummarizedAt, lastSummarizedMsgAt sql.NullString
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, user_id, last_summarized_at, last_summarized_message_created_at, last_summarized_total_tokens, updated_at
		 FROM conversation_memory_state WHERE conversation_id = ?`, conversationID).
		Scan(&r.ConversationID, &r.UserID, &lastSummarizedAt, &lastSummarizedMsgAt, &r.LastSummarizedTotalTokens, &updatedAt)
	if err == sql.ErrNoRows {
		return ConversationMemoryStateRecord{}, false, nil
	}
	if err != nil {
		return ConversationMemoryStateRecord{}, false, err
	}
	if lastSummarizedAt.Valid {
		r.LastSummarizedAt, _ = time.Parse(time.RFC3339Nano, lastSummarizedAt.String)
	}
	if lastSummarizedMsgAt.Valid {
		r.LastSummarizedMessageCreatedAt, _ = time.Parse(time.RFC3339Nano, lastSummarizedMsgAt.String)
	}
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return r, true, nil
}

func (s *SQLiteStore) UpsertMemoryState(ctx context.Context, row ConversationMemoryStateRecord) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_memory_state
		   (conversation_id, user_id, last_summarized_at, last_summarized_message_created_at, last_summarized_total_tokens, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
		   last_summarized_at=excluded.last_summarized_at,
		   last_summarized_message_created_at=excluded.last_summarized_message_created_at,
		   last_summarized_total_tokens=excluded.last_summarized_total_tokens,
		   updated_at=excluded.updated_at`,
		row.ConversationID, row.UserID,
		row.LastSummarizedAt.Format(time.RFC3339Nano), row.LastSummarizedMessageCreatedAt.Format(time.RFC3339Nano),
		row.LastSummarizedTotalTokens, row.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// Provider credentials

func (s *SQLiteStore) UpsertProviderCredential(ctx context.Context, row ProviderCredentialRecord) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_credentials (provider, encrypted_value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET encrypted_value=excluded.encrypted_value, updated_at=excluded.updated_at`,
		row.Provider, row.EncryptedValue, row.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) GetProviderCredential(ctx context.Context, provider string) (*ProviderCredentialRecord, error) {
	var r ProviderCredentialRecord
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, encrypted_value, updated_at FROM provider_credentials WHERE provider = ?`, provider).
		Scan(&r.Provider, &r.EncryptedValue, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &r, nil
}

func (s *SQLiteStore) ListProviderCredentials(ctx context.Context) ([]ProviderCredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, encrypted_value, updated_at FROM provider_credentials`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ProviderCredentialRecord
	for rows.Next() {
		var r ProviderCredentialRecord
		var updatedAt string
		if err := rows.Scan(&r.Provider, &r.EncryptedValue, &updatedAt); err != nil {
			return nil, err
		}
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Video artifacts

func (s *SQLiteStore) ListReadyVideoArtifacts(ctx context.Context, assetIDs []string, userID string) ([]VideoArtifactRecord, error) {
	if len(assetIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(assetIDs))
	args := make([]any, 0, len(assetIDs)+1)
	for i, id := range assetIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, userID)

	query := fmt.Sprintf(
		`SELECT asset_id, user_id, title, summary, duration_sec, ready FROM video_artifacts
		 WHERE asset_id IN (%s) AND user_id = ? AND ready = 1`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []VideoArtifactRecord
	for rows.Next() {
		var r VideoArtifactRecord
		var readyInt int
		if err := rows.Scan(&r.AssetID, &r.UserID, &r.Title, &r.Summary, &r.DurationSec, &readyInt); err != nil {
			return nil, err
		}
		r.Ready = readyInt != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// API Keys

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key APIKeyRecord) error {
	var lastUsed, expires *string
	if key.LastUsedAt != nil {
		t := key.LastUsedAt.UTC().Format(time.RFC3339)
		lastUsed = &t
	}
	if key.ExpiresAt != nil {
		t := key.ExpiresAt.UTC().Format(time.RFC3339)
		expires = &t
	}
	enabledInt := 0
	if key.Enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, name, scopes, created_at, last_used_at, expires_at, rotation_days, monthly_budget_usd, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.Name, key.Scopes,
		key.CreatedAt.UTC().Format(time.RFC3339), lastUsed, expires,
		key.RotationDays, key.MonthlyBudgetUSD, enabledInt)
	return err
}

func scanAPIKey(scan func(dest ...any) error) (APIKeyRecord, error) {
	var k APIKeyRecord
	var createdAt string
	var lastUsed, expires sql.NullString
	var enabledInt int
	err := scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Scopes,
		&createdAt, &lastUsed, &expires, &k.RotationDays, &k.MonthlyBudgetUSD, &enabledInt)
	if err != nil {
		return APIKeyRecord{}, err
	}
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastUsed.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsed.String)
		k.LastUsedAt = &t
	}
	if expires.Valid {
		t, _ := time.Parse(time.RFC3339, expires.String)
		k.ExpiresAt = &t
	}
	k.Enabled = enabledInt != 0
	return k, nil
}

const apiKeyColumns = `id, key_hash, key_prefix, name, scopes, created_at, last_used_at, expires_at, rotation_days, monthly_budget_usd, enabled`

func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	k, err := scanAPIKey(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *SQLiteStore) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = ? AND enabled = 1`, prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKeyRecord
	for rows.Next() {
		k, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKeyRecord
	for rows.Next() {
		k, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) ListExpiredRotationKeys(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys
		 WHERE rotation_days > 0 AND enabled = 1
		 AND datetime(created_at, '+' || rotation_days || ' days') <= datetime('now')`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKeyRecord
	for rows.Next() {
		k, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) UpdateAPIKey(ctx context.Context, key APIKeyRecord) error {
	var lastUsed, expires *string
	if key.LastUsedAt != nil {
		t := key.LastUsedAt.UTC().Format(time.RFC3339)
		lastUsed = &t
	}
	if key.ExpiresAt != nil {
		t := key.ExpiresAt.UTC().Format(time.RFC3339)
		expires = &t
	}
	enabledInt := 0
	if key.Enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET key_hash=?, key_prefix=?, name=?, scopes=?, last_used_at=?, expires_at=?, rotation_days=?, monthly_budget_usd=?, enabled=?
		 WHERE id=?`,
		key.KeyHash, key.KeyPrefix, key.Name, key.Scopes,
		lastUsed, expires, key.RotationDays, key.MonthlyBudgetUSD, enabledInt, key.ID)
	return err
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}

// Spend tracking

func (s *SQLiteStore) RecordSpend(ctx context.Context, apiKeyID string, usd float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spend_log (api_key_id, usd, created_at) VALUES (?, ?, ?)`,
		apiKeyID, usd, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) GetMonthlySpend(ctx context.Context, apiKeyID string) (float64, error) {
	monthStart := time.Now().UTC().Format("2006-01") + "-01T00:00:00Z"
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(usd) FROM spend_log WHERE api_key_id = ? AND created_at >= ?`,
		apiKeyID, monthStart).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

// Log retention

func (s *SQLiteStore) PruneOldMessages(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
