package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

// discardLogger returns a logger that discards all output, suitable for tests.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfigDefaults(t *testing.T) {
	envVars := []string{
		"CHATROUTER_LISTEN_ADDR",
		"CHATROUTER_LOG_LEVEL",
		"CHATROUTER_DB_DSN",
		"CHATROUTER_VAULT_ENABLED",
		"CHATROUTER_PROVIDER_TIMEOUT_SECS",
		"CHATROUTER_RATE_LIMIT_RPS",
		"CHATROUTER_RATE_LIMIT_BURST",
		"CHATROUTER_ENABLE_DEBATE_MODE",
		"CHATROUTER_DEBATE_COMPLEXITY_THRESHOLD",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.DBDSN != "file:/data/chatrouter.sqlite" {
		t.Errorf("DBDSN = %q, want %q", cfg.DBDSN, "file:/data/chatrouter.sqlite")
	}
	if cfg.VaultEnabled != true {
		t.Errorf("VaultEnabled = %v, want true", cfg.VaultEnabled)
	}
	if cfg.ProviderTimeoutSecs != 30 {
		t.Errorf("ProviderTimeoutSecs = %d, want 30", cfg.ProviderTimeoutSecs)
	}
	if cfg.RateLimitRPS != 60 {
		t.Errorf("RateLimitRPS = %d, want 60", cfg.RateLimitRPS)
	}
	if !cfg.EnableDebateMode {
		t.Errorf("EnableDebateMode = %v, want true", cfg.EnableDebateMode)
	}
	if cfg.DebateComplexityThreshold != 85 {
		t.Errorf("DebateComplexityThreshold = %d, want 85", cfg.DebateComplexityThreshold)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CHATROUTER_LISTEN_ADDR", ":9090")
	t.Setenv("CHATROUTER_LOG_LEVEL", "debug")
	t.Setenv("CHATROUTER_DB_DSN", "file::memory:")
	t.Setenv("CHATROUTER_VAULT_ENABLED", "false")
	t.Setenv("CHATROUTER_PROVIDER_TIMEOUT_SECS", "60")
	t.Setenv("CHATROUTER_ENABLE_DEBATE_MODE", "false")
	t.Setenv("CHATROUTER_DEBATE_COMPLEXITY_THRESHOLD", "50")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.DBDSN != "file::memory:" {
		t.Errorf("DBDSN = %q, want %q", cfg.DBDSN, "file::memory:")
	}
	if cfg.VaultEnabled != false {
		t.Errorf("VaultEnabled = %v, want false", cfg.VaultEnabled)
	}
	if cfg.ProviderTimeoutSecs != 60 {
		t.Errorf("ProviderTimeoutSecs = %d, want 60", cfg.ProviderTimeoutSecs)
	}
	if cfg.EnableDebateMode != false {
		t.Errorf("EnableDebateMode = %v, want false", cfg.EnableDebateMode)
	}
	if cfg.DebateComplexityThreshold != 50 {
		t.Errorf("DebateComplexityThreshold = %d, want 50", cfg.DebateComplexityThreshold)
	}
}

func TestLoadConfigInvalidEnvFallsBackToDefaults(t *testing.T) {
	t.Setenv("CHATROUTER_VAULT_ENABLED", "notabool")
	t.Setenv("CHATROUTER_PROVIDER_TIMEOUT_SECS", "notanint")
	t.Setenv("CHATROUTER_RATE_LIMIT_RPS", "notanint")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.VaultEnabled != true {
		t.Errorf("VaultEnabled = %v, want true (default on invalid input)", cfg.VaultEnabled)
	}
	if cfg.ProviderTimeoutSecs != 30 {
		t.Errorf("ProviderTimeoutSecs = %d, want 30 (default on invalid input)", cfg.ProviderTimeoutSecs)
	}
	if cfg.RateLimitRPS != 60 {
		t.Errorf("RateLimitRPS = %d, want 60 (default on invalid input)", cfg.RateLimitRPS)
	}
}

func TestConfigValidateRejectsBadRateLimit(t *testing.T) {
	cfg := newTestConfig()
	cfg.RateLimitRPS = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for RateLimitRPS=0")
	}
}

func TestConfigValidateRejectsBadDebateThreshold(t *testing.T) {
	cfg := newTestConfig()
	cfg.DebateComplexityThreshold = 200
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range DebateComplexityThreshold")
	}
}

func newTestConfig() Config {
	return Config{
		ListenAddr:          ":0",
		LogLevel:            "error",
		DBDSN:               ":memory:",
		VaultEnabled:        false,
		ProviderTimeoutSecs: 30,
		FunctionTimeoutMs:   5000,
		AdminToken:          "test-admin-token",
		RateLimitRPS:        60,
		RateLimitBurst:      120,
		EnableAnthropic:     true,
		AnthropicAPIKey:     "test-key",
		AnthropicBaseURL:    "http://127.0.0.1:0",
		EnableOpenAI:        false,
		EnableGemini:        false,
		EnableDebateMode:    true,
		DebateComplexityThreshold: 85,
	}
}

func TestNewServer(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv == nil {
		t.Fatal("expected non-nil server")
	}
}

func TestNewServerHasRouter(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv.Router() == nil {
		t.Fatal("expected non-nil Router()")
	}
}

func TestServerClose(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestServerReload(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv.cfg.RateLimitRPS != 60 {
		t.Fatalf("initial RateLimitRPS = %d, want 60", srv.cfg.RateLimitRPS)
	}

	newCfg := cfg
	newCfg.RateLimitRPS = 100
	newCfg.RateLimitBurst = 200
	newCfg.LogLevel = "debug"

	srv.Reload(newCfg)

	if srv.cfg.RateLimitRPS != 100 {
		t.Errorf("after Reload RateLimitRPS = %d, want 100", srv.cfg.RateLimitRPS)
	}
	if srv.cfg.RateLimitBurst != 200 {
		t.Errorf("after Reload RateLimitBurst = %d, want 200", srv.cfg.RateLimitBurst)
	}
	if srv.cfg.LogLevel != "debug" {
		t.Errorf("after Reload LogLevel = %q, want %q", srv.cfg.LogLevel, "debug")
	}
}

func TestHealthzEndpoint(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", w.Code)
	}
}

func TestChatStreamRequiresAuth(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("POST /v1/chat/stream without auth = %d, want 401", w.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/apikeys", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("GET /admin/v1/apikeys without token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/apikeys", nil)
	req.Header.Set("Authorization", "Bearer "+cfg.AdminToken)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /admin/v1/apikeys with valid token = %d, want 200", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAdminCreateAndUseAPIKey(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	createBody, _ := json.Marshal(map[string]any{"name": "test key", "scopes": `["chat"]`})
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/apikeys", bytes.NewReader(createBody))
	req.Header.Set("Authorization", "Bearer "+cfg.AdminToken)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /admin/v1/apikeys = %d, want 200: %s", w.Code, w.Body.String())
	}

	var created map[string]any
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	plaintext, _ := created["key"].(string)
	if plaintext == "" {
		t.Fatal("expected non-empty plaintext key in create response")
	}

	// A malformed chat request with the fresh key should pass auth (401 absent)
	// even though the body itself is invalid.
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/stream", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer "+plaintext)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Fatalf("POST /v1/chat/stream with valid key = 401, want any non-auth status")
	}
}
