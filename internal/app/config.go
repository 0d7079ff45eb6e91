package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration, loaded from CHATROUTER_* environment
// variables. Kept flat and env-driven — no config file format, no
// command-line flags beyond what cmd/chatrouter adds.
type Config struct {
	ListenAddr        string
	LogLevel          string
	DevMode           bool
	ShutdownDrainSecs int

	DBDSN string

	VaultEnabled  bool
	VaultPassword string // auto-unlock vault at startup if set

	ProviderTimeoutSecs int
	FunctionTimeoutMs   int

	// Security & hardening.
	AdminToken     string   // required for admin endpoints
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// OpenTelemetry tracing (opt-in).
	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	// Temporal workflow engine, used to dispatch memory summarization.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// Provider enablement and credentials.
	EnableAnthropic bool
	AnthropicAPIKey string
	AnthropicBaseURL string

	EnableOpenAI  bool
	OpenAIAPIKey  string
	OpenAIBaseURL string

	EnableGemini  bool
	GeminiAPIKey  string
	GeminiBaseURL string

	// Debate mode.
	EnableDebateMode           bool
	EnableDebateAuto           bool
	DebateComplexityThreshold  int
	DebateWorkerMaxTokensGeneral int
	DebateWorkerMaxTokensCode    int
	DebateWorkerMaxTokensVideoUI int
	DebateStageTimeoutGeneralMs  int
	DebateStageTimeoutCodeMs     int
	DebateStageTimeoutVideoUIMs  int
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr:        getEnv("CHATROUTER_LISTEN_ADDR", ":8080"),
		LogLevel:          getEnv("CHATROUTER_LOG_LEVEL", "info"),
		DevMode:           getEnvBool("CHATROUTER_DEV_MODE", false),
		ShutdownDrainSecs: getEnvInt("CHATROUTER_SHUTDOWN_DRAIN_SECS", 30),

		DBDSN: getEnv("CHATROUTER_DB_DSN", "file:/data/chatrouter.sqlite"),

		VaultEnabled:  getEnvBool("CHATROUTER_VAULT_ENABLED", true),
		VaultPassword: getEnv("CHATROUTER_VAULT_PASSWORD", ""),

		ProviderTimeoutSecs: getEnvInt("CHATROUTER_PROVIDER_TIMEOUT_SECS", 30),
		FunctionTimeoutMs:   getEnvInt("CHATROUTER_FUNCTION_TIMEOUT_MS", 55000),

		AdminToken:     getEnv("CHATROUTER_ADMIN_TOKEN", ""),
		CORSOrigins:    getEnvStringSlice("CHATROUTER_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("CHATROUTER_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("CHATROUTER_RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("CHATROUTER_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("CHATROUTER_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("CHATROUTER_OTEL_SERVICE_NAME", "chatrouter"),

		TemporalEnabled:   getEnvBool("CHATROUTER_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("CHATROUTER_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("CHATROUTER_TEMPORAL_NAMESPACE", "chatrouter"),
		TemporalTaskQueue: getEnv("CHATROUTER_TEMPORAL_TASK_QUEUE", "chatrouter-tasks"),

		EnableAnthropic:  getEnvBool("CHATROUTER_ENABLE_ANTHROPIC", true),
		AnthropicAPIKey:  getEnv("CHATROUTER_ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("CHATROUTER_ANTHROPIC_BASE_URL", "https://api.anthropic.com"),

		EnableOpenAI:  getEnvBool("CHATROUTER_ENABLE_OPENAI", true),
		OpenAIAPIKey:  getEnv("CHATROUTER_OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("CHATROUTER_OPENAI_BASE_URL", "https://api.openai.com"),

		EnableGemini:  getEnvBool("CHATROUTER_ENABLE_GEMINI", true),
		GeminiAPIKey:  getEnv("CHATROUTER_GEMINI_API_KEY", ""),
		GeminiBaseURL: getEnv("CHATROUTER_GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		EnableDebateMode:          getEnvBool("CHATROUTER_ENABLE_DEBATE_MODE", true),
		EnableDebateAuto:          getEnvBool("CHATROUTER_ENABLE_DEBATE_AUTO", false),
		DebateComplexityThreshold: getEnvInt("CHATROUTER_DEBATE_COMPLEXITY_THRESHOLD", 85),

		DebateWorkerMaxTokensGeneral: getEnvInt("CHATROUTER_DEBATE_WORKER_MAX_TOKENS_GENERAL", 600),
		DebateWorkerMaxTokensCode:    getEnvInt("CHATROUTER_DEBATE_WORKER_MAX_TOKENS_CODE", 900),
		DebateWorkerMaxTokensVideoUI: getEnvInt("CHATROUTER_DEBATE_WORKER_MAX_TOKENS_VIDEO_UI", 700),

		DebateStageTimeoutGeneralMs: getEnvInt("CHATROUTER_DEBATE_STAGE_TIMEOUT_GENERAL_MS", 11000),
		DebateStageTimeoutCodeMs:    getEnvInt("CHATROUTER_DEBATE_STAGE_TIMEOUT_CODE_MS", 11000),
		DebateStageTimeoutVideoUIMs: getEnvInt("CHATROUTER_DEBATE_VIDEO_UI_STAGE_TIMEOUT_MS", 14000),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("CHATROUTER_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("CHATROUTER_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("CHATROUTER_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.FunctionTimeoutMs <= 0 {
		return fmt.Errorf("CHATROUTER_FUNCTION_TIMEOUT_MS must be > 0, got %d", c.FunctionTimeoutMs)
	}
	if c.DebateComplexityThreshold < 0 || c.DebateComplexityThreshold > 100 {
		return fmt.Errorf("CHATROUTER_DEBATE_COMPLEXITY_THRESHOLD must be between 0 and 100, got %d", c.DebateComplexityThreshold)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
