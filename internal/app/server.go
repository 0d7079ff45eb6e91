package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/caldera-labs/chatrouter/internal/apikey"
	"github.com/caldera-labs/chatrouter/internal/availability"
	"github.com/caldera-labs/chatrouter/internal/circuitbreaker"
	"github.com/caldera-labs/chatrouter/internal/collab"
	"github.com/caldera-labs/chatrouter/internal/debate"
	"github.com/caldera-labs/chatrouter/internal/handler"
	"github.com/caldera-labs/chatrouter/internal/health"
	"github.com/caldera-labs/chatrouter/internal/idempotency"
	"github.com/caldera-labs/chatrouter/internal/logging"
	"github.com/caldera-labs/chatrouter/internal/memory"
	"github.com/caldera-labs/chatrouter/internal/metrics"
	"github.com/caldera-labs/chatrouter/internal/modelregistry"
	"github.com/caldera-labs/chatrouter/internal/providers"
	"github.com/caldera-labs/chatrouter/internal/providers/anthropic"
	"github.com/caldera-labs/chatrouter/internal/providers/gemini"
	"github.com/caldera-labs/chatrouter/internal/providers/openai"
	"github.com/caldera-labs/chatrouter/internal/ratelimit"
	"github.com/caldera-labs/chatrouter/internal/store"
	temporalpkg "github.com/caldera-labs/chatrouter/internal/temporal"
	"github.com/caldera-labs/chatrouter/internal/tracing"
	"github.com/caldera-labs/chatrouter/internal/vault"
)

// Server wires together every long-lived component and exposes the
// resulting chi.Mux. One struct owns the router plus every dependency,
// built once in NewServer and torn down once in Close.
type Server struct {
	cfg Config

	r *chi.Mux

	vault            *vault.Vault
	store            store.Store
	logger           *slog.Logger
	temporal         *temporalpkg.Manager // nil when Temporal disabled
	health           *health.Tracker
	prober           *health.Prober // nil when no probeable adapters
	rateLimiter      *ratelimit.Limiter
	idempotencyCache *idempotency.Cache
	otelShutdown     func(context.Context) error // nil when OTel disabled
	apiKeyMgr        *apikey.Manager
	budgetChecker    *apikey.BudgetChecker

	stopLogPrune chan struct{} // signals log prune goroutine to stop
	stopRotation chan struct{} // signals key rotation enforcement goroutine to stop

	httpServer *http.Server // set via SetHTTPServer; used by Close() to drain in-flight requests
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	if cfg.OTelEnabled {
		logger.Info("opentelemetry tracing enabled",
			slog.String("endpoint", cfg.OTelEndpoint),
			slog.String("service", cfg.OTelServiceName),
		)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}
	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	m := metrics.New()

	rl := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimitedTotal))

	v, err := vault.New(cfg.VaultEnabled)
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	// This system's provider set is closed and fully described by
	// CHATROUTER_*_API_KEY env vars, so there is no cross-restart vault blob
	// to restore: the vault re-derives a fresh salt on every boot and
	// re-encrypts those env-sourced keys into ProviderCredentialRecord rows
	// below.
	if cfg.VaultEnabled && cfg.VaultPassword != "" {
		logger.Warn("CHATROUTER_VAULT_PASSWORD is set: vault password is visible in the process environment — prefer a secrets manager in production")
		if err := v.Unlock([]byte(cfg.VaultPassword)); err != nil {
			logger.Error("failed to auto-unlock vault", slog.String("error", err.Error()))
		}
	}
	seedProviderCredentials(context.Background(), v, db, cfg, logger)

	ht := health.NewTracker(health.DefaultConfig(), health.WithOnUpdate(func(providerID string, state health.State) {
		var v float64
		switch state {
		case health.StateHealthy:
			v = 2
		case health.StateDegraded:
			v = 1
		default: // StateDown
			v = 0
		}
		m.ProviderHealthState.WithLabelValues(providerID).Set(v)
	}))

	providerTimeout := time.Duration(cfg.ProviderTimeoutSecs) * time.Second
	adapters := map[modelregistry.Provider]providers.Adapter{
		modelregistry.ProviderAnthropic: anthropic.New(string(modelregistry.ProviderAnthropic), cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, anthropic.WithTimeout(providerTimeout)),
		modelregistry.ProviderOpenAI:    openai.New(string(modelregistry.ProviderOpenAI), cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, openai.WithTimeout(providerTimeout)),
		modelregistry.ProviderGemini:    gemini.New(string(modelregistry.ProviderGemini), cfg.GeminiAPIKey, cfg.GeminiBaseURL, gemini.WithTimeout(providerTimeout)),
	}

	var prober *health.Prober
	var probeTargets []health.Probeable
	for _, a := range adapters {
		if p, ok := a.(health.Probeable); ok {
			probeTargets = append(probeTargets, p)
		}
	}
	if len(probeTargets) > 0 {
		prober = health.NewProber(health.DefaultProberConfig(), ht, probeTargets, logger)
		prober.Start()
		logger.Info("health prober started", slog.Int("targets", len(probeTargets)))
	}

	enabled := map[modelregistry.Provider]bool{
		modelregistry.ProviderAnthropic: cfg.EnableAnthropic,
		modelregistry.ProviderOpenAI:    cfg.EnableOpenAI,
		modelregistry.ProviderGemini:    cfg.EnableGemini,
	}
	if !enabled[modelregistry.ProviderAnthropic] && !enabled[modelregistry.ProviderOpenAI] && !enabled[modelregistry.ProviderGemini] {
		logger.Warn("NO PROVIDERS ENABLED — every chat request will fail until at least one CHATROUTER_ENABLE_* flag is set")
	}
	availabilityConfig := func() availability.Config {
		gates := make(map[string]availability.Gate, 3)
		for p, on := range enabled {
			gates[string(p)] = availability.Gate{Enabled: on, CredentialsPresent: hasCredentials(p, cfg)}
		}
		return availability.Config{Gates: gates, Health: ht}
	}

	resolveAdapter := func(tier string) (providers.Adapter, bool) {
		entry, ok := modelregistry.Lookup(tier)
		if !ok {
			return nil, false
		}
		a, ok := adapters[entry.Provider]
		return a, ok
	}

	keyMgr := apikey.NewManager(db)
	budgetChecker := apikey.NewBudgetChecker(db)

	idemCache := idempotency.New(5*time.Minute, 10000)
	logger.Info("idempotency cache initialized", slog.Duration("ttl", 5*time.Minute), slog.Int("max_entries", 10000))

	breaker := circuitbreaker.New(
		circuitbreaker.WithThreshold(3),
		circuitbreaker.WithCooldown(30*time.Second),
		circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
			logger.Warn("temporal circuit breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			m.TemporalCircuitState.Set(float64(to))
		}),
	)

	summarizer := &memory.Summarizer{Resolve: memory.AdapterResolver(resolveAdapter)}
	collabStore := &store.CollabAdapter{Store: db}

	memManager := &memory.Manager{
		Store:      collabStore,
		Summarizer: summarizer,
		Breaker:    breaker,
		Logger:     logger,
	}

	var temporalMgr *temporalpkg.Manager
	if cfg.TemporalEnabled {
		acts := &temporalpkg.Activities{Summarizer: summarizer, Logger: logger}
		tmgr, err := temporalpkg.New(temporalpkg.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, acts)
		if err != nil {
			logger.Error("failed to initialize Temporal", slog.String("error", err.Error()))
		} else if err := tmgr.Start(); err != nil {
			logger.Error("failed to start Temporal worker", slog.String("error", err.Error()))
			tmgr.Stop()
		} else {
			temporalMgr = tmgr
			memManager.Temporal = tmgr // nil *Manager would satisfy TemporalDispatcher as a non-nil interface, so only assign on success
			m.TemporalUp.Set(1)
			logger.Info("temporal workflow engine started",
				slog.String("host", cfg.TemporalHostPort),
				slog.String("namespace", cfg.TemporalNamespace),
				slog.String("task_queue", cfg.TemporalTaskQueue),
			)
		}
	}

	debateOrch := &debate.Orchestrator{
		Resolve: debate.AdapterResolver(resolveAdapter),
		Timeouts: debate.StageTimeouts{
			General: time.Duration(cfg.DebateStageTimeoutGeneralMs) * time.Millisecond,
			Code:    time.Duration(cfg.DebateStageTimeoutCodeMs) * time.Millisecond,
			VideoUI: time.Duration(cfg.DebateStageTimeoutVideoUIMs) * time.Millisecond,
		},
		MaxToks: debate.WorkerMaxTokens{
			General: cfg.DebateWorkerMaxTokensGeneral,
			Code:    cfg.DebateWorkerMaxTokensCode,
			VideoUI: cfg.DebateWorkerMaxTokensVideoUI,
		},
	}

	h := handler.New(handler.Deps{
		Auth:               &apikey.AuthAdapter{Mgr: keyMgr},
		Conversations:      collabStore,
		Memory:             collabStore,
		VideoArtifacts:     collabStore,
		Adapters:           adapters,
		AvailabilityConfig: availabilityConfig,
		Debate:             debateOrch,
		MemoryManager:      memManager,
		Logger:             logger,
		Metrics:            m,
		FunctionTimeout:    time.Duration(cfg.FunctionTimeoutMs) * time.Millisecond,
		EnableDebateMode:   cfg.EnableDebateMode,
		EnableDebateAuto:   cfg.EnableDebateAuto,
		DebateThreshold:    cfg.DebateComplexityThreshold,
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())

	r.Group(func(gr chi.Router) {
		gr.Use(rl.Middleware)
		gr.Use(idempotency.Middleware(idemCache))
		gr.Use(apikey.AuthMiddleware(keyMgr, budgetChecker))
		gr.Use(recordSpendMiddleware(db, budgetChecker, logger))
		gr.Post("/v1/chat/stream", h.ServeHTTP)
	})

	if cfg.AdminToken == "" {
		tokenBytes := make([]byte, 32)
		if _, err := rand.Read(tokenBytes); err != nil {
			return nil, fmt.Errorf("generate admin token: %w", err)
		}
		cfg.AdminToken = hex.EncodeToString(tokenBytes)
		logger.Warn("CHATROUTER_ADMIN_TOKEN not set — auto-generated an ephemeral token for this process")
	}

	mountAdminRoutes(r, adminDeps{
		cfg:    cfg,
		keyMgr: keyMgr,
		health: ht,
		logger: logger,
	})

	if len(cfg.CORSOrigins) == 0 {
		logger.Warn("CHATROUTER_CORS_ORIGINS not set — CORS allows all origins")
	}

	s := &Server{
		cfg:              cfg,
		r:                r,
		vault:            v,
		store:            db,
		logger:           logger,
		temporal:         temporalMgr,
		health:           ht,
		prober:           prober,
		rateLimiter:      rl,
		idempotencyCache: idemCache,
		otelShutdown:     otelShutdown,
		apiKeyMgr:        keyMgr,
		budgetChecker:    budgetChecker,
		stopLogPrune:     make(chan struct{}),
		stopRotation:     make(chan struct{}),
	}

	go s.logPruneLoop()
	go s.rotationEnforceLoop()

	return s, nil
}

// hasCredentials reports whether the configured API key for a provider is
// non-empty, backing the availability normalizer's credentialsPresent gate.
func hasCredentials(p modelregistry.Provider, cfg Config) bool {
	switch p {
	case modelregistry.ProviderAnthropic:
		return cfg.AnthropicAPIKey != ""
	case modelregistry.ProviderOpenAI:
		return cfg.OpenAIAPIKey != ""
	case modelregistry.ProviderGemini:
		return cfg.GeminiAPIKey != ""
	default:
		return false
	}
}

// seedProviderCredentials encrypts each configured provider API key into the
// vault and upserts a ProviderCredentialRecord row for it. A provider with no
// key configured is left without a row. The credentialsPresent gate does not
// read these rows: hasCredentials checks the configured keys directly.
func seedProviderCredentials(ctx context.Context, v *vault.Vault, db store.Store, cfg Config, logger *slog.Logger) {
	if v.IsLocked() {
		return
	}
	keys := map[modelregistry.Provider]string{
		modelregistry.ProviderAnthropic: cfg.AnthropicAPIKey,
		modelregistry.ProviderOpenAI:    cfg.OpenAIAPIKey,
		modelregistry.ProviderGemini:    cfg.GeminiAPIKey,
	}
	for p, key := range keys {
		if key == "" {
			continue
		}
		enc, err := v.Encrypt([]byte(key))
		if err != nil {
			logger.Error("failed to encrypt provider credential", slog.String("provider", string(p)), slog.String("error", err.Error()))
			continue
		}
		if err := db.UpsertProviderCredential(ctx, store.ProviderCredentialRecord{
			Provider:       string(p),
			EncryptedValue: enc,
			UpdatedAt:      time.Now().UTC(),
		}); err != nil {
			logger.Error("failed to persist provider credential", slog.String("provider", string(p)), slog.String("error", err.Error()))
		}
	}
}

// recordSpendMiddleware runs after apikey.AuthMiddleware has already
// validated the caller and checked their budget, and records the estimated
// spend the handler published via X-Cost-Estimate-USD once the response
// completes successfully. It is BudgetChecker.CheckBudget's post-flight
// counterpart — AuthMiddleware already applied the pre-flight check — and
// invalidates the cached spend so the next request's pre-check sees the
// update.
func recordSpendMiddleware(db store.Store, budgetChecker *apikey.BudgetChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sr, r)
			rec := apikey.FromContext(r.Context())
			if rec == nil || sr.statusCode != http.StatusOK {
				return
			}
			usd, err := strconv.ParseFloat(sr.Header().Get("X-Cost-Estimate-USD"), 64)
			if err != nil || usd <= 0 {
				return
			}
			if err := db.RecordSpend(r.Context(), rec.ID, usd); err != nil {
				logger.Warn("record spend failed", slog.String("error", err.Error()))
				return
			}
			budgetChecker.InvalidateCache(rec.ID)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) Router() http.Handler { return s.r }

// SetHTTPServer registers the HTTP server so that Close() can drain in-flight
// requests via http.Server.Shutdown before releasing other resources.
func (s *Server) SetHTTPServer(srv *http.Server) {
	s.httpServer = srv
}

// Reload applies hot-reloadable configuration at runtime without restarting
// the process: rate limits and log level only. Provider credentials, debate
// knobs, and Temporal wiring all require a restart — they're read once at
// startup and woven through closures that would be awkward and error-prone
// to swap out live.
func (s *Server) Reload(cfg Config) {
	s.rateLimiter.UpdateLimits(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logging.SetLevel(cfg.LogLevel)
	s.cfg = cfg
	s.logger.Info("configuration reloaded",
		slog.Int("rate_limit_rps", cfg.RateLimitRPS),
		slog.Int("rate_limit_burst", cfg.RateLimitBurst),
		slog.String("log_level", cfg.LogLevel),
	)
}

func (s *Server) Close() error {
	if s.httpServer != nil {
		drainSecs := s.cfg.ShutdownDrainSecs
		if drainSecs <= 0 {
			drainSecs = 30
		}
		drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(drainSecs)*time.Second)
		defer drainCancel()
		if err := s.httpServer.Shutdown(drainCtx); err != nil {
			s.logger.Warn("HTTP drain error", slog.String("error", err.Error()))
		}
	}

	close(s.stopLogPrune)
	close(s.stopRotation)
	if s.prober != nil {
		s.prober.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.idempotencyCache != nil {
		s.idempotencyCache.Stop()
	}
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// logPruneLoop periodically deletes conversation messages older than the
// retention window.
func (s *Server) logPruneLoop() {
	const retention = 90 * 24 * time.Hour
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			deleted, err := s.store.PruneOldMessages(ctx, retention)
			cancel()
			if err != nil {
				s.logger.Warn("message prune failed", slog.String("error", err.Error()))
			} else if deleted > 0 {
				s.logger.Info("old messages pruned", slog.Int64("deleted", deleted))
			}
		case <-s.stopLogPrune:
			return
		}
	}
}

// rotationEnforceLoop periodically checks for API keys that have exceeded
// their rotation period and disables them.
func (s *Server) rotationEnforceLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			count, err := s.apiKeyMgr.EnforceRotation(ctx, s.logger)
			cancel()
			if err != nil {
				s.logger.Warn("key rotation enforcement failed", slog.String("error", err.Error()))
			} else if count > 0 {
				s.logger.Info("key rotation enforcement completed", slog.Int("disabled", count))
			}
		case <-s.stopRotation:
			return
		}
	}
}

var _ collab.ConversationStore = (*store.CollabAdapter)(nil)
