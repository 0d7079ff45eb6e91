package app

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caldera-labs/chatrouter/internal/apikey"
	"github.com/caldera-labs/chatrouter/internal/health"
)

// adminDeps is the narrow set of dependencies the admin API needs, scoped to
// what this system's closed provider set actually needs an operator to
// manage: API keys and provider health, not a dynamic provider/model
// registry (this system has no such registry, see DESIGN.md).
type adminDeps struct {
	cfg    Config
	keyMgr *apikey.Manager
	health *health.Tracker
	logger *slog.Logger
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// adminAuthMiddleware checks for a valid Bearer token on admin endpoints.
func adminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				jsonError(w, "missing admin token", http.StatusUnauthorized)
				return
			}
			provided := strings.TrimPrefix(auth, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				jsonError(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// mountAdminRoutes wires the operator-facing API key management surface
// under /admin/v1: create/list/rotate/patch/delete, plus a health snapshot.
// There is no audit-log side effect (this system's Store has no LogAudit
// equivalent — see DESIGN.md) and no provider/model dashboard endpoints
// (no dynamic provider registry here; providers are the fixed set wired at
// startup from config).
func mountAdminRoutes(r chi.Router, d adminDeps) {
	r.Route("/admin/v1", func(ar chi.Router) {
		ar.Use(adminAuthMiddleware(d.cfg.AdminToken))

		ar.Post("/apikeys", adminCreateKey(d))
		ar.Get("/apikeys", adminListKeys(d))
		ar.Post("/apikeys/{id}/rotate", adminRotateKey(d))
		ar.Patch("/apikeys/{id}", adminPatchKey(d))
		ar.Delete("/apikeys/{id}", adminDeleteKey(d))

		ar.Get("/health", adminHealth(d))
	})
}

func adminCreateKey(d adminDeps) http.HandlerFunc {
	type createReq struct {
		Name             string  `json:"name"`
		Scopes           string  `json:"scopes"` // JSON array, e.g. `["chat"]`
		RotationDays     int     `json:"rotation_days"`
		ExpiresIn        string  `json:"expires_in"` // duration string, e.g. "720h"
		MonthlyBudgetUSD float64 `json:"monthly_budget_usd"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req createReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			jsonError(w, "name required", http.StatusBadRequest)
			return
		}
		if req.Scopes == "" {
			req.Scopes = `["chat"]`
		}

		var expiresAt *time.Time
		if req.ExpiresIn != "" {
			dur, err := time.ParseDuration(req.ExpiresIn)
			if err != nil {
				jsonError(w, "invalid expires_in duration", http.StatusBadRequest)
				return
			}
			t := time.Now().UTC().Add(dur)
			expiresAt = &t
		}

		plaintext, rec, err := d.keyMgr.Generate(r.Context(), req.Name, req.Scopes, req.RotationDays, expiresAt)
		if err != nil {
			jsonError(w, "failed to create key: "+err.Error(), http.StatusInternalServerError)
			return
		}
		rec.MonthlyBudgetUSD = req.MonthlyBudgetUSD

		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"key":     plaintext,
			"id":      rec.ID,
			"prefix":  rec.KeyPrefix,
			"name":    rec.Name,
			"scopes":  rec.Scopes,
			"warning": "this is the only time the full key will be shown",
		})
	}
}

func adminListKeys(d adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := d.keyMgr.ListKeys(r.Context())
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}
}

func adminRotateKey(d adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		plaintext, err := d.keyMgr.Rotate(r.Context(), id)
		if err != nil {
			jsonError(w, "rotate failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"key":     plaintext,
			"warning": "this is the only time the new key will be shown",
		})
	}
}

func adminPatchKey(d adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := d.keyMgr.ApplyPatch(r.Context(), id, patch); err != nil {
			jsonError(w, "update failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

func adminDeleteKey(d adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.keyMgr.Delete(r.Context(), id); err != nil {
			jsonError(w, "delete failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

func adminHealth(d adminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"providers": d.health.AllStats()})
	}
}
