package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/caldera-labs/chatrouter/internal/apierr"
)

// errorBody is the JSON shape written for every non-2xx response.
type errorBody struct {
	Error    string `json:"error"`
	Provider string `json:"provider,omitempty"`
	Details  string `json:"details,omitempty"`
}

func writeAPIError(w http.ResponseWriter, logger *slog.Logger, err *apierr.Error) {
	if err.Kind == apierr.UpstreamError || err.Kind == apierr.ServerMisconfig {
		logger.Error("request failed", slog.String("kind", string(err.Kind)), slog.String("message", err.Message), slog.String("provider", err.Provider))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	code := err.Code
	if code == "" {
		code = err.Message
	}
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Provider: err.Provider, Details: err.Details})
}

func writeBadRequest(w http.ResponseWriter, logger *slog.Logger, message string) {
	writeAPIError(w, logger, apierr.New(apierr.BadRequest, message))
}
