// Package apierr is the error taxonomy surfaced to clients: each Kind maps
// to one HTTP status code and an optional machine-readable code string.
// It is a closed eight-kind taxonomy covering every error this system
// surfaces to a client.
package apierr

import "net/http"

// Kind is the closed set of error kinds from the error handling design.
type Kind string

const (
	BadRequest          Kind = "bad-request"
	Unauthorized        Kind = "unauthorized"
	Forbidden           Kind = "forbidden"
	VideoNotReady       Kind = "video-not-ready"
	ProviderUnavailable Kind = "provider-unavailable"
	UpstreamError       Kind = "upstream-error"
	DeadlineExceeded    Kind = "deadline-exceeded"
	ServerMisconfig     Kind = "server-misconfig"
)

var statusByKind = map[Kind]int{
	BadRequest:          http.StatusBadRequest,
	Unauthorized:        http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	VideoNotReady:       http.StatusBadRequest,
	ProviderUnavailable: http.StatusBadRequest,
	UpstreamError:       http.StatusBadGateway,
	DeadlineExceeded:    http.StatusGatewayTimeout,
	ServerMisconfig:     http.StatusInternalServerError,
}

// Error is the taxonomy's concrete error value. Provider and Details are
// only populated for UpstreamError, per §6's `{error, provider, details}`
// body shape. Code is the machine-readable string some kinds require
// (e.g. "video_not_ready").
type Error struct {
	Kind     Kind
	Message  string
	Code     string
	Provider string
	Details  string
}

func (e *Error) Error() string { return e.Message }

// Status returns the HTTP status code for e.Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds a bare Error of the given kind with a human-readable message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Upstream builds an UpstreamError carrying the failing provider's
// identity and details, per §6's response body contract.
func Upstream(provider, details string) *Error {
	return &Error{Kind: UpstreamError, Message: "upstream provider error", Provider: provider, Details: details}
}

// VideoNotReadyErr builds the video-not-ready error with its required
// machine-readable code.
func VideoNotReadyErr() *Error {
	return &Error{Kind: VideoNotReady, Message: "one or more video assets are not ready", Code: "video_not_ready"}
}
