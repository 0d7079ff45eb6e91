package providers

import (
	"context"
	"io"

	"github.com/caldera-labs/chatrouter/internal/routing"
)

// ErrorClass buckets a provider error for the escalation policy.
type ErrorClass int

const (
	ErrNone ErrorClass = iota
	ErrContextOverflow
	ErrRateLimited
	ErrTransient
	ErrFatal
)

// CallOptions carries per-call hints that aren't part of the routing
// decision itself, such as Gemini's thinking-level hint.
type CallOptions struct {
	ThinkingLevel string // "low" | "high" | "" (adapter default)
}

// CallResult is what call(decision, messages, images, ctx) returns per the
// component design: {stream, extractDeltas, effectiveModelId,
// effectiveThinkingLevel?}.
type CallResult struct {
	Stream                 io.ReadCloser
	ExtractDeltas          func(eventPayload []byte) []string
	EffectiveModelID       string
	EffectiveThinkingLevel string // "" when not applicable
}

// Adapter is the closed, three-variant provider adapter contract: the
// dynamic-dispatch surface is deliberately this one narrow interface, per
// the design notes' guidance against open extension points.
type Adapter interface {
	ID() string // one of modelregistry.Provider's string values
	Call(ctx context.Context, decision routing.Decision, messages []routing.Message, images []routing.ImageAttachment, opts CallOptions) (CallResult, error)
	ClassifyError(err error) ErrorClass
}
