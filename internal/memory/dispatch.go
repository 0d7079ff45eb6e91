package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/caldera-labs/chatrouter/internal/circuitbreaker"
	"github.com/caldera-labs/chatrouter/internal/collab"
	"github.com/caldera-labs/chatrouter/internal/temporal"
	"github.com/caldera-labs/chatrouter/internal/tokenest"
)

const maxTranscriptMessages = 24

// TemporalDispatcher is the narrow slice of *temporal.Manager the gate
// needs to start a workflow, kept as an interface so tests can stub it
// without standing up a real Temporal server.
type TemporalDispatcher interface {
	Client() client.Client
	TaskQueue() string
}

// Manager ties the summarization gate, the provider fallback chain, and
// Temporal/circuit-breaker dispatch together: try Temporal when the breaker
// allows it, record the outcome, and fall through to running the work in-process
// otherwise — except this workflow is fire-and-forget, so the in-process
// fallback runs on a detached goroutine rather than inline.
type Manager struct {
	Store      collab.MemoryStore
	Summarizer *Summarizer
	Breaker    *circuitbreaker.Breaker
	Temporal   TemporalDispatcher
	Logger     *slog.Logger
	NowFunc    func() time.Time // injectable for testing; defaults to time.Now
}

func (m *Manager) now() time.Time {
	if m.NowFunc != nil {
		return m.NowFunc()
	}
	return time.Now()
}

// MaybeSummarize evaluates §4.10's summarization gate for a conversation and,
// if it fires, dispatches the extraction asynchronously. It is meant to be
// called as "fire and forget" after a response completes; it never blocks
// the caller on the summarization itself; only the gate-evaluation
// bookkeeping (a couple of store reads) runs synchronously.
func (m *Manager) MaybeSummarize(ctx context.Context, conversationID, userID string, totalTokens int) {
	state, _, err := m.Store.GetState(ctx, conversationID)
	if err != nil {
		m.logWarn("memory: failed to load conversation memory state", "error", err)
		return
	}

	now := m.now()
	if !shouldAttempt(now, gateState{
		LastSummarizedAt:          state.LastSummarizedAt,
		LastSummarizedTotalTokens: state.LastSummarizedTotalTokens,
	}, totalTokens) {
		return
	}
	timeFired := timeGateFired(now, state.LastSummarizedAt)

	messages, err := m.Store.ListMessagesSince(ctx, conversationID, state.LastSummarizedMessageCreatedAt, maxTranscriptMessages)
	if err != nil {
		m.logWarn("memory: failed to list messages for summarization", "error", err)
		return
	}
	if len(messages) < minMessageRows {
		return
	}

	transcript := buildTranscript(messages)
	if tokenest.Tokens(transcript) < minTranscriptToks && !timeFired {
		return
	}

	sourceWindowEndAt := messages[len(messages)-1].CreatedAt
	go m.runSummarization(conversationID, userID, transcript, sourceWindowEndAt, now, totalTokens)
}

// runSummarization performs the actual extraction and persistence on a
// detached goroutine, using context.Background() since the originating
// HTTP request's context is already gone by the time this runs.
func (m *Manager) runSummarization(conversationID, userID, transcript string, sourceWindowEndAt, now time.Time, totalTokens int) {
	ctx := context.Background()

	summaryText, err := m.dispatchSummarize(ctx, conversationID, userID, transcript)
	if err != nil {
		m.logWarn("memory: summarization failed", "conversation_id", conversationID, "error", err)
		return
	}

	memRow := collab.UserMemory{
		UserID:            userID,
		ConversationID:    conversationID,
		SourceWindowEndAt: sourceWindowEndAt,
		SummaryText:       summaryText,
		Tags:              deriveTags(summaryText),
		CreatedAt:         now,
	}
	if err := m.Store.UpsertMemory(ctx, memRow); err != nil {
		m.logWarn("memory: failed to upsert memory", "conversation_id", conversationID, "error", err)
		return
	}

	stateRow := collab.ConversationMemoryState{
		ConversationID:                 conversationID,
		UserID:                         userID,
		LastSummarizedAt:               now,
		LastSummarizedMessageCreatedAt: sourceWindowEndAt,
		LastSummarizedTotalTokens:      totalTokens,
		UpdatedAt:                      now,
	}
	if err := m.Store.UpsertState(ctx, stateRow); err != nil {
		m.logWarn("memory: failed to upsert memory state", "conversation_id", conversationID, "error", err)
	}
}

// dispatchSummarize routes through Temporal when the breaker allows it,
// recording the outcome on the breaker; it runs the summarizer directly
// when Temporal is unavailable or the breaker has tripped.
func (m *Manager) dispatchSummarize(ctx context.Context, conversationID, userID, transcript string) (string, error) {
	if m.Temporal == nil || m.Breaker == nil || !m.Breaker.Allow() {
		return m.Summarizer.Summarize(ctx, transcript)
	}

	workflowID := fmt.Sprintf("summarize-%s", conversationID)
	run, err := m.Temporal.Client().ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: m.Temporal.TaskQueue(),
	}, temporal.SummarizeWorkflow, temporal.SummarizeInput{
		ConversationID: conversationID,
		UserID:         userID,
		Transcript:     transcript,
	})
	if err != nil {
		m.Breaker.RecordFailure()
		return m.Summarizer.Summarize(ctx, transcript)
	}

	var out temporal.SummarizeOutput
	if err := run.Get(ctx, &out); err != nil {
		m.Breaker.RecordFailure()
		return m.Summarizer.Summarize(ctx, transcript)
	}
	m.Breaker.RecordSuccess()
	return out.SummaryText, nil
}

func (m *Manager) logWarn(msg string, args ...any) {
	if m.Logger != nil {
		m.Logger.Warn(msg, args...)
	}
}

// buildTranscript renders history rows into the plain "role: content" form
// the summarization prompt expects.
func buildTranscript(messages []collab.HistoryMessage) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}
