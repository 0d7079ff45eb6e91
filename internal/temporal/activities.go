// Package temporal wires Temporal workflow/activity execution (a thin
// workflow function, ActivityOptions with a timeout, a single typed
// activity call) to the memory subsystem's async summarization dispatch.
package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/activity"
)

// Summarizer extracts durable user memory from a transcript. The memory
// subsystem supplies the concrete implementation (provider fallback chain
// P-O -> P-A -> P-G, 15s timeout) so this package stays a thin Temporal
// wrapper over it rather than reimplementing model selection inline.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Activities holds the dependencies Temporal activities need.
type Activities struct {
	Summarizer Summarizer
	Logger     *slog.Logger
}

// ExtractMemory runs the summarization prompt against the first available
// provider. Failures are returned to the workflow, which returns them to
// the memory manager's dispatcher; that dispatcher then runs the summarizer
// directly, and a failure there is logged and swallowed per §7's
// propagation policy for memory-write errors.
func (a *Activities) ExtractMemory(ctx context.Context, input ExtractMemoryInput) (ExtractMemoryOutput, error) {
	summary, err := a.Summarizer.Summarize(ctx, input.Transcript)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Warn("memory summarization activity failed", "error", err)
		}
		return ExtractMemoryOutput{}, fmt.Errorf("extract memory: %w", err)
	}
	if info := activity.GetInfo(ctx); info.ActivityID != "" && a.Logger != nil {
		a.Logger.Debug("memory summarization activity completed", "activity_id", info.ActivityID)
	}
	return ExtractMemoryOutput{SummaryText: summary}, nil
}
