package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	activityTimeout = 20 * time.Second
	workflowTimeout = 30 * time.Second
)

// SummarizeWorkflow is the one Temporal-dispatched workflow: a single
// activity call with a tight timeout and no retries (the activity's
// summarizer already walks the whole provider fallback chain; a
// workflow-level retry would just repeat a failure that already exhausted
// that chain).
func SummarizeWorkflow(ctx workflow.Context, input SummarizeInput) (SummarizeOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out ExtractMemoryOutput
	err := workflow.ExecuteActivity(ctx, (*Activities).ExtractMemory, ExtractMemoryInput{
		Transcript: input.Transcript,
	}).Get(ctx, &out)
	if err != nil {
		return SummarizeOutput{}, err
	}

	// Tags are derived by the caller from SummaryText (it already owns the
	// keyword extractor used for retrieval scoring — no reason to
	// duplicate that logic inside the workflow).
	return SummarizeOutput{SummaryText: out.SummaryText}, nil
}
