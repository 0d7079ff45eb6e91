package temporal

// SummarizeInput is SummarizeWorkflow's input: enough of the conversation
// window to extract durable user memory from, plus the identity needed to
// upsert the result.
type SummarizeInput struct {
	ConversationID        string `json:"conversation_id"`
	UserID                string `json:"user_id"`
	Transcript            string `json:"transcript"`
	SourceWindowEndAtUnix int64  `json:"source_window_end_at_unix"`
}

// SummarizeOutput is SummarizeWorkflow's result: the extracted summary,
// ready for the caller to upsert. SummarizeWorkflow leaves Tags empty; the
// caller derives tags from SummaryText.
type SummarizeOutput struct {
	SummaryText string   `json:"summary_text"`
	Tags        []string `json:"tags"`
}

// ExtractMemoryInput is the input to the ExtractMemory activity.
type ExtractMemoryInput struct {
	Transcript string `json:"transcript"`
}

// ExtractMemoryOutput is the output of the ExtractMemory activity.
type ExtractMemoryOutput struct {
	SummaryText string `json:"summary_text"`
}
