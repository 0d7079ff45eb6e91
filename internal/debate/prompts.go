package debate

import "strings"

// BuildChallengerPrompt inserts the role directive and user query into a
// challenger's prompt.
func BuildChallengerPrompt(role, userQuery string) string {
	var b strings.Builder
	b.WriteString("You are acting as the ")
	b.WriteString(role)
	b.WriteString(" in a structured debate about the following request. ")
	b.WriteString("Respond concisely with your critique or contribution; do not restate the request.\n\n")
	b.WriteString("Request:\n")
	b.WriteString(userQuery)
	return b.String()
}

// BuildSynthesisPrompt composes the original query with a TEAM DEBATE
// NOTES section listing each challenger output in the plan's declared
// order, not completion order.
func BuildSynthesisPrompt(userQuery string, outputs []ChallengerOutput) string {
	var b strings.Builder
	b.WriteString(userQuery)
	b.WriteString("\n\nTEAM DEBATE NOTES:\n")
	for _, o := range outputs {
		b.WriteString("- [")
		b.WriteString(o.Role)
		b.WriteString(" / ")
		b.WriteString(o.ModelTier)
		b.WriteString("]: ")
		b.WriteString(o.Text)
		b.WriteString("\n")
	}
	return b.String()
}
