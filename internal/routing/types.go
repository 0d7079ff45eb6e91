// Package routing implements the routing decision engine: a pure function
// from (query, history, attachments, session token count, platform, manual
// override) to a RouteDecision, plus the manual-override normalizer.
package routing

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is immutable within a request; request-scoped.
type Message struct {
	Role      Role
	Content   string
	ImageData string // optional, base64
	MediaType string // optional, MIME type of ImageData
}

// ImageAttachment is request-scoped: {data, mediaType}.
type ImageAttachment struct {
	Data      string // base64 bytes
	MediaType string // MIME string
}

// Platform is the caller's client surface.
type Platform string

const (
	PlatformWeb    Platform = "web"
	PlatformMobile Platform = "mobile"
)

// Params is the RouterParams input to DetermineRoute.
type Params struct {
	UserQuery            string
	CurrentSessionTokens int
	Platform             Platform
	History              []Message
	Images               []ImageAttachment
	HasVideoAssets       bool
}

// Decision is the RouteDecision output: {provider, providerModelId,
// modelTier, budgetCap, rationaleTag, complexityScore}.
type Decision struct {
	Provider        string
	ProviderModelID string
	ModelTier       string
	BudgetCap       int
	RationaleTag    string
	ComplexityScore int
}
