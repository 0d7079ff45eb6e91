package handler

import (
	"github.com/caldera-labs/chatrouter/internal/routing"
)

// chatRequest is the wire shape of POST /v1/chat/stream's body, matching
// the request field table in the component design exactly.
type chatRequest struct {
	Query                    string          `json:"query"`
	ConversationID           string          `json:"conversationId"`
	Platform                 string          `json:"platform"`
	History                  []chatMessage   `json:"history"`
	Images                   []chatImage     `json:"images"`
	VideoAssetIDs            []string        `json:"videoAssetIds"`
	ModelOverride            string          `json:"modelOverride"`
	GeminiFlashThinkingLevel string          `json:"geminiFlashThinkingLevel"`
	Mode                     string          `json:"mode"`
	DebateProfile            string          `json:"debateProfile"`
}

type chatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ImageData string `json:"imageData"`
	MediaType string `json:"mediaType"`
}

type chatImage struct {
	Data      string `json:"data"`
	MediaType string `json:"mediaType"`
}

func (r chatRequest) toRoutingHistory() []routing.Message {
	out := make([]routing.Message, 0, len(r.History))
	for _, m := range r.History {
		out = append(out, routing.Message{
			Role:      routing.Role(m.Role),
			Content:   m.Content,
			ImageData: m.ImageData,
			MediaType: m.MediaType,
		})
	}
	return out
}

func (r chatRequest) toRoutingImages() []routing.ImageAttachment {
	out := make([]routing.ImageAttachment, 0, len(r.Images))
	for _, im := range r.Images {
		out = append(out, routing.ImageAttachment{Data: im.Data, MediaType: im.MediaType})
	}
	return out
}

// maxQueryLen is the upper bound on query length from the request field
// table; requests beyond it are rejected as bad-request rather than
// forwarded to a provider.
const maxQueryLen = 50000

// validate checks the request fields that must be present regardless of
// routing outcome. The debate profile is not checked here, and an
// unrecognized profile is not rejected anywhere: the handler treats it as
// "no debate" and serves the request normally.
func (r chatRequest) validate() string {
	if r.Query == "" && len(r.Images) == 0 && len(r.VideoAssetIDs) == 0 {
		return "query is required"
	}
	if len(r.Query) > maxQueryLen {
		return "query too long"
	}
	if r.ConversationID == "" {
		return "conversationId is required"
	}
	if r.Platform != "" && r.Platform != string(routing.PlatformWeb) && r.Platform != string(routing.PlatformMobile) {
		return "platform must be \"web\" or \"mobile\""
	}
	return ""
}

func (r chatRequest) geminiThinkingLevel() string {
	if r.GeminiFlashThinkingLevel == "low" {
		return "low"
	}
	return "high"
}
