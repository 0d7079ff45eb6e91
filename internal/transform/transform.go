// Package transform implements the three pure Message Transforms: generic
// Message[] + current-request ImageAttachment[] to each provider's wire
// shape. Images are only attached to the last user message; historical
// image references are preserved inline on their originating message. An
// empty text body on an image-carrying message is replaced with a
// deterministic placeholder.
package transform

import (
	"fmt"
	"strings"

	"github.com/caldera-labs/chatrouter/internal/routing"
)

const imagePlaceholder = "Please analyze this image."

func lastUserIndex(messages []routing.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == routing.RoleUser {
			return i
		}
	}
	return -1
}

func textOrPlaceholder(content string, hasImage bool) string {
	if strings.TrimSpace(content) == "" && hasImage {
		return imagePlaceholder
	}
	return content
}

// --- P-A (Anthropic-shaped) -------------------------------------------------

type AnthropicContentBlock struct {
	Type   string                 `json:"type"`
	Text   string                 `json:"text,omitempty"`
	Source *AnthropicImageSource  `json:"source,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type AnthropicMessage struct {
	Role    string                  `json:"role"`
	Content []AnthropicContentBlock `json:"content"`
}

// ToAnthropic converts messages + the request's current images into the
// Anthropic messages-API wire shape.
func ToAnthropic(messages []routing.Message, images []routing.ImageAttachment) []AnthropicMessage {
	lastUser := lastUserIndex(messages)
	out := make([]AnthropicMessage, 0, len(messages))
	for i, m := range messages {
		var blocks []AnthropicContentBlock
		hasImage := false

		if m.ImageData != "" {
			blocks = append(blocks, AnthropicContentBlock{
				Type:   "image",
				Source: &AnthropicImageSource{Type: "base64", MediaType: m.MediaType, Data: m.ImageData},
			})
			hasImage = true
		}
		if i == lastUser {
			for _, img := range images {
				blocks = append(blocks, AnthropicContentBlock{
					Type:   "image",
					Source: &AnthropicImageSource{Type: "base64", MediaType: img.MediaType, Data: img.Data},
				})
				hasImage = true
			}
		}

		blocks = append(blocks, AnthropicContentBlock{Type: "text", Text: textOrPlaceholder(m.Content, hasImage)})
		out = append(out, AnthropicMessage{Role: string(m.Role), Content: blocks})
	}
	return out
}

// --- P-O (OpenAI-shaped) -----------------------------------------------------

type OpenAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
}

type OpenAIImageURL struct {
	URL string `json:"url"`
}

// OpenAIMessage.Content is either a plain string (no images) or
// []OpenAIContentPart (marshaled by the caller, since encoding/json can't
// express a sum type directly).
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func dataURL(mediaType, data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mediaType, data)
}

// ToOpenAI converts messages + the request's current images into the
// OpenAI chat-completions wire shape.
func ToOpenAI(messages []routing.Message, images []routing.ImageAttachment) []OpenAIMessage {
	lastUser := lastUserIndex(messages)
	out := make([]OpenAIMessage, 0, len(messages))
	for i, m := range messages {
		var parts []OpenAIContentPart
		hasImage := false

		if m.ImageData != "" {
			parts = append(parts, OpenAIContentPart{Type: "image_url", ImageURL: &OpenAIImageURL{URL: dataURL(m.MediaType, m.ImageData)}})
			hasImage = true
		}
		if i == lastUser {
			for _, img := range images {
				parts = append(parts, OpenAIContentPart{Type: "image_url", ImageURL: &OpenAIImageURL{URL: dataURL(img.MediaType, img.Data)}})
				hasImage = true
			}
		}

		text := textOrPlaceholder(m.Content, hasImage)
		if !hasImage {
			out = append(out, OpenAIMessage{Role: string(m.Role), Content: text})
			continue
		}
		parts = append(parts, OpenAIContentPart{Type: "text", Text: text})
		out = append(out, OpenAIMessage{Role: string(m.Role), Content: parts})
	}
	return out
}

// --- P-G (Gemini-shaped) ------------------------------------------------------

type GeminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inlineData,omitempty"`
}

type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

func geminiRole(r routing.Role) string {
	if r == routing.RoleAssistant {
		return "model"
	}
	return "user"
}

// ToGemini converts messages + the request's current images into the
// Gemini generateContent wire shape.
func ToGemini(messages []routing.Message, images []routing.ImageAttachment) []GeminiContent {
	lastUser := lastUserIndex(messages)
	out := make([]GeminiContent, 0, len(messages))
	for i, m := range messages {
		var parts []GeminiPart
		hasImage := false

		if m.ImageData != "" {
			parts = append(parts, GeminiPart{InlineData: &GeminiInlineData{MimeType: m.MediaType, Data: m.ImageData}})
			hasImage = true
		}
		if i == lastUser {
			for _, img := range images {
				parts = append(parts, GeminiPart{InlineData: &GeminiInlineData{MimeType: img.MediaType, Data: img.Data}})
				hasImage = true
			}
		}

		parts = append(parts, GeminiPart{Text: textOrPlaceholder(m.Content, hasImage)})
		out = append(out, GeminiContent{Role: geminiRole(m.Role), Parts: parts})
	}
	return out
}
