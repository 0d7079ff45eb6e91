package handler

import (
	"strings"
	"testing"
)

func TestValidate_EmptyQueryWithNoAttachmentsIsRejected(t *testing.T) {
	r := chatRequest{ConversationID: "c1"}
	if msg := r.validate(); msg == "" {
		t.Fatal("expected empty query with zero attachments to be rejected")
	}
}

func TestValidate_EmptyQueryWithImagesIsAllowed(t *testing.T) {
	r := chatRequest{ConversationID: "c1", Images: []chatImage{{Data: "abc", MediaType: "image/png"}}}
	if msg := r.validate(); msg != "" {
		t.Fatalf("expected image-only request to pass validation, got %q", msg)
	}
}

func TestValidate_EmptyQueryWithVideoAssetsIsAllowed(t *testing.T) {
	r := chatRequest{ConversationID: "c1", VideoAssetIDs: []string{"v1"}}
	if msg := r.validate(); msg != "" {
		t.Fatalf("expected video-only request to pass validation, got %q", msg)
	}
}

func TestValidate_QueryOverMaxLenIsRejected(t *testing.T) {
	r := chatRequest{ConversationID: "c1", Query: strings.Repeat("a", maxQueryLen+1)}
	if msg := r.validate(); msg == "" {
		t.Fatal("expected over-long query to be rejected")
	}
}

func TestValidate_QueryAtMaxLenIsAccepted(t *testing.T) {
	r := chatRequest{ConversationID: "c1", Query: strings.Repeat("a", maxQueryLen)}
	if msg := r.validate(); msg != "" {
		t.Fatalf("expected query at max length to pass validation, got %q", msg)
	}
}

func TestValidate_MissingConversationIDIsRejected(t *testing.T) {
	r := chatRequest{Query: "hi"}
	if msg := r.validate(); msg == "" {
		t.Fatal("expected missing conversationId to be rejected")
	}
}
