// Package sse normalizes the three upstream wire formats (Anthropic,
// OpenAI, Gemini SSE) into one canonical event stream. Grounded on
// eugener/gandalf's internal/provider/sseutil (line scanning, SSE line
// parsing, the select-on-ctx.Done enqueue pattern, gjson usage probing)
// generalized from "decode into one provider's StreamChunk" to "decode
// into any provider's raw event, delegate to extractDeltas".
package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/caldera-labs/chatrouter/internal/pricing"
)

const maxLineSize = 64 * 1024

// doneSentinel is the canonical terminator, emitted exactly once per stream
// regardless of how the upstream signaled completion.
const doneSentinel = "data: [DONE]\n\n"

// Hooks are invoked during normalization. OnDelta fires before the
// corresponding canonical event is written, so callers can accumulate the
// full assistant text. OnUsage fires once for each upstream event that
// carries a non-zero usage object. OnComplete fires exactly once, with the
// terminal error (nil on success).
type Hooks struct {
	OnDelta    func(text string)
	OnUsage    func(u pricing.Usage)
	OnComplete func(err error)
}

// Normalize reads upstream's SSE/chunked-JSON body, converts each delta
// extracted by extractDeltas into the canonical content_block_delta event,
// and writes it to w. It always terminates w with exactly one
// "data: [DONE]" event and invokes hooks.OnComplete exactly once, whether
// normalization succeeded, upstream errored, or ctx was canceled.
func Normalize(ctx context.Context, upstream io.ReadCloser, extractDeltas func([]byte) []string, w io.Writer, hooks Hooks) (err error) {
	defer func() {
		_ = upstream.Close()
		if hooks.OnComplete != nil {
			hooks.OnComplete(err)
		}
	}()

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 4096), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			_, _ = io.WriteString(w, doneSentinel)
			return ctx.Err()
		default:
		}

		data, ok := parseDataLine(scanner.Text())
		if !ok {
			continue
		}

		probeUsage(data, hooks.OnUsage)

		for _, delta := range extractDeltas([]byte(data)) {
			if delta == "" {
				continue
			}
			if hooks.OnDelta != nil {
				hooks.OnDelta(delta)
			}
			if werr := writeDeltaEvent(w, delta); werr != nil {
				return werr
			}
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		_, _ = io.WriteString(w, doneSentinel)
		return fmt.Errorf("sse: read upstream: %w", scanErr)
	}

	_, err = io.WriteString(w, doneSentinel)
	return err
}

// parseDataLine extracts the payload of a "data: ..." line. Non-data lines,
// empty payloads, and the literal [DONE] sentinel are dropped before
// reaching extractDeltas.
func parseDataLine(line string) (string, bool) {
	const prefix = "data:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	payload := strings.TrimPrefix(strings.TrimPrefix(line, prefix), " ")
	if payload == "" || payload == "[DONE]" {
		return "", false
	}
	return payload, true
}

func writeDeltaEvent(w io.Writer, text string) error {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(text)
	_, err := fmt.Fprintf(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"%s\"}}\n\n", escaped)
	return err
}

// probeUsage looks for a "usage" object on the raw upstream payload — the
// shape OpenAI and Anthropic both attach to their final streamed event —
// and reports it once if present and non-zero.
func probeUsage(payload string, onUsage func(pricing.Usage)) {
	if onUsage == nil {
		return
	}
	u := gjson.Get(payload, "usage")
	if !u.Exists() {
		return
	}
	prompt := firstNonZero(u.Get("prompt_tokens").Int(), u.Get("input_tokens").Int())
	completion := firstNonZero(u.Get("completion_tokens").Int(), u.Get("output_tokens").Int())
	reasoning := u.Get("completion_tokens_details.reasoning_tokens").Int()
	if prompt == 0 && completion == 0 {
		return
	}
	onUsage(pricing.Usage{
		PromptTokens:     int(prompt),
		CompletionTokens: int(completion),
		ReasoningTokens:  int(reasoning),
	})
}

func firstNonZero(vs ...int64) int64 {
	for _, v := range vs {
		if v != 0 {
			return v
		}
	}
	return 0
}
