package openai

import (
	"encoding/json"

	"github.com/mhingston/switchboard/internal/router"
	"github.com/tidwall/gjson"
)

// parseCompletion extracts the normalized response from an OpenAI chat
// completions JSON body, using gjson so adapters don't each hand-roll a
// full struct for a shape that varies subtly between providers.
func parseCompletion(body []byte) (router.NormalizedResponse, error) {
	root := gjson.ParseBytes(body)
	choice := root.Get("choices.0")

	resp := router.NormalizedResponse{
		Text: choice.Get("message.content").String(),
	}

	if toolCalls := choice.Get("message.tool_calls"); toolCalls.IsArray() && len(toolCalls.Array()) > 0 {
		// OpenAI's tool_calls are already {id, type, function:{name,
		// arguments}} shaped, so the raw JSON carries through unchanged.
		resp.ToolCalls = json.RawMessage(toolCalls.Raw)
	}

	if usage := root.Get("usage"); usage.Exists() {
		resp.Usage = &router.Usage{
			InputTokens:  int(usage.Get("prompt_tokens").Int()),
			OutputTokens: int(usage.Get("completion_tokens").Int()),
		}
	}
	return resp, nil
}

// extractDelta pulls the incremental text content out of one SSE data chunk
// of a streaming chat completion, returning ok=false for chunks that carry
// no text (role-only deltas, keep-alives).
func extractDelta(data string) (string, bool) {
	delta := gjson.Get(data, "choices.0.delta.content")
	if !delta.Exists() {
		return "", false
	}
	return delta.String(), true
}
