package router

import (
	"context"
	"encoding/json"

	"github.com/mhingston/switchboard/internal/providers"
)

// Usage reports provider-side token accounting, when the back-end returns
// one. A nil Usage means tokens must be estimated from text length.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// NormalizedResponse is what every adapter's Send returns: a provider's
// uniform answer shape regardless of wire format.
type NormalizedResponse struct {
	Text string
	// ToolCalls carries the raw OpenAI-shaped tool_calls JSON array (each
	// element {id, type, function:{name, arguments}}), nil when the
	// response made no tool calls. Adapters translate their own wire shape
	// (OpenAI passes its tool_calls through verbatim, Anthropic's
	// content[].tool_use blocks are converted) so callers have one format
	// to echo back to the client.
	ToolCalls json.RawMessage
	Usage     *Usage
}

// HasToolCalls reports whether the response carries any tool calls.
func (r NormalizedResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// StreamDelta is one chunk of a streaming response.
type StreamDelta struct {
	Text string
	// Done is true on the terminal delta; Final carries the accumulated
	// normalized response for post-hoc evaluation/accounting.
	Done  bool
	Final *NormalizedResponse
}

// Sender is the uniform non-streaming capability every provider adapter
// must implement (C4).
type Sender interface {
	ID() string
	Send(ctx context.Context, backendID string, req Request) (NormalizedResponse, error)
	ClassifyError(err error) *providers.ClassifiedError
}

// StreamSender is the optional streaming capability. An adapter that only
// implements Sender can still be used in buffered-then-streamed mode (C8
// chunks the full text itself); StreamSender is required for passthrough
// streaming (allowDegrade). The returned channel yields text deltas and is
// closed after a final delta carrying the accumulated NormalizedResponse,
// the lazy-sequence-with-terminal-callback shape the design favors over a
// raw provider byte stream.
type StreamSender interface {
	Sender
	Stream(ctx context.Context, backendID string, req Request) (<-chan StreamDelta, error)
}

