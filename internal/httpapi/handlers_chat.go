package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mhingston/switchboard/internal/router"
)

const (
	headerTaskType         = "x-router-task-type"
	headerQualityThreshold = "x-router-quality-threshold"
	headerMaxWaitMs        = "x-router-max-wait-ms"
	headerAllowDegrade     = "x-router-allow-degrade"
	headerRequestID        = "x-router-request-id"
	headerResume           = "x-router-resume"
	headerDebug            = "x-router-debug"
	headerMetadata         = "x-router-metadata"
)

// contentPart is one element of an OpenAI structured content array.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// rawMessage accepts either a plain string or a structured content-part
// array for Content, per the dynamic-message-shape design note: collapse
// to flat text at the boundary by concatenating text parts and discarding
// the rest (images, audio, etc).
type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func normalizeContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "text" || p.Type == "" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

func normalizeMessages(raw []rawMessage) []router.Message {
	out := make([]router.Message, len(raw))
	for i, m := range raw {
		out[i] = router.Message{Role: router.Role(m.Role), Content: normalizeContent(m.Content)}
	}
	return out
}

// chatCompletionsBody is the OpenAI Chat Completions subset this gateway
// accepts: messages plus the generation knobs forwarded to whichever
// provider is selected.
type chatCompletionsBody struct {
	Messages    []rawMessage    `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

// routingOptions are derived from the x-router-* headers (§6).
type routingOptions struct {
	taskType         router.TaskType
	qualityThreshold float64
	maxWaitMs        int64
	allowDegrade     bool
	requestID        string
	resume           bool
	debug            bool
}

func parseRoutingOptions(r *http.Request) routingOptions {
	opts := routingOptions{
		taskType:  router.TaskType(strings.ToLower(r.Header.Get(headerTaskType))),
		requestID: r.Header.Get(headerRequestID),
	}
	if opts.requestID == "" {
		opts.requestID = newRequestID()
	}
	if v := r.Header.Get(headerQualityThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			if f > 1 {
				f = f / 5
			}
			opts.qualityThreshold = f
		}
	}
	if v := r.Header.Get(headerMaxWaitMs); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			opts.maxWaitMs = n
		}
	}
	opts.allowDegrade = parseBoolHeader(r, headerAllowDegrade)
	opts.resume = parseBoolHeader(r, headerResume)
	opts.debug = parseBoolHeader(r, headerDebug)
	return opts
}

func parseBoolHeader(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.Header.Get(name))
	return b
}

// chatCompletionsHandler implements POST /v1/chat/completions (§6).
func chatCompletionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body chatCompletionsBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
			return
		}
		if len(body.Messages) == 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "messages must not be empty")
			return
		}

		opts := parseRoutingOptions(r)
		if opts.resume && !d.AllowInsecureResume {
			if !constantTimeTokenMatch(d.AdminToken, r.Header.Get(adminTokenHeader)) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "resume requires a valid admin token")
				return
			}
		}

		req := router.Request{
			ID:               opts.requestID,
			Messages:         normalizeMessages(body.Messages),
			TaskType:         opts.taskType,
			QualityThreshold: opts.qualityThreshold,
			MaxWaitMs:        opts.maxWaitMs,
			AllowDegrade:     opts.allowDegrade,
			Resume:           opts.resume,
			Stream:           body.Stream,
			ToolSchema:       body.Tools,
			ToolChoice:       body.ToolChoice,
		}
		if body.MaxTokens != nil {
			req.MaxOutputTokens = *body.MaxTokens
		}
		req.Parameters = map[string]any{}
		if body.Temperature != nil {
			req.Parameters["temperature"] = *body.Temperature
		}
		if body.TopP != nil {
			req.Parameters["top_p"] = *body.TopP
		}

		if body.Stream && opts.allowDegrade {
			streamPassthrough(w, r, d, req, opts)
			return
		}

		dec, err := d.Engine.RouteAndSend(r.Context(), req)
		writeChatResult(w, dec, err, opts, body.Stream)
	}
}

// writeChatResult renders a Decision (or a NoSuitableModel timeout) as
// either a single JSON chat-completion object, or — when the client asked
// to stream and the accepted response carries no tool calls — a manually
// chunked text/event-stream. A response carrying tool calls always forces
// the non-stream JSON shape (scenario 6), since that can only be known
// after generation completes.
func writeChatResult(w http.ResponseWriter, dec router.Decision, err error, opts routingOptions, wantStream bool) {
	if err != nil {
		var nsm *router.NoSuitableModel
		if errors.As(err, &nsm) {
			w.Header().Set("Retry-After", strconv.FormatInt(nsm.RetryAfterMs/1000, 10))
			writeNoSuitableModel(w, nsm.RetryAfterMs)
			return
		}
		writeError(w, http.StatusBadGateway, "routing_failed", err.Error())
		return
	}

	if opts.debug {
		w.Header().Set(headerMetadata, debugMetadataHeader(map[string]any{
			"model_id":    dec.ModelID,
			"provider_id": dec.ProviderID,
			"score":       dec.Score,
			"attempts":    dec.Attempts,
		}))
	}

	if wantStream && !dec.HasToolCalls() {
		writeChunkedStream(w, dec)
		return
	}

	resp := buildChatCompletionResponse(opts.requestID, dec)
	if opts.debug {
		resp["router"] = dec.Attempts
	}
	writeJSON(w, resp)
}

func writeNoSuitableModel(w http.ResponseWriter, retryAfterMs int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":           "no_suitable_model_available",
			"retry_after_ms": retryAfterMs,
		},
	})
}

func buildChatCompletionResponse(requestID string, dec router.Decision) map[string]any {
	message := map[string]any{"role": "assistant", "content": dec.Text}
	if dec.HasToolCalls() {
		message["tool_calls"] = dec.ToolCalls
	}
	return map[string]any{
		"id":      "chatcmpl-" + requestID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   dec.ModelID,
		"choices": []map[string]any{
			{"index": 0, "message": message, "finish_reason": "stop"},
		},
	}
}

// writeChunkedStream re-chunks an already-accepted, fully buffered response
// into SSE frames. This is the default (quality-gated) streaming mode: the
// candidate already passed the quality gate before any byte reached the
// client, unlike passthrough streaming which forwards deltas live.
func writeChunkedStream(w http.ResponseWriter, dec router.Decision) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	const chunkSize = 32
	text := dec.Text
	for len(text) > 0 {
		n := chunkSize
		if n > len(text) {
			n = len(text)
		}
		chunk, rest := text[:n], text[n:]
		text = rest
		writeSSEChunk(w, dec.ModelID, chunk, false)
		if flusher != nil {
			flusher.Flush()
		}
	}
	writeSSEChunk(w, dec.ModelID, "", true)
	if flusher != nil {
		flusher.Flush()
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func writeSSEChunk(w http.ResponseWriter, modelID, text string, done bool) {
	finish := any(nil)
	if done {
		finish = "stop"
	}
	chunk := map[string]any{
		"object": "chat.completion.chunk",
		"model":  modelID,
		"choices": []map[string]any{
			{"index": 0, "delta": map[string]any{"content": text}, "finish_reason": finish},
		},
	}
	b, _ := json.Marshal(chunk)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
}

// streamPassthrough implements the allowDegrade passthrough streaming mode:
// it forwards deltas to the client as they arrive from the provider, then
// runs the engine's finalize callback for post-hoc accounting. A response
// whose very first delta already carries the final tool-call flag (no text
// emitted yet) is redirected to the non-stream JSON shape instead, since no
// bytes have reached the client yet and suppression is still possible.
func streamPassthrough(w http.ResponseWriter, r *http.Request, d Dependencies, req router.Request, opts routingOptions) {
	dec, deltas, finalize, err := d.Engine.RouteAndStream(r.Context(), req)
	if err != nil {
		var nsm *router.NoSuitableModel
		if errors.As(err, &nsm) {
			writeNoSuitableModel(w, nsm.RetryAfterMs)
			return
		}
		writeError(w, http.StatusBadGateway, "routing_failed", err.Error())
		return
	}

	first, ok := <-deltas
	if !ok {
		finalize(nil)
		writeNoSuitableModel(w, 10_000)
		return
	}
	if first.Done && first.Final != nil && first.Final.HasToolCalls() && first.Final.Text == "" {
		finalize(first.Final)
		resp := buildChatCompletionResponse(opts.requestID, router.Decision{
			ModelID: dec.ModelID, ProviderID: dec.ProviderID, Text: first.Final.Text, ToolCalls: first.Final.ToolCalls,
		})
		writeJSON(w, resp)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	var final *router.NormalizedResponse
	forward := func(delta router.StreamDelta) {
		if delta.Done {
			final = delta.Final
		}
		if delta.Text == "" && !delta.Done {
			return
		}
		writeSSEChunk(w, dec.ModelID, delta.Text, delta.Done)
		if flusher != nil {
			flusher.Flush()
		}
	}
	forward(first)
	for delta := range deltas {
		forward(delta)
	}
	finalize(final)
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
