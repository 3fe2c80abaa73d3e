// Package openai implements the router.Sender/StreamSender contract against
// OpenAI-compatible chat-completions endpoints.
package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mhingston/switchboard/internal/providers"
	"github.com/mhingston/switchboard/internal/router"
)

// Adapter implements router.Sender and router.StreamSender for any
// OpenAI-compatible chat completions API (OpenAI itself, and any
// self-hosted gateway that mirrors the wire format).
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates an OpenAI-compatible adapter. baseURL must not have a
// trailing slash.
func New(id, apiKey, baseURL string) *Adapter {
	return &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Transport: providers.NewTransport()},
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}

func (a *Adapter) payload(backendID string, req router.Request, stream bool) map[string]any {
	messages := make([]map[string]string, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = map[string]string{"role": string(m.Role), "content": m.Content}
	}
	p := map[string]any{
		"model":    backendID,
		"messages": messages,
		"stream":   stream,
	}
	if req.MaxOutputTokens > 0 {
		p["max_tokens"] = req.MaxOutputTokens
	}
	if len(req.ToolSchema) > 0 {
		p["tools"] = json.RawMessage(req.ToolSchema)
	}
	if len(req.ToolChoice) > 0 {
		p["tool_choice"] = json.RawMessage(req.ToolChoice)
	}
	for k, v := range req.Parameters {
		p[k] = v
	}
	return p
}

// Send issues a non-streaming chat completion request.
func (a *Adapter) Send(ctx context.Context, backendID string, req router.Request) (router.NormalizedResponse, error) {
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", a.payload(backendID, req, false), a.headers())
	if err != nil {
		return router.NormalizedResponse{}, err
	}
	return parseCompletion(body)
}

// Stream issues a streaming chat completion request and normalizes the
// server-sent-event chunks into text deltas.
func (a *Adapter) Stream(ctx context.Context, backendID string, req router.Request) (<-chan router.StreamDelta, error) {
	rc, err := providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", a.payload(backendID, req, true), a.headers())
	if err != nil {
		return nil, err
	}

	out := make(chan router.StreamDelta)
	go func() {
		defer close(out)
		defer rc.Close()

		var text strings.Builder
		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}
			delta, ok := extractDelta(data)
			if !ok || delta == "" {
				continue
			}
			text.WriteString(delta)
			select {
			case out <- router.StreamDelta{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
		out <- router.StreamDelta{Done: true, Final: &router.NormalizedResponse{Text: text.String()}}
	}()
	return out, nil
}
