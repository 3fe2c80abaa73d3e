// Package anthropic implements the router.Sender/StreamSender contract
// against the Anthropic Messages API.
package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mhingston/switchboard/internal/providers"
	"github.com/mhingston/switchboard/internal/router"
	"github.com/tidwall/gjson"
)

// Adapter implements router.Sender and router.StreamSender for Anthropic.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new Anthropic adapter. The HTTP client timeout is 30s unless
// WithTimeout overrides it.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second, Transport: providers.NewTransport()},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	}
}

func (a *Adapter) payload(backendID string, req router.Request, stream bool) map[string]any {
	var system string
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == router.RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	p := map[string]any{
		"model":      backendID,
		"messages":   messages,
		"max_tokens": maxTokens,
		"stream":     stream,
	}
	if system != "" {
		p["system"] = system
	}
	return p
}

func (a *Adapter) Send(ctx context.Context, backendID string, req router.Request) (router.NormalizedResponse, error) {
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", a.payload(backendID, req, false), a.headers())
	if err != nil {
		return router.NormalizedResponse{}, err
	}

	root := gjson.ParseBytes(body)
	var text strings.Builder
	var toolCalls []map[string]any
	for _, block := range root.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
		case "tool_use":
			// Anthropic's tool_use block (id, name, input-as-object) is
			// reshaped into OpenAI's tool_calls entry (id, type, function:
			// {name, arguments-as-JSON-string}) so callers have one format.
			toolCalls = append(toolCalls, map[string]any{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]any{
					"name":      block.Get("name").String(),
					"arguments": block.Get("input").Raw,
				},
			})
		}
	}

	resp := router.NormalizedResponse{Text: text.String()}
	if len(toolCalls) > 0 {
		raw, err := json.Marshal(toolCalls)
		if err != nil {
			return router.NormalizedResponse{}, err
		}
		resp.ToolCalls = raw
	}
	if usage := root.Get("usage"); usage.Exists() {
		resp.Usage = &router.Usage{
			InputTokens:  int(usage.Get("input_tokens").Int()),
			OutputTokens: int(usage.Get("output_tokens").Int()),
		}
	}
	return resp, nil
}

func (a *Adapter) Stream(ctx context.Context, backendID string, req router.Request) (<-chan router.StreamDelta, error) {
	rc, err := providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/messages", a.payload(backendID, req, true), a.headers())
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
			event := gjson.Get(data, "type").String()
			if event != "content_block_delta" {
				continue
			}
			delta := gjson.Get(data, "delta.text").String()
			if delta == "" {
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

// ClassifyError maps Anthropic's status codes onto the four-kind taxonomy.
// 529 (overloaded) is treated as a rate limit, matching Anthropic's own
// documented retry guidance.
func (a *Adapter) ClassifyError(err error) *providers.ClassifiedError {
	se, ok := providers.AsStatusError(err)
	if !ok {
		return &providers.ClassifiedError{Kind: providers.Permanent, Err: err}
	}

	switch {
	case se.StatusCode == 429 || se.StatusCode == 529:
		return &providers.ClassifiedError{
			Kind:         providers.RateLimit,
			RetryAfterMs: int64(se.RetryAfterSecs) * 1000,
			Err:          se,
		}
	case se.StatusCode >= 500:
		return &providers.ClassifiedError{Kind: providers.Transient, Err: se}
	case se.HasSentinel("prompt is too long") || se.HasSentinel("prompt_too_long"):
		return &providers.ClassifiedError{Kind: providers.Permanent, Sentinel: providers.ContextLengthExceeded, Err: se}
	default:
		return &providers.ClassifiedError{Kind: providers.Permanent, Err: se}
	}
}
