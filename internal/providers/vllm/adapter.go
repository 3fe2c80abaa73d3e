// Package vllm implements the router.Sender/StreamSender contract against
// one or more self-hosted vLLM instances exposing an OpenAI-compatible
// chat completions endpoint, round-robin balanced across endpoints.
package vllm

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mhingston/switchboard/internal/providers"
	"github.com/mhingston/switchboard/internal/router"
	"github.com/tidwall/gjson"
)

// Adapter implements router.Sender/StreamSender for vLLM instances,
// round-robin balanced across one or more endpoints.
type Adapter struct {
	id        string
	endpoints []string
	counter   atomic.Uint64
	client    *http.Client
}

// New creates a vLLM adapter with one or more endpoints. The HTTP client
// timeout is 30s unless WithTimeout overrides it.
func New(id string, endpoint string, opts ...Option) *Adapter {
	a := &Adapter{
		id:        id,
		endpoints: []string{endpoint},
		client:    &http.Client{Timeout: 30 * time.Second, Transport: providers.NewTransport()},
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

// WithEndpoints adds additional endpoints for round-robin balancing.
func WithEndpoints(endpoints ...string) Option {
	return func(a *Adapter) { a.endpoints = append(a.endpoints, endpoints...) }
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) nextEndpoint() string {
	idx := a.counter.Add(1) - 1
	return a.endpoints[idx%uint64(len(a.endpoints))]
}

func (a *Adapter) payload(backendID string, req router.Request, stream bool) map[string]any {
	messages := make([]map[string]string, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = map[string]string{"role": string(m.Role), "content": m.Content}
	}
	p := map[string]any{"model": backendID, "messages": messages, "stream": stream}
	if req.MaxOutputTokens > 0 {
		p["max_tokens"] = req.MaxOutputTokens
	}
	return p
}

func (a *Adapter) Send(ctx context.Context, backendID string, req router.Request) (router.NormalizedResponse, error) {
	url := a.nextEndpoint() + "/v1/chat/completions"
	body, err := providers.DoRequest(ctx, a.client, url, a.payload(backendID, req, false), nil)
	if err != nil {
		return router.NormalizedResponse{}, err
	}

	root := gjson.ParseBytes(body)
	choice := root.Get("choices.0")
	resp := router.NormalizedResponse{Text: choice.Get("message.content").String()}
	if usage := root.Get("usage"); usage.Exists() {
		resp.Usage = &router.Usage{
			InputTokens:  int(usage.Get("prompt_tokens").Int()),
			OutputTokens: int(usage.Get("completion_tokens").Int()),
		}
	}
	return resp, nil
}

func (a *Adapter) Stream(ctx context.Context, backendID string, req router.Request) (<-chan router.StreamDelta, error) {
	url := a.nextEndpoint() + "/v1/chat/completions"
	rc, err := providers.DoStreamRequest(ctx, a.client, url, a.payload(backendID, req, true), nil)
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
			delta := gjson.Get(data, "choices.0.delta.content")
			if !delta.Exists() || delta.String() == "" {
				continue
			}
			text.WriteString(delta.String())
			select {
			case out <- router.StreamDelta{Text: delta.String()}:
			case <-ctx.Done():
				return
			}
		}
		out <- router.StreamDelta{Done: true, Final: &router.NormalizedResponse{Text: text.String()}}
	}()
	return out, nil
}

// ClassifyError maps vLLM's status codes onto the four-kind taxonomy. A
// locally hosted engine has no concept of billing quota, so
// QUOTA_EXCEEDED never applies here.
func (a *Adapter) ClassifyError(err error) *providers.ClassifiedError {
	se, ok := providers.AsStatusError(err)
	if !ok {
		return &providers.ClassifiedError{Kind: providers.Permanent, Err: err}
	}

	switch {
	case se.StatusCode == 429:
		return &providers.ClassifiedError{
			Kind:         providers.RateLimit,
			RetryAfterMs: int64(se.RetryAfterSecs) * 1000,
			Err:          se,
		}
	case se.StatusCode >= 500:
		return &providers.ClassifiedError{Kind: providers.Transient, Err: se}
	case se.HasSentinel(providers.ContextLengthExceeded):
		return &providers.ClassifiedError{Kind: providers.Permanent, Sentinel: providers.ContextLengthExceeded, Err: se}
	default:
		return &providers.ClassifiedError{Kind: providers.Permanent, Err: se}
	}
}
