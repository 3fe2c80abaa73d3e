package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mhingston/switchboard/internal/providers"
	"github.com/mhingston/switchboard/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hi there"}],"usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer ts.Close()

	a := New("anthropic", "test-key", ts.URL)
	resp, err := a.Send(context.Background(), "claude-3", router.Request{
		Messages: []router.Message{
			{Role: router.RoleSystem, Content: "be terse"},
			{Role: router.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 3, resp.Usage.InputTokens)
}

func TestSendToolUseCarriesThrough(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[
			{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Boston"}}
		]}`))
	}))
	defer ts.Close()

	a := New("anthropic", "test-key", ts.URL)
	resp, err := a.Send(context.Background(), "claude-3", router.Request{
		Messages: []router.Message{{Role: router.RoleUser, Content: "what's the weather in Boston?"}},
	})
	require.NoError(t, err)
	require.True(t, resp.HasToolCalls())

	var toolCalls []map[string]any
	require.NoError(t, json.Unmarshal(resp.ToolCalls, &toolCalls))
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "toolu_1", toolCalls[0]["id"])
	fn := toolCalls[0]["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])
	assert.Equal(t, `{"city":"Boston"}`, fn["arguments"])
}

func TestSendOverloadedIsRateLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer ts.Close()

	a := New("anthropic", "test-key", ts.URL)
	_, err := a.Send(context.Background(), "claude-3", router.Request{
		Messages: []router.Message{{Role: router.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, providers.RateLimit, a.ClassifyError(err).Kind)
}

func TestSendPromptTooLong(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"prompt is too long"}}`))
	}))
	defer ts.Close()

	a := New("anthropic", "test-key", ts.URL)
	_, err := a.Send(context.Background(), "claude-3", router.Request{
		Messages: []router.Message{{Role: router.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	ce := a.ClassifyError(err)
	assert.Equal(t, providers.Permanent, ce.Kind)
	assert.Equal(t, providers.ContextLengthExceeded, ce.Sentinel)
}
