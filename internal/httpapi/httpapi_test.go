package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhingston/switchboard/internal/budget"
	"github.com/mhingston/switchboard/internal/engine"
	"github.com/mhingston/switchboard/internal/health"
	"github.com/mhingston/switchboard/internal/httpapi"
	"github.com/mhingston/switchboard/internal/metrics"
	"github.com/mhingston/switchboard/internal/providers"
	"github.com/mhingston/switchboard/internal/router"
	"github.com/mhingston/switchboard/internal/session"
)

// fakeSender is a minimal router.Sender that always returns a fixed,
// sufficiently long response so C5's evaluator scores it above any
// reasonable quality_threshold, grounded on the same fake used by
// internal/router/engine_test.go.
type fakeSender struct {
	id   string
	text string
}

func (f *fakeSender) ID() string { return f.id }
func (f *fakeSender) Send(ctx context.Context, backendID string, req router.Request) (router.NormalizedResponse, error) {
	return router.NormalizedResponse{Text: f.text}, nil
}
func (f *fakeSender) ClassifyError(err error) *providers.ClassifiedError {
	return &providers.ClassifiedError{Kind: providers.Transient, Err: err}
}

const longEnoughAnswer = "This is a long enough answer to clear the quality evaluator's length threshold for testing purposes."

// toolCallSender returns a fixed tool_calls payload and no text, exercising
// the tool-call-streaming-suppression path end to end.
type toolCallSender struct{ id string }

func (s *toolCallSender) ID() string { return s.id }
func (s *toolCallSender) Send(ctx context.Context, backendID string, req router.Request) (router.NormalizedResponse, error) {
	return router.NormalizedResponse{
		ToolCalls: json.RawMessage(`[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Boston\"}"}}]`),
	}, nil
}
func (s *toolCallSender) ClassifyError(err error) *providers.ClassifiedError {
	return &providers.ClassifiedError{Kind: providers.Transient, Err: err}
}

func testSnapshot() *router.Snapshot {
	return &router.Snapshot{
		Models: []router.Model{{
			ID:               "gpt-test",
			ProviderID:       "test-provider",
			BackendID:        "gpt-test",
			MaxContextTokens: 8192,
			Capability:       map[router.TaskType]int{router.TaskReasoning: 5},
			Enabled:          true,
		}},
		DefaultPolicy: router.Policy{
			QualityThreshold: 0.1,
			MaxAttempts:      2,
			MaxWaitMs:        1000,
			PollIntervalMs:   10,
			Weights:          router.DefaultScorerWeights(),
		},
	}
}

func testDependenciesWithSender(t *testing.T, adminToken string, allowInsecureResume bool, sender router.Sender) httpapi.Dependencies {
	t.Helper()
	snap := testSnapshot()
	senders := map[string]router.Sender{"test-provider": sender}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	eng := engine.New(snap, engine.Deps{
		Health:  health.NewInMemory(),
		Budget:  budget.NewInMemory(),
		Session: session.NewInMemory(),
		Senders: senders,
		Metrics: m,
		Logger:  logger,
	})

	return httpapi.Dependencies{
		Engine:              eng,
		Health:              health.NewInMemory(),
		Budget:              budget.NewInMemory(),
		Metrics:             m,
		Logger:              logger,
		AdminToken:          adminToken,
		AllowInsecureResume: allowInsecureResume,
		Reload: func() (*router.Snapshot, error) {
			return testSnapshot(), nil
		},
	}
}

func testDependencies(t *testing.T, adminToken string, allowInsecureResume bool) httpapi.Dependencies {
	t.Helper()
	return testDependenciesWithSender(t, adminToken, allowInsecureResume, &fakeSender{id: "test-provider", text: longEnoughAnswer})
}

func newTestServer(t *testing.T, adminToken string, allowInsecureResume bool) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	httpapi.MountRoutes(r, testDependencies(t, adminToken, allowInsecureResume))
	return httptest.NewServer(r)
}

func newTestServerWithSender(t *testing.T, sender router.Sender) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	httpapi.MountRoutes(r, testDependenciesWithSender(t, "", false, sender))
	return httptest.NewServer(r)
}

func TestChatCompletions_HappyPath(t *testing.T) {
	srv := newTestServer(t, "", false)
	defer srv.Close()

	body := `{"messages":[{"role":"user","content":"hello there"}]}`
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	choices := out["choices"].([]any)
	require.Len(t, choices, 1)
}

func TestChatCompletions_EmptyMessagesRejected(t *testing.T) {
	srv := newTestServer(t, "", false)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(`{"messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModelsEndpoint(t *testing.T) {
	srv := newTestServer(t, "", false)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	data := out["data"].([]any)
	require.Len(t, data, 1)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, "", false)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminHealth_RequiresToken(t *testing.T) {
	srv := newTestServer(t, "s3cret", false)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/health", nil)
	req.Header.Set("x-router-admin-token", "s3cret")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestAdminReload(t *testing.T) {
	srv := newTestServer(t, "s3cret", false)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/reload", nil)
	req.Header.Set("x-router-admin-token", "s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResumeHeaderRequiresAdminTokenWhenInsecureResumeDisallowed(t *testing.T) {
	srv := newTestServer(t, "s3cret", false)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-router-resume", "true")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestChatCompletions_ToolCallsSuppressStreaming covers scenario 6: a
// stream=true request against a tool-calling model still comes back as a
// single non-stream JSON object, and the tool_calls payload it carries is
// the real decoded function name/arguments, not an empty placeholder array.
func TestChatCompletions_ToolCallsSuppressStreaming(t *testing.T) {
	srv := newTestServerWithSender(t, &toolCallSender{id: "test-provider"})
	defer srv.Close()

	body := `{"messages":[{"role":"user","content":"what's the weather in Boston?"}],"stream":true}`
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	choices := out["choices"].([]any)
	require.Len(t, choices, 1)
	message := choices[0].(map[string]any)["message"].(map[string]any)

	toolCalls, ok := message["tool_calls"].([]any)
	require.True(t, ok, "tool_calls must be present and non-empty")
	require.Len(t, toolCalls, 1)
	call := toolCalls[0].(map[string]any)
	assert.Equal(t, "call_1", call["id"])
	fn := call["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])
	assert.Equal(t, `{"city":"Boston"}`, fn["arguments"])
}
