package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhingston/switchboard/internal/registry"
	"github.com/mhingston/switchboard/internal/router"
)

const sampleYAML = `
providers:
  - id: openai-main
    kind: openai
    api_key: test-key
  - id: local-vllm
    kind: vllm
    base_url: http://localhost:8000
models:
  - id: gpt-4
    provider_id: openai-main
    backend_id: gpt-4
    max_context_tokens: 128000
    capability:
      code: 8
      reasoning: 9
    cost_weight: 1.0
  - id: llama-local
    provider_id: local-vllm
    backend_id: llama-3-70b
    max_context_tokens: 32000
    capability:
      rewrite: 5
    cost_weight: 0.1
    enabled: false
default_policy:
  max_attempts: 3
  quality_threshold: 0.6
  poll_interval_ms: 500
  max_wait_ms: 5000
policies:
  code:
    min_capability: 7
    quality_threshold: 0.8
    weights:
      capability: 2.0
      cost: 1.0
judge_models:
  code: gpt-4
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAndBuildSnapshot(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	doc, err := registry.Load(path)
	require.NoError(t, err)

	snap, err := doc.BuildSnapshot()
	require.NoError(t, err)

	require.Len(t, snap.Models, 2)

	var gpt4, llama router.Model
	for _, m := range snap.Models {
		switch m.ID {
		case "gpt-4":
			gpt4 = m
		case "llama-local":
			llama = m
		}
	}

	assert.Equal(t, "openai-main", gpt4.ProviderID)
	assert.True(t, gpt4.Enabled, "models default to enabled when the yaml omits the field")
	assert.Equal(t, 8, gpt4.Capability[router.TaskCode])

	assert.False(t, llama.Enabled, "explicit enabled: false must be honored")

	codePolicy, ok := snap.Policies[router.TaskCode]
	require.True(t, ok)
	assert.Equal(t, 7, codePolicy.MinCapability)
	assert.Equal(t, 0.8, codePolicy.QualityThreshold)
	assert.Equal(t, 2.0, codePolicy.Weights.Capability)

	assert.Equal(t, 3, snap.DefaultPolicy.MaxAttempts)
	assert.Equal(t, int64(30_000), codePolicy.DegradeMs, "unset degrade_ms falls back to the 30s default")

	judge, ok := snap.JudgeModelByID["code"]
	require.True(t, ok)
	assert.Equal(t, "gpt-4", judge.ID)
}

func TestBuildSendersConstructsAdapters(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	doc, err := registry.Load(path)
	require.NoError(t, err)

	senders, err := doc.BuildSenders()
	require.NoError(t, err)
	assert.Len(t, senders, 2)
	assert.Contains(t, senders, "openai-main")
	assert.Contains(t, senders, "local-vllm")
}

func TestBuildSendersUnknownKindErrors(t *testing.T) {
	path := writeTempConfig(t, `
providers:
  - id: mystery
    kind: not-a-real-provider
models: []
default_policy: {}
`)
	doc, err := registry.Load(path)
	require.NoError(t, err)

	_, err = doc.BuildSenders()
	assert.Error(t, err)
}

func TestBuildSendersVLLMRequiresBaseURL(t *testing.T) {
	path := writeTempConfig(t, `
providers:
  - id: local-vllm
    kind: vllm
models: []
default_policy: {}
`)
	doc, err := registry.Load(path)
	require.NoError(t, err)

	_, err = doc.BuildSenders()
	assert.Error(t, err)
}

func TestBuildSnapshotMissingJudgeModelErrors(t *testing.T) {
	path := writeTempConfig(t, `
providers: []
models: []
default_policy: {}
judge_models:
  code: does-not-exist
`)
	doc, err := registry.Load(path)
	require.NoError(t, err)

	_, err = doc.BuildSnapshot()
	assert.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := registry.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvResolvedAPIKey(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "resolved-secret")
	path := writeTempConfig(t, `
providers:
  - id: openai-main
    kind: openai
    api_key_env: TEST_PROVIDER_KEY
models: []
default_policy: {}
`)
	doc, err := registry.Load(path)
	require.NoError(t, err)

	senders, err := doc.BuildSenders()
	require.NoError(t, err)
	assert.Contains(t, senders, "openai-main")
}
