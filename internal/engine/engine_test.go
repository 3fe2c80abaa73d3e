package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhingston/switchboard/internal/budget"
	"github.com/mhingston/switchboard/internal/health"
	"github.com/mhingston/switchboard/internal/metrics"
	"github.com/mhingston/switchboard/internal/providers"
	"github.com/mhingston/switchboard/internal/router"
	"github.com/mhingston/switchboard/internal/session"
)

func TestSessionAdapterGetMissing(t *testing.T) {
	a := sessionAdapter{store: session.NewInMemory()}
	text, modelID, done, ok := a.Get("nope")
	assert.False(t, ok)
	assert.Empty(t, text)
	assert.Empty(t, modelID)
	assert.False(t, done)
}

func TestSessionAdapterRecordAttemptThenResult(t *testing.T) {
	store := session.NewInMemory()
	a := sessionAdapter{store: store}

	a.RecordAttempt("req-1", router.TaskCode, router.Attempt{ModelID: "gpt-4", Outcome: router.OutcomeTransient})
	_, _, done, ok := a.Get("req-1")
	require.True(t, ok)
	assert.False(t, done)

	a.RecordResult("req-1", router.TaskCode, "gpt-4", "final text")
	text, modelID, done, ok := a.Get("req-1")
	require.True(t, ok)
	assert.True(t, done)
	assert.Equal(t, "final text", text)
	assert.Equal(t, "gpt-4", modelID)
}

func TestEvaluatorAdapterScoresEmptyTextZero(t *testing.T) {
	a := evaluatorAdapter{}
	score := a.Evaluate("", router.TaskReasoning, false)
	assert.Zero(t, score)
}

func TestEvaluatorAdapterScoresNonEmptyTextPositive(t *testing.T) {
	a := evaluatorAdapter{}
	score := a.Evaluate("a reasonably long response that should clear the base evaluator score", router.TaskReasoning, false)
	assert.Greater(t, score, 0.0)
}

func TestEvaluatorAdapterApplyCodeEvalNilConfigIsNoop(t *testing.T) {
	a := evaluatorAdapter{}
	got := a.ApplyCodeEval(context.Background(), 0.5, nil, "package main")
	assert.Equal(t, 0.5, got)
}

func TestEvaluatorAdapterConsultJudgeFallsBackOnJudgeError(t *testing.T) {
	a := evaluatorAdapter{}
	erroringJudge := router.JudgeFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", assert.AnError
	})
	got := a.ConsultJudge(context.Background(), erroringJudge, "candidate text", router.TaskReasoning, 0.42)
	assert.Equal(t, 0.42, got)
}

func TestScorerAdapterPrefersHigherCapability(t *testing.T) {
	a := scorerAdapter{}
	weights := router.DefaultScorerWeights()
	h := health.Record{RollingSuccessRate: 1.0}
	b := budget.Record{}

	weak := router.Model{ID: "weak", Capability: map[router.TaskType]int{router.TaskCode: 2}}
	strong := router.Model{ID: "strong", Capability: map[router.TaskType]int{router.TaskCode: 9}}

	weakScore := a.Score(weak, router.TaskCode, h, b, weights, 0.1, 0)
	strongScore := a.Score(strong, router.TaskCode, h, b, weights, 0.1, 0)
	assert.Greater(t, strongScore, weakScore)
}

func TestFitterAdapterPassthroughWhenUnderBudget(t *testing.T) {
	a := fitterAdapter{}
	msgs := []router.Message{{Role: "user", Content: "hi"}}
	res, ok := a.Fit(msgs, 8192, 512)
	require.True(t, ok)
	assert.Equal(t, msgs, res.Messages)
	assert.Zero(t, res.TrimmedCount)
}

func TestTaskClassifierAdapterHonorsOverride(t *testing.T) {
	a := taskClassifierAdapter{}
	got := a.Infer("irrelevant prompt text", router.TaskCode)
	assert.Equal(t, router.TaskCode, got)
}

func TestTaskClassifierAdapterInfersFromPrompt(t *testing.T) {
	a := taskClassifierAdapter{}
	got := a.Infer("please review this function for bugs: func foo() {}", "")
	assert.NotEmpty(t, got)
}

func TestNewWiresAConcreteEngine(t *testing.T) {
	snap := &router.Snapshot{
		Models: []router.Model{{
			ID:               "m1",
			ProviderID:       "p1",
			BackendID:        "m1",
			MaxContextTokens: 4096,
			Capability:       map[router.TaskType]int{router.TaskReasoning: 5},
			Enabled:          true,
		}},
		DefaultPolicy: router.Policy{
			QualityThreshold: 0.1,
			MaxAttempts:      1,
			MaxWaitMs:        500,
			PollIntervalMs:   10,
			Weights:          router.DefaultScorerWeights(),
		},
	}

	eng := New(snap, Deps{
		Health:  health.NewInMemory(),
		Budget:  budget.NewInMemory(),
		Session: session.NewInMemory(),
		Senders: map[string]router.Sender{"p1": testSender{}},
		Metrics: metrics.New(),
	})

	require.NotNil(t, eng)
	require.NotNil(t, eng.Snapshot())
	assert.Len(t, eng.Snapshot().Models, 1)
}

// testSender implements router.Sender for TestNewWiresAConcreteEngine.
type testSender struct{}

func (testSender) ID() string { return "p1" }
func (testSender) Send(ctx context.Context, backendID string, req router.Request) (router.NormalizedResponse, error) {
	return router.NormalizedResponse{Text: "a response long enough to pass evaluation in this test"}, nil
}
func (testSender) ClassifyError(err error) *providers.ClassifiedError {
	return &providers.ClassifiedError{Kind: providers.Transient, Err: err}
}
