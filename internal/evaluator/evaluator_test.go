package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/mhingston/switchboard/internal/router"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateEmptyText(t *testing.T) {
	r := Evaluate("", router.TaskReasoning, false)
	assert.Equal(t, 0.0, r.Score)
}

func TestEvaluateEmptyTextWithToolCalls(t *testing.T) {
	r := Evaluate("", router.TaskReasoning, true)
	assert.Greater(t, r.Score, 0.0)
}

func TestEvaluateLengthBonus(t *testing.T) {
	short := Evaluate("short", router.TaskReasoning, false)
	mid := Evaluate(string(make([]byte, 150)), router.TaskReasoning, false)
	long := Evaluate(string(make([]byte, 500)), router.TaskReasoning, false)
	assert.Less(t, short.Score, mid.Score)
	assert.Less(t, mid.Score, long.Score)
}

func TestEvaluateRefusalPenalized(t *testing.T) {
	refusal := Evaluate("I cannot help with that request because it violates policy.", router.TaskReasoning, false)
	normal := Evaluate("Here is a detailed explanation of how that works in practice.", router.TaskReasoning, false)
	assert.Less(t, refusal.Score, normal.Score)
}

func TestEvaluateCodeTaskRewardsFencedBlock(t *testing.T) {
	withCode := Evaluate("```go\nfunc main() {}\n```", router.TaskCode, false)
	withoutCode := Evaluate("just do it yourself, it's easy", router.TaskCode, false)
	assert.Greater(t, withCode.Score, withoutCode.Score)
}

func TestEvaluateCodeTaskFilePathHintBonus(t *testing.T) {
	base := Evaluate("```go\nfunc main() {}\n```", router.TaskCode, false)
	withHint := Evaluate("```go\nfunc main() {}\n```\nsee src/main.go", router.TaskCode, false)
	assert.Greater(t, withHint.Score, base.Score)
}

func TestEvaluateResearchTaskURLBonus(t *testing.T) {
	withURL := Evaluate("see https://example.com for details on this topic area", router.TaskResearch, false)
	withoutURL := Evaluate("see the documentation for details on this topic area", router.TaskResearch, false)
	assert.Greater(t, withURL.Score, withoutURL.Score)
}

func TestEvaluateIsPure(t *testing.T) {
	a := Evaluate("some reasonably long response text here", router.TaskCode, false)
	b := Evaluate("some reasonably long response text here", router.TaskCode, false)
	assert.Equal(t, a, b)
}

func TestEvaluateClampedToOne(t *testing.T) {
	text := "```go\nfunc main() {}\n```\nsee src/main.go and tests/main_test.go, " + string(make([]byte, 500))
	r := Evaluate(text, router.TaskCode, false)
	assert.LessOrEqual(t, r.Score, 1.0)
}

func TestApplyCodeEvalSuccessAddsWeight(t *testing.T) {
	cfg := &router.CodeEvalConfig{Command: []string{"true"}, Weight: 0.2, FailurePenalty: 0.5, TimeoutMs: 1000}
	score := ApplyCodeEval(context.Background(), 0.5, cfg, "package main")
	assert.InDelta(t, 0.7, score, 1e-9)
}

func TestApplyCodeEvalFailureSubtractsPenalty(t *testing.T) {
	cfg := &router.CodeEvalConfig{Command: []string{"false"}, Weight: 0.2, FailurePenalty: 0.5, TimeoutMs: 1000}
	score := ApplyCodeEval(context.Background(), 0.5, cfg, "package main")
	assert.InDelta(t, 0.0, score, 1e-9)
}

func TestApplyCodeEvalNilConfigIsNoOp(t *testing.T) {
	score := ApplyCodeEval(context.Background(), 0.5, nil, "text")
	assert.Equal(t, 0.5, score)
}

func TestConsultJudgeParsesScore(t *testing.T) {
	judge := func(ctx context.Context, prompt string) (string, error) {
		return "0.82", nil
	}
	score := ConsultJudge(context.Background(), judge, "candidate text", router.TaskCode, 0.5)
	assert.InDelta(t, 0.82, score, 1e-9)
}

func TestConsultJudgeFailureFallsBack(t *testing.T) {
	judge := func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("timeout")
	}
	score := ConsultJudge(context.Background(), judge, "candidate text", router.TaskCode, 0.5)
	assert.Equal(t, 0.5, score)
}

func TestConsultJudgeUnparsableFallsBack(t *testing.T) {
	judge := func(ctx context.Context, prompt string) (string, error) {
		return "not a number", nil
	}
	score := ConsultJudge(context.Background(), judge, "candidate text", router.TaskCode, 0.5)
	assert.Equal(t, 0.5, score)
}
