package router

import (
	"context"

	"github.com/mhingston/switchboard/internal/budget"
	"github.com/mhingston/switchboard/internal/health"
)

// HealthStore is the C1 contract the engine reads/writes through.
type HealthStore = health.Store

// BudgetStore is the C2 contract the engine reads/writes through.
type BudgetStore = budget.Store

// SessionStore is the C3 contract, expressed in router-native types only
// (the concrete internal/session package is adapted onto this interface by
// the composition root, since session.Store's own Record type is built
// from these same router types and would otherwise create an import
// cycle).
type SessionStore interface {
	// Get reports the stored final text and model id for a completed
	// session, or found=false if no session exists for this request id yet.
	Get(requestID string) (text, modelID string, complete bool, found bool)
	RecordAttempt(requestID string, taskType TaskType, attempt Attempt)
	RecordResult(requestID string, taskType TaskType, modelID, text string)
}

// JudgeFunc sends a prompt to the configured judge model and returns its
// raw text reply.
type JudgeFunc func(ctx context.Context, prompt string) (string, error)

// Evaluator is the C5 contract.
type Evaluator interface {
	Evaluate(text string, taskType TaskType, hasToolCalls bool) float64
	ApplyCodeEval(ctx context.Context, score float64, cfg *CodeEvalConfig, text string) float64
	ConsultJudge(ctx context.Context, judge JudgeFunc, candidateText string, taskType TaskType, fallback float64) float64
}

// Scorer is the C6 contract.
type Scorer interface {
	Score(model Model, taskType TaskType, h health.Record, b budget.Record, weights ScorerWeights, latencySecs float64, nowMs int64) float64
}

// FitResult is a successful C7 fit.
type FitResult struct {
	Messages     []Message
	TrimmedCount int
}

// Fitter is the C7 contract.
type Fitter interface {
	Fit(messages []Message, contextTokens, maxOutputTokens int) (FitResult, bool)
}

// TaskClassifier is the C9 contract.
type TaskClassifier interface {
	Infer(prompt string, override TaskType) TaskType
}

// Snapshot is an immutable registry + policy generation. Admin reload
// builds a new Snapshot and swaps the engine's pointer atomically; in
// flight requests keep using the snapshot they started with.
type Snapshot struct {
	Models         []Model
	Policies       map[TaskType]Policy
	DefaultPolicy  Policy
	JudgeModelByID map[string]Model
}

func (s *Snapshot) policyFor(t TaskType) Policy {
	if s.Policies != nil {
		if p, ok := s.Policies[t]; ok {
			return p
		}
	}
	return s.DefaultPolicy
}
