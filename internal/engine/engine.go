// Package engine is the composition root: it is the only package allowed
// to import both internal/router and the leaf packages that themselves
// import router (session, evaluator, scorer, fitter, taskinfer), so it
// wires them together behind router's narrow dependency interfaces
// (see internal/router/deps.go) without creating an import cycle.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/mhingston/switchboard/internal/budget"
	"github.com/mhingston/switchboard/internal/evaluator"
	"github.com/mhingston/switchboard/internal/fitter"
	"github.com/mhingston/switchboard/internal/health"
	"github.com/mhingston/switchboard/internal/metrics"
	"github.com/mhingston/switchboard/internal/router"
	"github.com/mhingston/switchboard/internal/scorer"
	"github.com/mhingston/switchboard/internal/session"
	"github.com/mhingston/switchboard/internal/taskinfer"
)

type sessionAdapter struct {
	store session.Store
}

func (a sessionAdapter) Get(requestID string) (string, string, bool, bool) {
	rec, ok := a.store.Get(requestID)
	if !ok {
		return "", "", false, false
	}
	return rec.Text, rec.ModelID, rec.Status == session.StatusComplete, true
}

func (a sessionAdapter) RecordAttempt(requestID string, taskType router.TaskType, attempt router.Attempt) {
	a.store.RecordAttempt(requestID, taskType, attempt)
}

func (a sessionAdapter) RecordResult(requestID string, taskType router.TaskType, modelID, text string) {
	a.store.RecordResult(requestID, taskType, modelID, text)
}

type evaluatorAdapter struct{}

func (evaluatorAdapter) Evaluate(text string, taskType router.TaskType, hasToolCalls bool) float64 {
	return evaluator.Evaluate(text, taskType, hasToolCalls).Score
}

func (evaluatorAdapter) ApplyCodeEval(ctx context.Context, score float64, cfg *router.CodeEvalConfig, text string) float64 {
	return evaluator.ApplyCodeEval(ctx, score, cfg, text)
}

func (evaluatorAdapter) ConsultJudge(ctx context.Context, judge router.JudgeFunc, candidateText string, taskType router.TaskType, fallback float64) float64 {
	return evaluator.ConsultJudge(ctx, evaluator.Judger(judge), candidateText, taskType, fallback)
}

type scorerAdapter struct{}

func (scorerAdapter) Score(m router.Model, taskType router.TaskType, h health.Record, b budget.Record, weights router.ScorerWeights, latencySecs float64, nowMs int64) float64 {
	return scorer.Score(scorer.Inputs{
		Model:       m,
		TaskType:    taskType,
		Health:      h,
		Budget:      b,
		Weights:     weights,
		LatencySecs: latencySecs,
		NowMs:       nowMs,
	})
}

type fitterAdapter struct{}

func (fitterAdapter) Fit(messages []router.Message, contextTokens, maxOutputTokens int) (router.FitResult, bool) {
	res, ok := fitter.Fit(messages, contextTokens, maxOutputTokens)
	if !ok {
		return router.FitResult{}, false
	}
	return router.FitResult{Messages: res.Messages, TrimmedCount: res.TrimmedCount}, true
}

type taskClassifierAdapter struct{}

func (taskClassifierAdapter) Infer(prompt string, override router.TaskType) router.TaskType {
	return taskinfer.Infer(prompt, override)
}

// Deps bundles every concrete dependency New needs to build a router.Engine.
// Stores and senders are accepted directly, rather than constructed inside
// New, so callers (the app wiring layer) control backend choice (in-memory
// vs sqlite/redis) and provider registration.
type Deps struct {
	Health  health.Store
	Budget  budget.Store
	Session session.Store
	Senders map[string]router.Sender
	Metrics *metrics.Registry
	Logger  *slog.Logger
	Now     func() time.Time
}

// New builds a fully wired router.Engine over snap, delegating C5-C9 to
// the concrete evaluator/scorer/fitter/taskinfer packages through the
// adapter structs above.
func New(snap *router.Snapshot, deps Deps) *router.Engine {
	return router.NewEngine(
		snap,
		deps.Senders,
		deps.Health,
		deps.Budget,
		sessionAdapter{store: deps.Session},
		evaluatorAdapter{},
		scorerAdapter{},
		fitterAdapter{},
		taskClassifierAdapter{},
		deps.Metrics,
		deps.Logger,
		deps.Now,
	)
}
