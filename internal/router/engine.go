package router

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"runtime/debug"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mhingston/switchboard/internal/budget"
	"github.com/mhingston/switchboard/internal/metrics"
	"github.com/mhingston/switchboard/internal/providers"
)

const (
	rateLimitBaseMs  = 2000
	rateLimitCapMs   = 60_000
	defaultDegradeMs = 30_000
)

// Engine is the C8 router: candidate filtering, scoring, and the bounded
// attempt/poll/deadline cycle, wired to its dependencies through the
// narrow interfaces in deps.go rather than ambient package-level state.
// A Snapshot swap (ReloadSnapshot) only affects requests started after the
// swap; in-flight requests keep the Snapshot they loaded at entry.
type Engine struct {
	snapshot atomic.Pointer[Snapshot]

	senders atomic.Pointer[map[string]Sender]

	health         HealthStore
	budget         BudgetStore
	session        SessionStore
	evaluator      Evaluator
	scorer         Scorer
	fitter         Fitter
	taskClassifier TaskClassifier
	metrics        *metrics.Registry

	log *slog.Logger
	now func() time.Time
}

// NewEngine builds an Engine over an initial Snapshot and its dependencies.
// senders is keyed by provider id.
func NewEngine(
	snap *Snapshot,
	senders map[string]Sender,
	h HealthStore,
	b BudgetStore,
	s SessionStore,
	ev Evaluator,
	sc Scorer,
	fit Fitter,
	tc TaskClassifier,
	m *metrics.Registry,
	log *slog.Logger,
	now func() time.Time,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		health:         h,
		budget:         b,
		session:        s,
		evaluator:      ev,
		scorer:         sc,
		fitter:         fit,
		taskClassifier: tc,
		metrics:        m,
		log:            log,
		now:            now,
	}
	e.snapshot.Store(snap)
	sendersCopy := cloneSenders(senders)
	e.senders.Store(&sendersCopy)
	return e
}

// ReloadSnapshot atomically swaps the registry/policy generation. Requests
// already in flight keep using the Snapshot pointer they loaded at entry.
func (e *Engine) ReloadSnapshot(snap *Snapshot) {
	e.snapshot.Store(snap)
}

// Snapshot returns the currently active registry/policy generation.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// UpsertSender registers or replaces the Sender for a provider id, atomically
// swapping in a new senders map so in-flight requests keep whichever sender
// they already resolved. Used by the admin /providers endpoint to add or
// rotate a provider without a process restart.
func (e *Engine) UpsertSender(providerID string, s Sender) {
	next := cloneSenders(*e.senders.Load())
	next[providerID] = s
	e.senders.Store(&next)
}

func cloneSenders(m map[string]Sender) map[string]Sender {
	out := make(map[string]Sender, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type candidate struct {
	model Model
	score float64
}

// RouteAndSend runs the full resume/filter/score/attempt/poll cycle for a
// non-streaming (or buffered-then-streamed, chunked by the caller) request
// and returns a Decision or a *NoSuitableModel once maxWaitMs elapses.
func (e *Engine) RouteAndSend(ctx context.Context, req Request) (Decision, error) {
	snap := e.snapshot.Load()

	taskType := e.taskClassifier.Infer(promptText(req.Messages), req.TaskType)

	if req.Resume {
		if text, modelID, complete, found := e.session.Get(req.ID); found && complete {
			return Decision{ModelID: modelID, Text: text}, nil
		}
	}

	policy := snap.policyFor(taskType)
	maxWaitMs := req.MaxWaitMs
	if maxWaitMs <= 0 {
		maxWaitMs = policy.MaxWaitMs
	}
	attemptBudget := req.AttemptBudget
	if attemptBudget <= 0 {
		attemptBudget = policy.MaxAttempts
	}
	qualityThreshold := req.QualityThreshold
	if qualityThreshold <= 0 {
		qualityThreshold = policy.QualityThreshold
	}

	start := e.now()
	deadline := start.Add(time.Duration(maxWaitMs) * time.Millisecond)

	var attempts []Attempt

	for {
		candidates := e.filterAndScore(snap, policy, taskType)

		tried := 0
		for _, cand := range candidates {
			if tried >= attemptBudget {
				break
			}
			tried++

			outcome, resp, score := e.attempt(ctx, snap, cand.model, req, policy, qualityThreshold, taskType)
			a := Attempt{ModelID: cand.model.ID, Outcome: outcome}
			if score != nil {
				s := *score
				a.Score = &s
			}
			attempts = append(attempts, a)
			e.session.RecordAttempt(req.ID, taskType, a)

			if outcome != OutcomeSuccess {
				continue
			}

			if resp.Usage != nil {
				e.budget.Record(cand.model.ProviderID, int64(resp.Usage.InputTokens+resp.Usage.OutputTokens))
			} else {
				e.budget.Record(cand.model.ProviderID, budget.EstimateTokens(len(resp.Text)))
			}
			e.session.RecordResult(req.ID, taskType, cand.model.ID, resp.Text)

			if e.metrics != nil {
				e.metrics.ModelCallsTotal.WithLabelValues(cand.model.ID, cand.model.ProviderID, string(OutcomeSuccess)).Inc()
				if score != nil {
					e.metrics.EvalScore.Observe(*score)
				}
				e.metrics.WaitTimeMs.Observe(float64(e.now().Sub(start).Milliseconds()))
			}

			return Decision{
				ModelID:    cand.model.ID,
				ProviderID: cand.model.ProviderID,
				Text:       resp.Text,
				ToolCalls:  resp.ToolCalls,
				Score:      valueOr(score, 0),
				Attempts:   attempts,
			}, nil
		}

		if !e.now().Before(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return Decision{Attempts: attempts}, ctx.Err()
		case <-time.After(time.Duration(policy.PollIntervalMs) * time.Millisecond):
		}
		if !e.now().Before(deadline) {
			break
		}
	}

	return Decision{Attempts: attempts}, defaultNoSuitableModel()
}

// RouteAndStream implements passthrough streaming (C8/C9): the first
// candidate whose stream opens successfully is handed back immediately and
// deltas are forwarded live by the caller, with evaluation deferred to the
// returned finalize callback for accounting only. The caller is the sole
// consumer of deltas; it must capture the Final payload off the terminal
// (Done) delta itself and pass it to finalize once its forwarding loop
// ends, since the channel can't be drained twice. Callers that did not set
// req.AllowDegrade should use RouteAndSend and chunk the buffered text
// themselves (the quality-gated default), since passthrough cannot be
// retried once bytes reach the client.
//
// A response carrying tool calls forces non-streaming regardless of
// req.Stream; that decision belongs to the caller, since it can only be
// made after a candidate has actually generated a response.
func (e *Engine) RouteAndStream(ctx context.Context, req Request) (Decision, <-chan StreamDelta, func(final *NormalizedResponse), error) {
	snap := e.snapshot.Load()

	taskType := e.taskClassifier.Infer(promptText(req.Messages), req.TaskType)
	policy := snap.policyFor(taskType)

	maxWaitMs := req.MaxWaitMs
	if maxWaitMs <= 0 {
		maxWaitMs = policy.MaxWaitMs
	}
	deadline := e.now().Add(time.Duration(maxWaitMs) * time.Millisecond)

	var attempts []Attempt

	for {
		candidates := e.filterAndScore(snap, policy, taskType)

		for _, cand := range candidates {
			sender, ok := (*e.senders.Load())[cand.model.ProviderID]
			if !ok {
				continue
			}
			streamer, ok := sender.(StreamSender)
			if !ok {
				continue
			}

			fitted, ok := e.fitter.Fit(req.Messages, cand.model.MaxContextTokens, req.MaxOutputTokens)
			if !ok {
				attempts = append(attempts, Attempt{ModelID: cand.model.ID, Outcome: OutcomePermanent})
				continue
			}
			fittedReq := req
			fittedReq.Messages = fitted.Messages

			start := e.now()
			deltas, err := streamer.Stream(ctx, cand.model.BackendID, fittedReq)
			if err != nil {
				outcome := e.dispatchError(cand.model, sender.ClassifyError(err))
				attempts = append(attempts, Attempt{ModelID: cand.model.ID, Outcome: outcome})
				continue
			}

			e.session.RecordAttempt(req.ID, taskType, Attempt{ModelID: cand.model.ID, Outcome: OutcomeSuccess})

			finalize := func(final *NormalizedResponse) {
				e.finalizePassthroughStream(req, cand.model, taskType, start, final)
			}
			return Decision{ModelID: cand.model.ID, ProviderID: cand.model.ProviderID, Attempts: attempts}, deltas, finalize, nil
		}

		if !e.now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return Decision{Attempts: attempts}, nil, nil, ctx.Err()
		case <-time.After(time.Duration(policy.PollIntervalMs) * time.Millisecond):
		}
		if !e.now().Before(deadline) {
			break
		}
	}

	return Decision{Attempts: attempts}, nil, nil, defaultNoSuitableModel()
}

// finalizePassthroughStream records post-hoc accounting for a passthrough
// stream from the terminal delta's accumulated response, which the caller
// captured while forwarding every delta to the client. final is nil when
// the stream ended without a Done delta (client disconnect, provider
// error mid-stream).
func (e *Engine) finalizePassthroughStream(req Request, m Model, taskType TaskType, start time.Time, final *NormalizedResponse) {
	if final == nil {
		e.health.RecordResult(m.ID, false, nil)
		return
	}

	latencyMs := float64(e.now().Sub(start).Milliseconds())
	score := e.evaluator.Evaluate(final.Text, taskType, final.HasToolCalls())
	e.health.RecordResult(m.ID, true, &latencyMs)
	e.session.RecordResult(req.ID, taskType, m.ID, final.Text)

	if final.Usage != nil {
		e.budget.Record(m.ProviderID, int64(final.Usage.InputTokens+final.Usage.OutputTokens))
	} else {
		e.budget.Record(m.ProviderID, budget.EstimateTokens(len(final.Text)))
	}

	if e.metrics != nil {
		e.metrics.ModelCallsTotal.WithLabelValues(m.ID, m.ProviderID, string(OutcomeSuccess)).Inc()
		e.metrics.EvalScore.Observe(score)
		e.metrics.WaitTimeMs.Observe(float64(e.now().Sub(start).Milliseconds()))
	}
}

// filterAndScore applies the C8 step-1 filter (enabled, preferred-list,
// minimum capability, cooldown exclusion, hard-budget exclusion) and the
// C6 scoring/ordering step, tie-broken by preferred-list position.
func (e *Engine) filterAndScore(snap *Snapshot, policy Policy, taskType TaskType) []candidate {
	preferredPos := make(map[string]int, len(policy.PreferredModelIDs))
	for i, id := range policy.PreferredModelIDs {
		preferredPos[id] = i
	}

	weights := mergeWeights(policy.Weights)
	nowMsVal := nowMs(e.now())

	var out []candidate
	for _, m := range snap.Models {
		if !m.Enabled {
			continue
		}
		if len(policy.PreferredModelIDs) > 0 {
			if _, ok := preferredPos[m.ID]; !ok {
				continue
			}
		}
		if m.capabilityFor(taskType) < policy.MinCapability {
			continue
		}

		h := e.health.Get(m.ID)
		if h.CooldownUntil > nowMsVal {
			continue
		}
		b := e.budget.Get(m.ProviderID)
		if b.AtHardLimit() {
			continue
		}

		latencySecs := h.RollingLatencyMs / 1000
		score := e.scorer.Score(m, taskType, h, b, weights, latencySecs, nowMsVal)
		out = append(out, candidate{model: m, score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		pi, oki := preferredPos[out[i].model.ID]
		pj, okj := preferredPos[out[j].model.ID]
		switch {
		case oki && okj:
			return pi < pj
		case oki:
			return true
		case okj:
			return false
		default:
			return false
		}
	})
	return out
}

// attempt runs a single candidate through C7 fitting, generation, and the
// C5 quality gate / exception dispatch described in the C8 attempt-step
// rules.
func (e *Engine) attempt(ctx context.Context, snap *Snapshot, m Model, req Request, policy Policy, qualityThreshold float64, taskType TaskType) (out AttemptOutcome, outResp NormalizedResponse, outScore *float64) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic during attempt", "model", m.ID, "panic", r, "stack", string(debug.Stack()))
			out, outResp, outScore = OutcomePermanent, NormalizedResponse{}, nil
		}
	}()

	sender, ok := (*e.senders.Load())[m.ProviderID]
	if !ok {
		return OutcomePermanent, NormalizedResponse{}, nil
	}

	fitted, ok := e.fitter.Fit(req.Messages, m.MaxContextTokens, req.MaxOutputTokens)
	if !ok {
		return OutcomePermanent, NormalizedResponse{}, nil
	}
	fittedReq := req
	fittedReq.Messages = fitted.Messages

	start := e.now()
	resp, err := sender.Send(ctx, m.BackendID, fittedReq)
	latencyMs := float64(e.now().Sub(start).Milliseconds())

	if err != nil {
		outcome := e.dispatchError(m, sender.ClassifyError(err))
		if e.metrics != nil {
			e.metrics.ModelCallsTotal.WithLabelValues(m.ID, m.ProviderID, string(outcome)).Inc()
		}
		return outcome, NormalizedResponse{}, nil
	}

	if e.metrics != nil {
		e.metrics.RequestLatency.WithLabelValues(m.ID, m.ProviderID).Observe(latencyMs)
	}

	score := e.evaluator.Evaluate(resp.Text, taskType, resp.HasToolCalls())
	if policy.CodeEval != nil {
		score = e.evaluator.ApplyCodeEval(ctx, score, policy.CodeEval, resp.Text)
	}

	accept := req.AllowDegrade || score >= qualityThreshold

	if !accept && policy.Judge != nil && policy.Judge.ModelID != m.ID {
		minScore := policy.Judge.MinScore
		if minScore == 0 {
			minScore = qualityThreshold - 0.2
		}
		if score >= minScore {
			score = e.evaluator.ConsultJudge(ctx, e.buildJudgeFunc(snap, policy.Judge.ModelID), resp.Text, taskType, score)
			accept = score >= qualityThreshold
		}
	}

	if accept {
		e.health.RecordResult(m.ID, true, &latencyMs)
		s := score
		// ModelCallsTotal{outcome=success} is incremented by the caller
		// (RouteAndSend), which also guards the eval-score/wait-time
		// histogram observes for the same accepted attempt.
		return OutcomeSuccess, resp, &s
	}

	e.health.RecordResult(m.ID, false, &latencyMs)
	degradeMs := policy.DegradeMs
	if degradeMs <= 0 {
		degradeMs = defaultDegradeMs
	}
	e.health.MarkDegraded(m.ID, degradeMs)
	s := score
	if e.metrics != nil {
		e.metrics.ModelCallsTotal.WithLabelValues(m.ID, m.ProviderID, string(OutcomeEvalFail)).Inc()
	}
	return OutcomeEvalFail, NormalizedResponse{}, &s
}

// dispatchError applies the C8 exception-kind table: RATE_LIMIT computes
// and persists a cooldown via the strike-window backoff formula;
// TRANSIENT/QUOTA_EXCEEDED record an EMA failure with no cooldown;
// PERMANENT records an EMA failure and additionally quarantines the model
// for 60s when the sentinel marks a context-overflow response.
func (e *Engine) dispatchError(m Model, ce *providers.ClassifiedError) AttemptOutcome {
	if ce == nil {
		e.health.RecordResult(m.ID, false, nil)
		return OutcomePermanent
	}

	switch ce.Kind {
	case providers.RateLimit:
		strikes := e.health.NextStrikeCount(m.ID)
		cooldownMs := ce.RetryAfterMs
		if cooldownMs <= 0 {
			cooldownMs = int64(math.Min(rateLimitBaseMs*math.Pow(2, float64(strikes-1)), rateLimitCapMs))
		}
		now := nowMs(e.now())
		e.health.MarkRateLimited(m.ID, cooldownMs, strikes, now)
		e.health.RecordResult(m.ID, false, nil)
		if e.metrics != nil {
			e.metrics.RateLimitedTotal.Inc()
		}
		e.log.Warn("rate limited", "model", m.ID, "provider", m.ProviderID, "cooldown_ms", cooldownMs, "strikes", strikes)
		return OutcomeRateLimit

	case providers.Transient:
		e.health.RecordResult(m.ID, false, nil)
		return OutcomeTransient

	case providers.QuotaExceeded:
		e.health.RecordResult(m.ID, false, nil)
		return OutcomeQuota

	case providers.Permanent:
		if ce.Sentinel == providers.ContextLengthExceeded {
			e.health.MarkDegraded(m.ID, 60_000)
		}
		e.health.RecordResult(m.ID, false, nil)
		return OutcomePermanent

	default:
		e.health.RecordResult(m.ID, false, nil)
		return OutcomePermanent
	}
}

// buildJudgeFunc resolves the configured judge model to a direct adapter
// call, bypassing the router entirely so the judge path can never
// re-enter RouteAndSend.
func (e *Engine) buildJudgeFunc(snap *Snapshot, judgeModelID string) JudgeFunc {
	jm, ok := snap.JudgeModelByID[judgeModelID]
	if !ok {
		for _, m := range snap.Models {
			if m.ID == judgeModelID {
				jm, ok = m, true
				break
			}
		}
	}
	if !ok {
		return func(context.Context, string) (string, error) {
			return "", errors.New("judge model not registered")
		}
	}
	sender, ok := (*e.senders.Load())[jm.ProviderID]
	if !ok {
		return func(context.Context, string) (string, error) {
			return "", errors.New("judge provider not registered")
		}
	}
	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := sender.Send(ctx, jm.BackendID, Request{
			Messages: []Message{{Role: RoleUser, Content: prompt}},
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}
}

// mergeWeights fills any zero-valued weight with the spec default, so a
// policy can override a single weight without restating the rest.
func mergeWeights(w ScorerWeights) ScorerWeights {
	d := DefaultScorerWeights()
	if w.Capability == 0 {
		w.Capability = d.Capability
	}
	if w.Cost == 0 {
		w.Cost = d.Cost
	}
	if w.Reliability == 0 {
		w.Reliability = d.Reliability
	}
	if w.Latency == 0 {
		w.Latency = d.Latency
	}
	if w.Degrade == 0 {
		w.Degrade = d.Degrade
	}
	if w.Budget == 0 {
		w.Budget = d.Budget
	}
	return w
}

// promptText joins message contents for the C9 task classifier, which
// scans the whole conversation rather than only the latest turn.
func promptText(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

func valueOr(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}
