// Package router implements the candidate filtering, scoring, and bounded
// attempt/retry loop that selects a back-end model for an incoming request.
package router

import (
	"encoding/json"
	"time"
)

// TaskType is one of the heuristic task classes used for capability lookup
// and policy selection.
type TaskType string

const (
	TaskCode      TaskType = "code"
	TaskRewrite   TaskType = "rewrite"
	TaskResearch  TaskType = "research"
	TaskReasoning TaskType = "reasoning"
)

// Role identifies the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation, normalized to flat text.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the router's provider-agnostic input envelope.
type Request struct {
	ID string `json:"id"`

	Messages []Message `json:"messages"`

	TaskType TaskType `json:"task_type,omitempty"`

	QualityThreshold float64 `json:"quality_threshold,omitempty"`
	MaxWaitMs        int64   `json:"max_wait_ms,omitempty"`
	AttemptBudget    int     `json:"attempt_budget,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty"`

	Stream      bool `json:"stream,omitempty"`
	AllowDegrade bool `json:"allow_degrade,omitempty"`
	Resume      bool `json:"resume,omitempty"`

	ToolSchema json.RawMessage `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`

	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
}

// Model is a registered back-end LLM.
type Model struct {
	ID               string           `json:"id"`
	ProviderID       string           `json:"provider_id"`
	BackendID        string           `json:"backend_id"`
	MaxContextTokens int              `json:"max_context_tokens"`
	Capability       map[TaskType]int `json:"capability"`
	CostWeight       float64          `json:"cost_weight"`
	Enabled          bool             `json:"enabled"`
}

func (m Model) capabilityFor(t TaskType) int {
	if m.Capability == nil {
		return 0
	}
	return m.Capability[t]
}

// ScorerWeights tunes the C6 weighted-sum formula.
type ScorerWeights struct {
	Capability float64
	Cost       float64
	Reliability float64
	Latency    float64
	Degrade    float64
	Budget     float64
}

// DefaultScorerWeights are the spec's default scorer weights.
func DefaultScorerWeights() ScorerWeights {
	return ScorerWeights{
		Capability:  1,
		Reliability: 0.5,
		Cost:        0.5,
		Latency:     0.2,
		Degrade:     1.5,
		Budget:      1,
	}
}

// CodeEvalConfig configures the optional C5 executable code-test scorer.
type CodeEvalConfig struct {
	Command        []string
	TimeoutMs      int64
	Weight         float64
	FailurePenalty float64
}

// JudgeConfig configures the optional C5 judge-model hook.
type JudgeConfig struct {
	ModelID  string
	MinScore float64 // if zero, defaults to threshold - 0.2 at call time
}

// StreamingConfig configures C8/C9 streaming chunk behavior.
type StreamingConfig struct {
	ChunkSize     int
	ChunkDelayMs  int64
}

// Policy is the per-task-type (or default) routing policy.
type Policy struct {
	PreferredModelIDs []string
	MinCapability     int
	QualityThreshold  float64
	MaxAttempts       int
	PollIntervalMs    int64
	MaxWaitMs         int64
	Weights           ScorerWeights
	DegradeMs         int64 // quality-fail quarantine duration, default 30s

	Streaming StreamingConfig
	CodeEval  *CodeEvalConfig
	Judge     *JudgeConfig
}

// AttemptOutcome classifies what happened when a candidate model was tried.
type AttemptOutcome string

const (
	OutcomeSuccess   AttemptOutcome = "success"
	OutcomeEvalFail  AttemptOutcome = "eval_fail"
	OutcomeRateLimit AttemptOutcome = "rate_limit"
	OutcomeTransient AttemptOutcome = "transient"
	OutcomeQuota     AttemptOutcome = "quota"
	OutcomePermanent AttemptOutcome = "permanent"
)

// Attempt is one entry of the per-request attempt log.
type Attempt struct {
	ModelID string         `json:"model_id"`
	Outcome AttemptOutcome `json:"outcome"`
	Score   *float64       `json:"score,omitempty"`
}

// Decision describes the routing outcome for a completed request.
type Decision struct {
	ModelID    string
	ProviderID string
	Text       string
	// ToolCalls is the raw OpenAI-shaped tool_calls JSON array carried over
	// from the winning NormalizedResponse, nil when there were none.
	ToolCalls json.RawMessage
	Score     float64
	Attempts  []Attempt
}

// HasToolCalls reports whether the decision carries any tool calls.
func (d Decision) HasToolCalls() bool { return len(d.ToolCalls) > 0 }

// NoSuitableModel is returned when every cycle exhausts the wall-clock
// deadline without a successful attempt.
type NoSuitableModel struct {
	RetryAfterMs int64
}

func (e *NoSuitableModel) Error() string {
	return "no suitable model available"
}

func defaultNoSuitableModel() *NoSuitableModel {
	return &NoSuitableModel{RetryAfterMs: 10_000}
}

// clampScore clamps a heuristic/judge score to [0,1].
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// nowMs returns the current time as epoch milliseconds.
func nowMs(t time.Time) int64 {
	return t.UnixMilli()
}
