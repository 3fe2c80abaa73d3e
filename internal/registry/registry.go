// Package registry loads the model/provider/policy registry from a YAML
// file at CONFIG_PATH, grounded on the teacher's config.Config JSON loader
// (config/config.go) generalized from flat provider/model lists to the
// spec's per-task-type policy shape and reparsed with gopkg.in/yaml.v3,
// the pack's structured-config library of choice.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mhingston/switchboard/internal/providers/anthropic"
	"github.com/mhingston/switchboard/internal/providers/openai"
	"github.com/mhingston/switchboard/internal/providers/vllm"
	"github.com/mhingston/switchboard/internal/router"
)

// Document is the CONFIG_PATH YAML shape: a flat provider list, a flat
// model list, and per-task-type policy overrides layered on a default.
type Document struct {
	Providers []ProviderEntry         `yaml:"providers"`
	Models    []ModelEntry            `yaml:"models"`
	Default   PolicyEntry             `yaml:"default_policy"`
	Policies  map[string]PolicyEntry  `yaml:"policies"`
	Judges    map[string]string       `yaml:"judge_models"` // task_type -> model id
}

// ProviderEntry names one adapter instance. APIKeyEnv names an environment
// variable resolved at load time so the YAML file need not carry a live
// secret; APIKey carries a key inline. BaseURL is taken from the YAML as
// written, and no separate credentials file is read.
type ProviderEntry struct {
	ID        string `yaml:"id"`
	Kind      string `yaml:"kind"` // openai, anthropic, vllm
	APIKeyEnv string `yaml:"api_key_env"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
}

// ModelEntry is one router.Model, YAML-shaped.
type ModelEntry struct {
	ID               string         `yaml:"id"`
	ProviderID       string         `yaml:"provider_id"`
	BackendID        string         `yaml:"backend_id"`
	MaxContextTokens int            `yaml:"max_context_tokens"`
	Capability       map[string]int `yaml:"capability"`
	CostWeight       float64        `yaml:"cost_weight"`
	Enabled          *bool          `yaml:"enabled"`
}

// PolicyEntry is one router.Policy, YAML-shaped. Zero-valued fields are
// left for Policy's own runtime defaulting (see router.Engine.RouteAndSend)
// except where this package fills in the documented spec defaults.
type PolicyEntry struct {
	PreferredModelIDs []string        `yaml:"preferred_model_ids"`
	MinCapability     int             `yaml:"min_capability"`
	QualityThreshold  float64         `yaml:"quality_threshold"`
	MaxAttempts       int             `yaml:"max_attempts"`
	PollIntervalMs    int64           `yaml:"poll_interval_ms"`
	MaxWaitMs         int64           `yaml:"max_wait_ms"`
	DegradeMs         int64           `yaml:"degrade_ms"`
	Weights           *WeightsEntry   `yaml:"weights"`
	Streaming         *StreamingEntry `yaml:"streaming"`
	CodeEval          *CodeEvalEntry  `yaml:"code_eval"`
	Judge             *JudgeEntry     `yaml:"judge"`
}

type WeightsEntry struct {
	Capability  float64 `yaml:"capability"`
	Cost        float64 `yaml:"cost"`
	Reliability float64 `yaml:"reliability"`
	Latency     float64 `yaml:"latency"`
	Degrade     float64 `yaml:"degrade"`
	Budget      float64 `yaml:"budget"`
}

type StreamingEntry struct {
	ChunkSize    int   `yaml:"chunk_size"`
	ChunkDelayMs int64 `yaml:"chunk_delay_ms"`
}

type CodeEvalEntry struct {
	Command        []string `yaml:"command"`
	TimeoutMs      int64    `yaml:"timeout_ms"`
	Weight         float64  `yaml:"weight"`
	FailurePenalty float64  `yaml:"failure_penalty"`
}

type JudgeEntry struct {
	ModelID  string  `yaml:"model_id"`
	MinScore float64 `yaml:"min_score"`
}

// defaultDegradeMs matches the spec's 30s quality-fail quarantine default.
const defaultDegradeMs = 30_000

// Load reads and parses a Document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry config %q: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry config %q: %w", path, err)
	}
	return &doc, nil
}

// BuildSnapshot converts a parsed Document into a router.Snapshot.
func (doc *Document) BuildSnapshot() (*router.Snapshot, error) {
	snap := &router.Snapshot{
		Policies:       map[router.TaskType]router.Policy{},
		JudgeModelByID: map[string]router.Model{},
	}

	modelByID := map[string]ModelEntry{}
	for _, me := range doc.Models {
		if me.ID == "" || me.ProviderID == "" {
			return nil, fmt.Errorf("registry: model entry missing id or provider_id")
		}
		modelByID[me.ID] = me
		snap.Models = append(snap.Models, me.toModel())
	}

	snap.DefaultPolicy = doc.Default.toPolicy()
	for taskType, pe := range doc.Policies {
		snap.Policies[router.TaskType(taskType)] = pe.toPolicy()
	}

	for taskType, modelID := range doc.Judges {
		me, ok := modelByID[modelID]
		if !ok {
			return nil, fmt.Errorf("registry: judge model %q for task %q not found", modelID, taskType)
		}
		snap.JudgeModelByID[taskType] = me.toModel()
	}

	return snap, nil
}

func (me ModelEntry) toModel() router.Model {
	capability := make(map[router.TaskType]int, len(me.Capability))
	for k, v := range me.Capability {
		capability[router.TaskType(k)] = v
	}
	enabled := true
	if me.Enabled != nil {
		enabled = *me.Enabled
	}
	return router.Model{
		ID:               me.ID,
		ProviderID:       me.ProviderID,
		BackendID:        me.BackendID,
		MaxContextTokens: me.MaxContextTokens,
		Capability:       capability,
		CostWeight:       me.CostWeight,
		Enabled:          enabled,
	}
}

func (pe PolicyEntry) toPolicy() router.Policy {
	p := router.Policy{
		PreferredModelIDs: pe.PreferredModelIDs,
		MinCapability:     pe.MinCapability,
		QualityThreshold:  pe.QualityThreshold,
		MaxAttempts:       pe.MaxAttempts,
		PollIntervalMs:    pe.PollIntervalMs,
		MaxWaitMs:         pe.MaxWaitMs,
		DegradeMs:         pe.DegradeMs,
		Weights:           router.DefaultScorerWeights(),
	}
	if p.DegradeMs <= 0 {
		p.DegradeMs = defaultDegradeMs
	}
	if pe.Weights != nil {
		p.Weights = router.ScorerWeights{
			Capability:  pe.Weights.Capability,
			Cost:        pe.Weights.Cost,
			Reliability: pe.Weights.Reliability,
			Latency:     pe.Weights.Latency,
			Degrade:     pe.Weights.Degrade,
			Budget:      pe.Weights.Budget,
		}
	}
	if pe.Streaming != nil {
		p.Streaming = router.StreamingConfig{
			ChunkSize:    pe.Streaming.ChunkSize,
			ChunkDelayMs: pe.Streaming.ChunkDelayMs,
		}
	}
	if pe.CodeEval != nil {
		p.CodeEval = &router.CodeEvalConfig{
			Command:        pe.CodeEval.Command,
			TimeoutMs:      pe.CodeEval.TimeoutMs,
			Weight:         pe.CodeEval.Weight,
			FailurePenalty: pe.CodeEval.FailurePenalty,
		}
	}
	if pe.Judge != nil {
		p.Judge = &router.JudgeConfig{ModelID: pe.Judge.ModelID, MinScore: pe.Judge.MinScore}
	}
	return p
}

// BuildSenders constructs a provider id -> router.Sender map from the
// Document's provider list, resolving APIKeyEnv against the environment
// when APIKey itself is empty.
func (doc *Document) BuildSenders() (map[string]router.Sender, error) {
	out := make(map[string]router.Sender, len(doc.Providers))
	for _, pe := range doc.Providers {
		if pe.ID == "" {
			return nil, fmt.Errorf("registry: provider entry missing id")
		}
		apiKey := pe.APIKey
		if apiKey == "" && pe.APIKeyEnv != "" {
			apiKey = os.Getenv(pe.APIKeyEnv)
		}
		switch pe.Kind {
		case "openai":
			out[pe.ID] = openai.New(pe.ID, apiKey, pe.BaseURL)
		case "anthropic":
			out[pe.ID] = anthropic.New(pe.ID, apiKey, pe.BaseURL)
		case "vllm":
			if pe.BaseURL == "" {
				return nil, fmt.Errorf("registry: provider %q of kind vllm requires base_url", pe.ID)
			}
			out[pe.ID] = vllm.New(pe.ID, pe.BaseURL)
		default:
			return nil, fmt.Errorf("registry: provider %q has unknown kind %q", pe.ID, pe.Kind)
		}
	}
	return out, nil
}
