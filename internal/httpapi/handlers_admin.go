package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/mhingston/switchboard/internal/providers/anthropic"
	"github.com/mhingston/switchboard/internal/providers/openai"
	"github.com/mhingston/switchboard/internal/providers/vllm"
	"github.com/mhingston/switchboard/internal/router"
)

// adminHealthHandler implements GET /admin/health: the current C1 health
// record for every registered model in the active snapshot.
func adminHealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Engine.Snapshot()
		out := make(map[string]any, len(snap.Models))
		for _, m := range snap.Models {
			out[m.ID] = d.Health.Get(m.ID)
		}
		writeJSON(w, out)
	}
}

// adminBudgetHandler implements GET /admin/budget: the current C2 budget
// record for every distinct provider id referenced by the active snapshot.
func adminBudgetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Engine.Snapshot()
		seen := map[string]bool{}
		out := map[string]any{}
		for _, m := range snap.Models {
			if seen[m.ProviderID] {
				continue
			}
			seen[m.ProviderID] = true
			out[m.ProviderID] = d.Budget.Get(m.ProviderID)
		}
		writeJSON(w, out)
	}
}

// adminReloadHandler implements POST /admin/reload: rebuilds the registry
// and policy snapshot from CONFIG_PATH and swaps it in. Requests already in
// flight keep the snapshot pointer they loaded at entry.
func adminReloadHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Reload == nil {
			writeError(w, http.StatusNotImplemented, "reload_unavailable", "no reload source configured")
			return
		}
		snap, err := d.Reload()
		if err != nil {
			writeError(w, http.StatusBadRequest, "reload_failed", err.Error())
			return
		}
		d.Engine.ReloadSnapshot(snap)
		writeJSON(w, map[string]any{"status": "reloaded", "models": len(snap.Models)})
	}
}

// upsertModelBody mirrors router.Model's JSON shape for a single registry
// entry admin insert/update.
type upsertModelBody struct {
	ID               string                     `json:"id"`
	ProviderID       string                     `json:"provider_id"`
	BackendID        string                     `json:"backend_id"`
	MaxContextTokens int                        `json:"max_context_tokens"`
	Capability       map[router.TaskType]int    `json:"capability"`
	CostWeight       float64                    `json:"cost_weight"`
	Enabled          bool                       `json:"enabled"`
}

// adminUpsertModelHandler implements POST /admin/models: adds or replaces a
// single model entry in the active snapshot by id, leaving every other
// entry and the policy set untouched, then swaps the snapshot pointer.
func adminUpsertModelHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body upsertModelBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
			return
		}
		if body.ID == "" || body.ProviderID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "id and provider_id are required")
			return
		}

		cur := d.Engine.Snapshot()
		next := &router.Snapshot{
			Policies:       cur.Policies,
			DefaultPolicy:  cur.DefaultPolicy,
			JudgeModelByID: cur.JudgeModelByID,
		}
		model := router.Model{
			ID:               body.ID,
			ProviderID:       body.ProviderID,
			BackendID:        body.BackendID,
			MaxContextTokens: body.MaxContextTokens,
			Capability:       body.Capability,
			CostWeight:       body.CostWeight,
			Enabled:          body.Enabled,
		}
		replaced := false
		for _, m := range cur.Models {
			if m.ID == model.ID {
				next.Models = append(next.Models, model)
				replaced = true
				continue
			}
			next.Models = append(next.Models, m)
		}
		if !replaced {
			next.Models = append(next.Models, model)
		}

		d.Engine.ReloadSnapshot(next)
		writeJSON(w, map[string]any{"status": "ok", "model": model.ID, "replaced": replaced})
	}
}

// upsertProviderBody names a provider adapter to construct: kind selects
// which of the three built-in adapters backs the provider id.
type upsertProviderBody struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"` // "openai", "anthropic", or "vllm"
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// adminUpsertProviderHandler implements POST /admin/providers: constructs
// the named adapter kind and registers it as the Sender for the given
// provider id, atomically, without disrupting requests already in flight.
func adminUpsertProviderHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body upsertProviderBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
			return
		}
		if body.ID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
			return
		}

		var sender router.Sender
		switch body.Kind {
		case "openai":
			sender = openai.New(body.ID, body.APIKey, body.BaseURL)
		case "anthropic":
			sender = anthropic.New(body.ID, body.APIKey, body.BaseURL)
		case "vllm":
			if body.BaseURL == "" {
				writeError(w, http.StatusBadRequest, "invalid_request", "base_url is required for kind vllm")
				return
			}
			sender = vllm.New(body.ID, body.BaseURL)
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "kind must be one of: openai, anthropic, vllm")
			return
		}

		d.Engine.UpsertSender(body.ID, sender)
		writeJSON(w, map[string]any{"status": "ok", "provider_id": body.ID, "kind": body.Kind})
	}
}
