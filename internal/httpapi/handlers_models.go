package httpapi

import "net/http"

// modelsHandler implements GET /v1/models: an OpenAI-compatible listing of
// enabled registry entries from the engine's active snapshot.
func modelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Engine.Snapshot()
		type modelObj struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			OwnedBy string `json:"owned_by"`
		}
		var data []modelObj
		for _, m := range snap.Models {
			if !m.Enabled {
				continue
			}
			data = append(data, modelObj{ID: m.ID, Object: "model", OwnedBy: m.ProviderID})
		}
		writeJSON(w, map[string]any{"object": "list", "data": data})
	}
}
