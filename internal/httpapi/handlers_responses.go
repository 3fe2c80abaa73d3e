package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mhingston/switchboard/internal/router"
)

// responsesBody is the Responses-API-shaped request: input is either a
// plain string prompt or a full message array.
type responsesBody struct {
	Input      json.RawMessage `json:"input"`
	MaxTokens  *int            `json:"max_output_tokens,omitempty"`
	Stream     bool            `json:"stream,omitempty"`
	Tools      json.RawMessage `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`
}

func parseResponsesInput(raw json.RawMessage) ([]router.Message, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []router.Message{{Role: router.RoleUser, Content: s}}, nil
	}
	var msgs []rawMessage
	if err := json.Unmarshal(raw, &msgs); err == nil {
		return normalizeMessages(msgs), nil
	}
	return nil, errInvalidInput
}

var errInvalidInput = &invalidInputError{}

type invalidInputError struct{}

func (e *invalidInputError) Error() string { return "input must be a string or a message array" }

// responsesHandler implements POST /v1/responses (§6): same routing as
// chat completions, Responses-shaped body, streaming rejected with 400.
func responsesHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body responsesBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
			return
		}
		if body.Stream {
			writeError(w, http.StatusBadRequest, "invalid_request", "streaming is not supported on /v1/responses")
			return
		}

		messages, err := parseResponsesInput(body.Input)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		opts := parseRoutingOptions(r)
		if opts.resume && !d.AllowInsecureResume {
			if !constantTimeTokenMatch(d.AdminToken, r.Header.Get(adminTokenHeader)) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "resume requires a valid admin token")
				return
			}
		}

		req := router.Request{
			ID:               opts.requestID,
			Messages:         messages,
			TaskType:         opts.taskType,
			QualityThreshold: opts.qualityThreshold,
			MaxWaitMs:        opts.maxWaitMs,
			AllowDegrade:     opts.allowDegrade,
			Resume:           opts.resume,
			ToolSchema:       body.Tools,
			ToolChoice:       body.ToolChoice,
		}
		if body.MaxTokens != nil {
			req.MaxOutputTokens = *body.MaxTokens
		}

		dec, err := d.Engine.RouteAndSend(r.Context(), req)
		if err != nil {
			var nsm *router.NoSuitableModel
			if errors.As(err, &nsm) {
				writeNoSuitableModel(w, nsm.RetryAfterMs)
				return
			}
			writeError(w, http.StatusBadGateway, "routing_failed", err.Error())
			return
		}

		if opts.debug {
			w.Header().Set(headerMetadata, debugMetadataHeader(map[string]any{
				"model_id":    dec.ModelID,
				"provider_id": dec.ProviderID,
				"score":       dec.Score,
				"attempts":    dec.Attempts,
			}))
		}

		resp := map[string]any{
			"id":         "resp-" + opts.requestID,
			"object":     "response",
			"created_at": time.Now().Unix(),
			"model":      dec.ModelID,
			"output": []map[string]any{
				{"type": "message", "role": "assistant", "content": []map[string]any{
					{"type": "output_text", "text": dec.Text},
				}},
			},
		}
		if opts.debug {
			resp["router"] = dec.Attempts
		}
		writeJSON(w, resp)
	}
}
