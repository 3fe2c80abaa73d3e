package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// adminTokenHeader is the shared-secret header gating the admin surface and
// the resume path (unless ALLOW_INSECURE_RESUME is set).
const adminTokenHeader = "x-router-admin-token"

// adminAuthMiddleware rejects requests whose x-router-admin-token header
// doesn't constant-time-match token. An empty token disables the check
// entirely (local/dev use), matching the teacher's "empty = no auth"
// convention for its own admin token gate.
func adminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !constantTimeTokenMatch(token, r.Header.Get(adminTokenHeader)) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func constantTimeTokenMatch(want, got string) bool {
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
