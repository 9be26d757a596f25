package middleware

import (
	"net/http"

	"github.com/unilearn/faceid/internal/gate"
)

// FaceGate redirects authenticated sessions with a pending face verification
// to the verify page. The policy decides which paths stay reachable so the
// user can actually complete (or skip) the verification.
func FaceGate(sm *SessionManager, policy gate.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var v gate.Verification
			authenticated := false
			if session := sm.GetSessionFromRequest(r); session != nil {
				v = session.Verification
				authenticated = session.Authenticated()
			}

			if policy.Decide(v, authenticated, r.Method, r.URL.Path) == gate.Redirect {
				http.Redirect(w, r, policy.VerifyPath, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
