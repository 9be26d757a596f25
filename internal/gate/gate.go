// Package gate decides whether a request may proceed while the session still
// owes a face verification. The decision is a pure function of the
// verification state and the request, so the middleware layer stays trivial.
package gate

import (
	"net/http"
	"strings"
)

// State models the session's face-verification obligation.
type State int

const (
	// StateNotRequired means the user has no face enrollment, nothing to gate.
	StateNotRequired State = iota
	// StatePending means login succeeded but the face step is outstanding.
	StatePending
	// StateSatisfied means verification passed or was explicitly skipped.
	StateSatisfied
)

func (s State) String() string {
	switch s {
	case StateNotRequired:
		return "not_required"
	case StatePending:
		return "pending"
	case StateSatisfied:
		return "satisfied"
	default:
		return "unknown"
	}
}

// Verification is the per-session gate state. AttemptsRemaining only has
// meaning while State is StatePending.
type Verification struct {
	State             State
	AttemptsRemaining int
}

// NotRequired returns the zero obligation.
func NotRequired() Verification {
	return Verification{State: StateNotRequired}
}

// Pending arms the gate with a bounded attempt budget.
func Pending(attempts int) Verification {
	return Verification{State: StatePending, AttemptsRemaining: attempts}
}

// Satisfied marks the obligation as cleared.
func Satisfied() Verification {
	return Verification{State: StateSatisfied, AttemptsRemaining: 0}
}

// Action is the gate's answer for a request.
type Action int

const (
	// Allow lets the request reach its handler unmodified.
	Allow Action = iota
	// Redirect short-circuits the request to the verification page.
	Redirect
)

// Policy is the configured allow-list. Paths match exactly; prefixes match
// static asset trees that must stay reachable regardless of session state
// (styles, scripts, model weight files).
type Policy struct {
	VerifyPath     string
	allowedPaths   map[string]struct{}
	staticPrefixes []string
}

// NewPolicy builds a Policy. The verify path itself is always allow-listed,
// a policy that redirects to a page it then blocks would deadlock.
func NewPolicy(verifyPath string, allowedPaths, staticPrefixes []string) Policy {
	allowed := make(map[string]struct{}, len(allowedPaths)+1)
	allowed[verifyPath] = struct{}{}
	for _, p := range allowedPaths {
		allowed[p] = struct{}{}
	}
	return Policy{
		VerifyPath:     verifyPath,
		allowedPaths:   allowed,
		staticPrefixes: staticPrefixes,
	}
}

// Decide implements the gate decision table. It is total: every combination
// of inputs yields either Allow or Redirect.
func (p Policy) Decide(v Verification, authenticated bool, method, path string) Action {
	// CORS preflight is not a primary request.
	if method == http.MethodOptions {
		return Allow
	}
	if v.State != StatePending {
		return Allow
	}
	if !authenticated {
		return Allow
	}
	if _, ok := p.allowedPaths[path]; ok {
		return Allow
	}
	for _, prefix := range p.staticPrefixes {
		if strings.HasPrefix(path, prefix) {
			return Allow
		}
	}
	return Redirect
}
