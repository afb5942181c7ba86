package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const claimsKey contextKey = "claims"

// Middleware authenticates requests and enforces roles. A nil verifier
// disables authentication entirely; every request passes as an anonymous
// controller. That mode exists for bench setups without a token issuer.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware wraps a verifier; pass nil to disable authentication.
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth validates the bearer token and stores the claims in the
// request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.verifier == nil {
			next(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

// RequireController refuses requests whose role may not start or stop
// operations. Must run inside RequireAuth.
func (m *Middleware) RequireController(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.verifier == nil {
			next(w, r)
			return
		}
		claims := ClaimsFromRequest(r)
		if claims == nil {
			writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		if !claims.CanControl() {
			writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "controller role required")
			return
		}
		next(w, r)
	}
}

// ClaimsFromRequest returns the verified claims, or nil when the request
// was not authenticated.
func ClaimsFromRequest(r *http.Request) *Claims {
	claims, _ := r.Context().Value(claimsKey).(*Claims)
	return claims
}

// Subject returns the authenticated subject, or "anonymous".
func Subject(r *http.Request) string {
	if claims := ClaimsFromRequest(r); claims != nil {
		return claims.Subject
	}
	return "anonymous"
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result":  "error",
		"code":    code,
		"message": message,
	})
}
