package server

import (
	"errors"
	"net/http"

	tollgate "github.com/gatelabs/tollgate/internal"
)

// authenticate validates the bearer token and attaches the verified claims to
// the request context. Bypass paths pass through untouched. When requestMeta
// already exists in context (set by requestID middleware), the claims are
// stored by mutation -- no new context or request copy needed.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bypassPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeJSON(w, errorStatus(err), detail{Detail: authErrorMessage(err)})
			return
		}
		ctx := tollgate.ContextWithClaims(r.Context(), claims)
		if ctx == r.Context() {
			next.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// authErrorMessage maps authentication failures to their client-visible
// wording. The strings are part of the API surface.
func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, tollgate.ErrMissingAuth):
		return "Missing or invalid Authorization header"
	case errors.Is(err, tollgate.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, tollgate.ErrTokenInvalid):
		return "Token invalid"
	default:
		return "Auth error: " + err.Error()
	}
}
