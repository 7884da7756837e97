// Package tollgate defines domain types and interfaces for the Tollgate API
// gateway. This package has no project imports -- it is the dependency root.
package tollgate

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// --- Caller claims ---

// Claims is the verified claim set of a bearer token. Keys follow JWT
// conventions: "sub", "iss", "aud", "exp", plus whatever else the issuer put in.
type Claims map[string]any

// Subject returns the "sub" claim, or "" when absent or not a string.
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// --- Authenticator interface ---

// Authenticator validates request credentials and returns the verified claims.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Claims, error)
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Claims field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Claims    Claims
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// ClaimsFromContext extracts the verified claims from context. Nil on
// unauthenticated paths.
func ClaimsFromContext(ctx context.Context) Claims {
	if m := metaFromContext(ctx); m != nil {
		return m.Claims
	}
	return nil
}

// ContextWithClaims stores the claims in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new
// metadata if none exists (e.g., in tests).
func ContextWithClaims(ctx context.Context, c Claims) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Claims = c
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Claims: c})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Client identity ---

// ClientIdentity derives the partition key used by the rate limiter:
// "user:{sub}" when verified claims are in context, else "ip:{first
// X-Forwarded-For hop}", else "ip:{peer address}".
func ClientIdentity(r *http.Request) string {
	if c := ClaimsFromContext(r.Context()); c != nil {
		if sub := c.Subject(); sub != "" {
			return "user:" + sub
		}
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
