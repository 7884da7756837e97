// Package auth implements bearer-token authentication for the gateway.
// Tokens are verified against the shared signing secret and successful
// validations are cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maypok86/otter/v2"

	tollgate "github.com/gatelabs/tollgate/internal"
)

const (
	cacheTTL    = 30 * time.Second // short enough that secret rotation takes effect promptly
	cacheMaxLen = 10_000           // max concurrent active tokens expected per deployment
)

// Config carries the validation parameters for incoming tokens.
type Config struct {
	Secret    string
	Algorithm string // HS256, HS384 or HS512
	Audience  string // empty disables the aud check
	Issuer    string // empty disables the iss check
}

// cached is a validated token held between requests.
type cached struct {
	claims    tollgate.Claims
	expiresAt time.Time // zero when the token carries no exp
}

// JWT authenticates requests bearing HMAC-signed tokens. Verified claim sets
// are cached by token digest so repeat callers skip signature checks.
type JWT struct {
	secret []byte
	parser *jwt.Parser
	cache  *otter.Cache[string, cached]
}

// New returns a JWT authenticator for the given validation parameters.
func New(cfg Config) (*JWT, error) {
	if jwt.GetSigningMethod(cfg.Algorithm) == nil {
		return nil, fmt.Errorf("auth: unknown signing algorithm %q", cfg.Algorithm)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{cfg.Algorithm})}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	c, err := otter.New(&otter.Options[string, cached]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, cached](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &JWT{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
		cache:  c,
	}, nil
}

// Authenticate extracts a Bearer token from the Authorization header and
// verifies signature, expiry, audience, and issuer. Whitespace around the
// token is ignored. On success it returns the decoded claim set.
func (a *JWT) Authenticate(_ context.Context, r *http.Request) (tollgate.Claims, error) {
	h := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(h, "Bearer ")
	if raw == h {
		return nil, tollgate.ErrMissingAuth
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		// A bare "Bearer " header names the scheme but carries a blank token.
		return nil, tollgate.ErrTokenInvalid
	}

	sum := sha256.Sum256([]byte(raw))
	key := hex.EncodeToString(sum[:])

	// A cached validation may outlive the token's own exp; re-check on read.
	if entry, ok := a.cache.GetIfPresent(key); ok {
		if !entry.expiresAt.IsZero() && entry.expiresAt.Before(time.Now()) {
			a.cache.Invalidate(key)
			return nil, tollgate.ErrTokenExpired
		}
		return entry.claims, nil
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, tollgate.ErrTokenExpired
		}
		return nil, tollgate.ErrTokenInvalid
	}

	entry := cached{claims: tollgate.Claims(claims)}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		entry.expiresAt = exp.Time
	}
	a.cache.Set(key, entry)

	return entry.claims, nil
}
