package tollgate

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrMissingAuth  = errors.New("missing or invalid authorization header")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnavailable  = errors.New("store unavailable")
)
