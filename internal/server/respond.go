package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	tollgate "github.com/gatelabs/tollgate/internal"
)

// detail is the error body shape for every gateway-generated response.
type detail struct {
	Detail string `json:"detail"`
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, tollgate.ErrMissingAuth),
		errors.Is(err, tollgate.ErrTokenExpired),
		errors.Is(err, tollgate.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, tollgate.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, tollgate.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
