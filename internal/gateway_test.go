package tollgate

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestClaimsSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		claims Claims
		want   string
	}{
		{name: "string sub", claims: Claims{"sub": "user-1"}, want: "user-1"},
		{name: "missing sub", claims: Claims{"iss": "tollgate"}, want: ""},
		{name: "non-string sub", claims: Claims{"sub": 42}, want: ""},
		{name: "nil claims", claims: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.claims.Subject(); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextWithRequestID_RequestIDFromContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
	}{
		{name: "non-empty", id: "req-abc-123"},
		{name: "empty string", id: ""},
		{name: "uuid-like", id: "018f1b2c-3d4e-7a5b-8c9d-0e1f2a3b4c5d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := ContextWithRequestID(context.Background(), tt.id)
			got := RequestIDFromContext(ctx)
			if got != tt.id {
				t.Errorf("RequestIDFromContext = %q, want %q", got, tt.id)
			}
		})
	}

	t.Run("missing from context", func(t *testing.T) {
		t.Parallel()
		got := RequestIDFromContext(context.Background())
		if got != "" {
			t.Errorf("RequestIDFromContext on bare ctx = %q, want empty", got)
		}
	})
}

func TestContextWithClaims_ClaimsFromContext(t *testing.T) {
	t.Parallel()

	t.Run("set on bare context", func(t *testing.T) {
		t.Parallel()
		c := Claims{"sub": "user-1", "iss": "tollgate"}
		ctx := ContextWithClaims(context.Background(), c)
		got := ClaimsFromContext(ctx)
		if got.Subject() != "user-1" {
			t.Errorf("ClaimsFromContext subject = %q, want user-1", got.Subject())
		}
	})

	t.Run("mutates existing meta", func(t *testing.T) {
		t.Parallel()
		// Simulate middleware: requestID set first, claims added later.
		ctx := ContextWithRequestID(context.Background(), "req-xyz")
		c := Claims{"sub": "svc-1"}
		ctx2 := ContextWithClaims(ctx, c)
		// Same context pointer (no new WithValue).
		if ctx2 != ctx {
			t.Error("ContextWithClaims should return same ctx when meta already present")
		}
		if got := ClaimsFromContext(ctx2); got.Subject() != "svc-1" {
			t.Errorf("ClaimsFromContext subject = %q, want svc-1", got.Subject())
		}
		// Request ID must still be intact.
		if got := RequestIDFromContext(ctx2); got != "req-xyz" {
			t.Errorf("RequestIDFromContext after ContextWithClaims = %q, want req-xyz", got)
		}
	})

	t.Run("missing from context", func(t *testing.T) {
		t.Parallel()
		if got := ClaimsFromContext(context.Background()); got != nil {
			t.Errorf("ClaimsFromContext on bare ctx = %v, want nil", got)
		}
	})
}

func TestClientIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		claims Claims
		xff    string
		remote string
		want   string
	}{
		{name: "authenticated user", claims: Claims{"sub": "alice"}, remote: "10.0.0.1:4312", want: "user:alice"},
		{name: "claims without sub fall back to ip", claims: Claims{"iss": "x"}, remote: "10.0.0.1:4312", want: "ip:10.0.0.1"},
		{name: "first forwarded hop", xff: "203.0.113.7, 70.41.3.18", remote: "10.0.0.1:4312", want: "ip:203.0.113.7"},
		{name: "forwarded hop trimmed", xff: "  203.0.113.7  ", remote: "10.0.0.1:4312", want: "ip:203.0.113.7"},
		{name: "peer address", remote: "192.0.2.9:55123", want: "ip:192.0.2.9"},
		{name: "peer address without port", remote: "192.0.2.9", want: "ip:192.0.2.9"},
		{name: "claims win over forwarded header", claims: Claims{"sub": "bob"}, xff: "203.0.113.7", remote: "10.0.0.1:1", want: "user:bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "/api/data", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.claims != nil {
				r = r.WithContext(ContextWithClaims(r.Context(), tt.claims))
			}
			if got := ClientIdentity(r); got != tt.want {
				t.Errorf("ClientIdentity = %q, want %q", got, tt.want)
			}
		})
	}
}
