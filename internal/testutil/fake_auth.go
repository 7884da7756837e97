// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"net/http"

	tollgate "github.com/gatelabs/tollgate/internal"
)

// FakeAuth always authenticates successfully.
type FakeAuth struct {
	Sub string // subject claim; defaults to "test"
}

// Authenticate returns claims carrying the configured subject.
func (f FakeAuth) Authenticate(context.Context, *http.Request) (tollgate.Claims, error) {
	sub := f.Sub
	if sub == "" {
		sub = "test"
	}
	return tollgate.Claims{"sub": sub}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct {
	Err error // defaults to tollgate.ErrMissingAuth
}

// Authenticate returns the configured error.
func (r RejectAuth) Authenticate(context.Context, *http.Request) (tollgate.Claims, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return nil, tollgate.ErrMissingAuth
}
