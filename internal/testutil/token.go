package testutil

import (
	"github.com/golang-jwt/jwt/v5"
)

// MintToken signs an HS256 token with the given secret and claims. Panics on
// signing failure, which cannot happen with a well-formed claims map.
func MintToken(secret string, claims jwt.MapClaims) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}
