// Package access authenticates API requests with bearer tokens.
//
// A Verifier turns a token into an Identity. The bearer middleware rejects every
// request without a verifiable token with http.StatusUnauthorized and stores the
// identity of accepted requests in the request context.
package access

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned by verifiers for tokens which are not acceptable
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the verified identity of a requester
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Verifier verifies a bearer token. A nil identity or an error means the token
// is rejected.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// VerifierFunc is an adapter to use ordinary functions as Verifier
type VerifierFunc func(ctx context.Context, token string) (*Identity, error)

// Verify calls f(ctx, token)
func (f VerifierFunc) Verify(ctx context.Context, token string) (*Identity, error) {
	return f(ctx, token)
}

type contextKeyIdentityType struct{}

var contextKeyIdentity = &contextKeyIdentityType{}

// ContextWithIdentity returns a new context with the identity added
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext returns the identity of the requester or nil
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextKeyIdentity).(*Identity)
	return identity
}
