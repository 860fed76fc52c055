package auth

import (
	"context"
)

// contextKey scopes this package's context values.
type contextKey string

// contextKeyPrincipal is the context key for the caller's principal.
const contextKeyPrincipal contextKey = "principal"

// WithPrincipal adds the caller's principal to the context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, principal)
}

// PrincipalFromContext retrieves the caller's principal from the
// context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	return p, ok
}
