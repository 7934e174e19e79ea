package auth

import "context"

// Principal is the caller admitted by the guard. Public is set when the route
// was exempt and no credential was examined.
type Principal struct {
	Subject string
	Claims  *Claims
	Token   *Token
	Public  bool
}

// Authenticated reports whether the principal was established from a credential.
func (p Principal) Authenticated() bool {
	return !p.Public && p.Subject != ""
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
