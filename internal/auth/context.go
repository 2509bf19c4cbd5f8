package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller of a local API request.
type Identity struct {
	TenantID string
	Subject  string
	Role     Role
}

// WithIdentity stores the caller in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller stored by the middleware, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
