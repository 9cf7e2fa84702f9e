package auth

import "context"

type ctxKey struct{}

// SystemIdentity is used for invocations the server makes on its own
// behalf, such as the worker status probe.
var SystemIdentity = Identity{Username: "system"}

// WithIdentity returns a child context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
