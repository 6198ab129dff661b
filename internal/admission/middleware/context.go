package middleware

import (
	"context"

	identity "bookmarks/internal/identity/models"
	id "bookmarks/pkg/domain"
)

type (
	principalKey struct{}
	identityKey  struct{}
)

// WithPrincipal stores the admitted principal.
func WithPrincipal(ctx context.Context, p id.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// WithIdentity stores the identity snapshot of the admitted principal.
func WithIdentity(ctx context.Context, e *identity.Entry) context.Context {
	return context.WithValue(ctx, identityKey{}, e)
}

// PrincipalFrom returns the admitted principal.
func PrincipalFrom(ctx context.Context) (id.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(id.Principal)
	return p, ok
}

// IdentityFrom returns the identity snapshot the request was admitted with.
func IdentityFrom(ctx context.Context) (*identity.Entry, bool) {
	e, ok := ctx.Value(identityKey{}).(*identity.Entry)
	return e, ok && e != nil
}
