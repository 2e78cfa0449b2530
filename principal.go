package ingest

import (
	"context"

	"github.com/xraph/ingest/id"
)

// Role is the capability level of an acting principal. Authentication and
// role assignment live outside this module; the role arrives here as an
// opaque capability attached to the principal.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Elevated reports whether the role may manage jobs beyond its own.
func (r Role) Elevated() bool {
	return r == RoleEditor || r == RoleAdmin
}

// Principal is the identity on whose behalf a job operation runs.
type Principal struct {
	ID   id.PrincipalID `json:"id"`
	Role Role           `json:"role"`
}

type principalKey struct{}

// WithPrincipal returns a context carrying the acting principal.
// The boundary layer (routing/authentication) calls this; everything in
// this module only reads it back.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the acting principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
