// internal/identity/identity.go

package identity

import (
	"context"
)

// Role describes what a caller is allowed to do platform-wide
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Identity is the verified caller identity resolved once at the transport
// boundary and passed explicitly through every subsequent call. Handlers and
// services never look at raw token claims.
type Identity struct {
	InternalID      int64
	ExternalSubject string
	DisplayName     string
	Roles           map[Role]bool
}

// HasRole reports whether the identity carries the given role
func (id *Identity) HasRole(role Role) bool {
	return id.Roles[role]
}

type contextKey struct{}

// NewContext returns a context carrying the identity
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the identity from a request context
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}
