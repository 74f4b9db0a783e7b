package identity

import (
	"context"
	"fmt"
	"strings"
)

// TokenVerifier turns a bearer token into the uid it was issued for.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (string, error)
}

// Resolver verifies tokens and attaches the role from the profile record.
type Resolver struct {
	verifier TokenVerifier
	profiles *ProfileStore
}

func NewResolver(verifier TokenVerifier, profiles *ProfileStore) *Resolver {
	return &Resolver{verifier: verifier, profiles: profiles}
}

// Resolve accepts a raw Authorization header value or a bare token.
// Users without a profile record are customers.
func (r *Resolver) Resolve(ctx context.Context, authorization string) (Identity, error) {
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(authorization), "Bearer "))
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	uid, err := r.verifier.VerifyIDToken(ctx, token)
	if err != nil || uid == "" {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	p, err := r.profiles.Get(ctx, uid)
	if err != nil {
		return Identity{}, err
	}
	if p == nil {
		return Identity{UID: uid, Role: RoleCustomer}, nil
	}
	role := p.Role
	if role == "" {
		role = RoleCustomer
	}
	return Identity{UID: uid, Role: role, Name: p.Name, Email: p.Email}, nil
}
