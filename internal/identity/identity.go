// Package identity resolves who is calling and what they may do.
package identity

import "errors"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Identity is passed explicitly into every cart and checkout call.
type Identity struct {
	UID   string
	Role  Role
	Name  string
	Email string
}

func (i Identity) Authenticated() bool { return i.UID != "" }

// RequireCustomer rejects missing identities and non-customer roles.
func RequireCustomer(i Identity) error {
	if !i.Authenticated() {
		return ErrUnauthenticated
	}
	if i.Role != RoleCustomer {
		return ErrForbidden
	}
	return nil
}

func RequireAdmin(i Identity) error {
	if !i.Authenticated() {
		return ErrUnauthenticated
	}
	if i.Role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}
