package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the capability tier of a user.
type Role string

const (
	RoleRootAdmin Role = "root_admin"
	RoleAdmin     Role = "admin"
	RoleUser      Role = "user"
)

// ParseRole accepts the stored spelling of a role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleRootAdmin, RoleAdmin, RoleUser:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Status captures whether a user is active or suspended.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ErrInvalidEmail is returned for blank e-mail addresses.
var ErrInvalidEmail = errors.New("userstore: email required")

// User is an identity known to the credits service. ID is the same id the
// ledger keys balances by.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists users across SQLite/Postgres backends. Lookups return
// (nil, nil) when no user matches.
type Store interface {
	// EnsureUser returns the user with email, creating a plain user if needed.
	EnsureUser(ctx context.Context, email, displayName string) (*User, error)
	// EnsureRole creates or updates the user with email to hold role.
	EnsureRole(ctx context.Context, email string, role Role) (*User, error)
	EnsureRootAdmin(ctx context.Context, email string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	Ping(ctx context.Context) error
	Close() error
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// BootstrapAdmins writes the configured administrator addresses into the
// role table. The first address becomes root admin.
func BootstrapAdmins(ctx context.Context, store Store, emails []string) ([]User, error) {
	var out []User
	for _, email := range emails {
		email = NormalizeEmail(email)
		if email == "" {
			continue
		}
		var (
			u   *User
			err error
		)
		if len(out) == 0 {
			u, err = store.EnsureRootAdmin(ctx, email)
		} else {
			u, err = store.EnsureRole(ctx, email, RoleAdmin)
		}
		if err != nil {
			return out, fmt.Errorf("bootstrap admin %s: %w", email, err)
		}
		out = append(out, *u)
	}
	return out, nil
}
