package domain

import (
	"context"
	"time"
)

// Role is a user's privilege level inside their organization.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Organization is the top-level tenant boundary.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// User represents a member of exactly one organization.
type User struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"orgId"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity is what a verified credential resolves to. It is immutable for
// the lifetime of a live connection.
type Identity struct {
	UserID  string `json:"userId"`
	OrgID   string `json:"orgId"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
	OrgName string `json:"orgName,omitempty"`
}

// IsAdmin reports whether the identity carries elevated organization access.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Authenticator validates a bearer credential. Implementations return an
// error matching ErrUnauthenticated for expired, malformed or unknown tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// UserRepository defines the contract for user and organization storage.
type UserRepository interface {
	CreateOrganization(ctx context.Context, name string) (*Organization, error)
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)
	GetOrganizationByName(ctx context.Context, name string) (*Organization, error)
	CreateUser(ctx context.Context, orgID, email string, role Role) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserInOrg(ctx context.Context, orgID, userID string) (*User, error)
	ListUsers(ctx context.Context, orgID string) ([]User, error)
	DeleteUser(ctx context.Context, orgID, userID string) error
}
