package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/nfrund/orgchat/internal/auth"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/stretchr/testify/require"
)

// Tenant is an organization with one admin, one member and a "general" group
// created by the admin.
type Tenant struct {
	Org    *domain.Organization
	Admin  *domain.User
	Member *domain.User
	Group  *domain.Group
}

// Repos is the store surface the fixtures need.
type Repos interface {
	domain.UserRepository
	domain.GroupRepository
}

// SeedTenant creates a Tenant named name.
func SeedTenant(t *testing.T, repos Repos, name string) Tenant {
	t.Helper()
	ctx := context.Background()

	org, err := repos.CreateOrganization(ctx, name)
	require.NoError(t, err)
	admin, err := repos.CreateUser(ctx, org.ID, "admin@"+name+".test", domain.RoleAdmin)
	require.NoError(t, err)
	member, err := repos.CreateUser(ctx, org.ID, "member@"+name+".test", domain.RoleMember)
	require.NoError(t, err)
	group, err := repos.CreateGroup(ctx, org.ID, "general", admin.ID)
	require.NoError(t, err)

	return Tenant{Org: org, Admin: admin, Member: member, Group: group}
}

// IdentityOf is the identity a valid token for u resolves to.
func IdentityOf(u *domain.User, org *domain.Organization) domain.Identity {
	return domain.Identity{UserID: u.ID, OrgID: u.OrgID, Email: u.Email, Role: u.Role, OrgName: org.Name}
}

// Issuer mints tokens signed with TestJWTSecret.
func Issuer() *auth.Issuer {
	return auth.NewIssuer([]byte(TestJWTSecret), "orgchat", time.Hour)
}

// Token mints a bearer token for u.
func Token(t *testing.T, u *domain.User) string {
	t.Helper()
	token, err := Issuer().Issue(*u)
	require.NoError(t, err)
	return token
}
