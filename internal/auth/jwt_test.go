package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubUsers implements the lookups the authenticator needs.
type stubUsers struct {
	domain.UserRepository
	users map[string]domain.User
	orgs  map[string]domain.Organization
	err   error
}

func (s *stubUsers) GetUserInOrg(_ context.Context, orgID, userID string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[userID]
	if !ok || u.OrgID != orgID {
		return nil, domain.Errorf(domain.ErrNotFound, "user not found")
	}
	return &u, nil
}

func (s *stubUsers) GetOrganization(_ context.Context, orgID string) (*domain.Organization, error) {
	o, ok := s.orgs[orgID]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "organization not found")
	}
	return &o, nil
}

var testSecret = []byte("test-secret")

func newStub() *stubUsers {
	return &stubUsers{
		users: map[string]domain.User{
			"u1": {ID: "u1", OrgID: "o1", Email: "a@example.com", Role: domain.RoleAdmin},
		},
		orgs: map[string]domain.Organization{"o1": {ID: "o1", Name: "Acme"}},
	}
}

func TestJWTAuthenticator(t *testing.T) {
	ctx := context.Background()
	users := newStub()
	issuer := NewIssuer(testSecret, "orgchat", time.Hour)
	authn := NewJWTAuthenticator(testSecret, "orgchat", users)

	t.Run("valid token resolves identity", func(t *testing.T) {
		token, err := issuer.Issue(users.users["u1"])
		require.NoError(t, err)

		id, err := authn.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, domain.Identity{UserID: "u1", OrgID: "o1", Email: "a@example.com", Role: domain.RoleAdmin, OrgName: "Acme"}, id)
		assert.True(t, id.IsAdmin())
	})

	t.Run("empty credential", func(t *testing.T) {
		_, err := authn.Authenticate(ctx, "")
		assert.True(t, errors.Is(err, domain.ErrUnauthenticated))
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := authn.Authenticate(ctx, "not.a.jwt")
		assert.True(t, errors.Is(err, domain.ErrUnauthenticated))
	})

	t.Run("expired token", func(t *testing.T) {
		old := NewIssuer(testSecret, "orgchat", time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := old.Issue(users.users["u1"])
		require.NoError(t, err)

		_, err = authn.Authenticate(ctx, token)
		assert.True(t, errors.Is(err, domain.ErrUnauthenticated))
		assert.Equal(t, "token expired", domain.PublicMessage(err))
	})

	t.Run("wrong signing key", func(t *testing.T) {
		token, err := NewIssuer([]byte("other"), "orgchat", time.Hour).Issue(users.users["u1"])
		require.NoError(t, err)
		_, err = authn.Authenticate(ctx, token)
		assert.True(t, errors.Is(err, domain.ErrUnauthenticated))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewIssuer(testSecret, "someone-else", time.Hour).Issue(users.users["u1"])
		require.NoError(t, err)
		_, err = authn.Authenticate(ctx, token)
		assert.True(t, errors.Is(err, domain.ErrUnauthenticated))
	})

	t.Run("none algorithm is rejected", func(t *testing.T) {
		claims := Claims{UserID: "u1", OrgID: "o1", RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "orgchat", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = authn.Authenticate(ctx, token)
		assert.True(t, errors.Is(err, domain.ErrUnauthenticated))
	})

	t.Run("user from another org", func(t *testing.T) {
		token, err := issuer.Issue(domain.User{ID: "u1", OrgID: "o2", Role: domain.RoleMember})
		require.NoError(t, err)
		_, err = authn.Authenticate(ctx, token)
		assert.True(t, errors.Is(err, domain.ErrUnauthenticated))
	})

	t.Run("store failure is internal", func(t *testing.T) {
		broken := newStub()
		broken.err = errors.New("db down")
		token, err := issuer.Issue(users.users["u1"])
		require.NoError(t, err)

		_, err = NewJWTAuthenticator(testSecret, "orgchat", broken).Authenticate(ctx, token)
		assert.True(t, errors.Is(err, domain.ErrInternal))
	})
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
	assert.Equal(t, "", BearerToken("Bearer"))
}
