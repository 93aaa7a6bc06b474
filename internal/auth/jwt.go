package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nfrund/orgchat/internal/domain"
)

// Claims is the session token payload: who the bearer is and which
// organization they act in.
type Claims struct {
	jwt.RegisteredClaims
	UserID string      `json:"userId"`
	OrgID  string      `json:"orgId"`
	Role   domain.Role `json:"role"`
}

// Issuer mints HS256 session tokens. It is used by the CLI and by tests; end
// user login lives outside this service.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer signing with secret.
func NewIssuer(secret []byte, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
}

// WithClock returns a copy of the issuer that stamps tokens using now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	c := *i
	c.now = now
	return &c
}

// Issue returns a signed token for user.
func (i *Issuer) Issue(user domain.User) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID: user.ID,
		OrgID:  user.OrgID,
		Role:   user.Role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// JWTAuthenticator verifies session tokens and resolves them against the
// user store, so a deleted user or a user moved out of the org is rejected
// even while their token is still unexpired.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	users  domain.UserRepository
	logger *slog.Logger
}

var _ domain.Authenticator = (*JWTAuthenticator)(nil)

// NewJWTAuthenticator creates an authenticator for tokens signed with secret.
func NewJWTAuthenticator(secret []byte, issuer string, users domain.UserRepository) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: secret,
		issuer: issuer,
		users:  users,
		logger: slog.Default().With("component", "auth"),
	}
}

// Authenticate implements domain.Authenticator.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	if credential == "" {
		return domain.Identity{}, domain.Errorf(domain.ErrUnauthenticated, "authentication required")
	}

	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, domain.Wrap(domain.ErrUnauthenticated, err, "token expired")
		}
		return domain.Identity{}, domain.Wrap(domain.ErrUnauthenticated, err, "invalid token")
	}
	if claims.UserID == "" || claims.OrgID == "" {
		return domain.Identity{}, domain.Errorf(domain.ErrUnauthenticated, "invalid token")
	}

	user, err := a.users.GetUserInOrg(ctx, claims.OrgID, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Identity{}, domain.Errorf(domain.ErrUnauthenticated, "user not found")
		}
		a.logger.Error("failed to load user for token", "user_id", claims.UserID, "error", err)
		return domain.Identity{}, domain.Wrap(domain.ErrInternal, err, "failed to authenticate")
	}

	identity := domain.Identity{
		UserID: user.ID,
		OrgID:  user.OrgID,
		Email:  user.Email,
		// The stored role wins over the claim so demotions apply to new
		// connections immediately.
		Role: user.Role,
	}
	if org, err := a.users.GetOrganization(ctx, user.OrgID); err == nil {
		identity.OrgName = org.Name
	}
	return identity, nil
}
