package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/nfrund/orgchat/internal/auth"
	"github.com/nfrund/orgchat/internal/domain"
)

// IdentityContextKey is where Auth stores the caller's domain.Identity.
const IdentityContextKey = "identity"

// Auth creates a middleware that protects routes that require authentication.
// The bearer credential is verified on every request; nothing is cached.
func Auth(authn domain.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return domain.Errorf(domain.ErrUnauthenticated, "authentication required")
			}

			id, err := authn.Authenticate(c.Request().Context(), token)
			if err != nil {
				return err
			}

			c.Set(IdentityContextKey, id)
			ctx := WithLogger(c.Request().Context(), FromContext(c.Request().Context()).With("user_id", id.UserID, "org_id", id.OrgID))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireAdmin rejects callers without the ADMIN role. It must run after Auth.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := IdentityFrom(c)
		if !ok {
			return domain.Errorf(domain.ErrUnauthenticated, "authentication required")
		}
		if !id.IsAdmin() {
			return domain.Errorf(domain.ErrForbidden, "admin access required")
		}
		return next(c)
	}
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c echo.Context) (domain.Identity, bool) {
	id, ok := c.Get(IdentityContextKey).(domain.Identity)
	return id, ok
}
