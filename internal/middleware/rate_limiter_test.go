package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	e := echo.New()
	limit := 5

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	}
	withUser := func(userID string) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				if userID != "" {
					c.Set(IdentityContextKey, domain.Identity{UserID: userID})
				}
				return next(c)
			}
		}
	}
	limiter := RateLimiter(float64(limit))
	e.GET("/anon", handler, limiter)
	e.GET("/u1", handler, withUser("u1"), limiter)
	e.GET("/u2", handler, withUser("u2"), limiter)

	do := func(path, ip string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("blocks requests exceeding the limit per ip", func(t *testing.T) {
		for i := 0; i < limit; i++ {
			require.Equal(t, http.StatusOK, do("/anon", "192.0.2.2:1234"), "request %d should be allowed", i+1)
		}
		assert.Equal(t, http.StatusTooManyRequests, do("/anon", "192.0.2.2:1234"))
		assert.Equal(t, http.StatusOK, do("/anon", "192.0.2.3:1234"), "other clients are unaffected")
	})

	t.Run("authenticated users are limited individually", func(t *testing.T) {
		for i := 0; i < limit; i++ {
			require.Equal(t, http.StatusOK, do("/u1", "192.0.2.9:1"))
		}
		assert.Equal(t, http.StatusTooManyRequests, do("/u1", "192.0.2.9:1"))
		assert.Equal(t, http.StatusOK, do("/u2", "192.0.2.9:1"), "same ip, different user")
	})
}
