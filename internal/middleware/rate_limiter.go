package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/orgchat/internal/domain"
	"golang.org/x/time/rate"
)

var errTooManyRequests = echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests. Please try again later.")

// RateLimiter allows perSecond requests per second, with an equal burst, per
// authenticated user. Unauthenticated requests are keyed by client IP.
func RateLimiter(perSecond float64) echo.MiddlewareFunc {
	config := middleware.RateLimiterConfig{
		// NewRateLimiterMemoryStore is a simple in-memory store suitable for single-instance deployments.
		Store: middleware.NewRateLimiterMemoryStore(rate.Limit(perSecond)),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if id, ok := IdentityFrom(c); ok {
				return "user:" + id.UserID, nil
			}
			return "ip:" + c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return domain.Errorf(domain.ErrValidation, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return errTooManyRequests
		},
	}
	return middleware.RateLimiterWithConfig(config)
}
