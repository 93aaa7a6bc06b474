package handlers

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/nfrund/orgchat/internal/middleware"
)

// StatusFor maps a classified error to its HTTP status.
func StatusFor(err error) int {
	switch domain.Code(err) {
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorHandler renders every error as {"error":{"code","message"}}.
// echo.HTTPErrors (routing, rate limiting, binding) keep their status code;
// domain errors are mapped through StatusFor. Unclassified errors are logged
// with a stack trace and never leak their text.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	logger := middleware.FromContext(c.Request().Context())

	var (
		status int
		body   ErrorResponse
		he     *echo.HTTPError
		de     *domain.Error
	)
	switch {
	case errors.As(err, &de):
		status = StatusFor(err)
		body = NewErrorResponse(err)
		if status == http.StatusInternalServerError {
			logger.Error("Internal Server Error", "error", err, "path", c.Path())
		}
	case errors.As(err, &he):
		status = he.Code
		body = ErrorResponse{Error: ErrorBody{Code: codeForStatus(he.Code), Message: http.StatusText(he.Code)}}
		if msg, ok := he.Message.(string); ok && msg != "" {
			body.Error.Message = msg
		}
		if status >= http.StatusInternalServerError {
			logger.Error("HTTP error", "error", err, "status", status, "path", c.Path())
		}
	default:
		status = http.StatusInternalServerError
		body = NewErrorResponse(err)
		logger.Error("Internal Server Error (Unhandled)",
			"error", err.Error(),
			"path", c.Path(),
			"stack_trace", string(debug.Stack()),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		logger.Error("Failed to write error response", "error", err)
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return domain.CodeUnauthenticated
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return domain.CodeNotFound
	case http.StatusForbidden:
		return domain.CodeForbidden
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return domain.CodeValidation
	case http.StatusConflict:
		return domain.CodeConflict
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return domain.CodeInternal
	}
}
