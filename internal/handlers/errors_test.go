package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"not found", domain.Errorf(domain.ErrNotFound, "group not found"), http.StatusNotFound, domain.CodeNotFound, "group not found"},
		{"forbidden", domain.Errorf(domain.ErrForbidden, "not a member"), http.StatusForbidden, domain.CodeForbidden, "not a member"},
		{"validation", domain.Errorf(domain.ErrValidation, "content is required"), http.StatusBadRequest, domain.CodeValidation, "content is required"},
		{"conflict", domain.Errorf(domain.ErrConflict, "duplicate"), http.StatusConflict, domain.CodeConflict, "duplicate"},
		{"unauthenticated", domain.Errorf(domain.ErrUnauthenticated, "token expired"), http.StatusUnauthorized, domain.CodeUnauthenticated, "token expired"},
		{"internal hides cause", domain.Wrap(domain.ErrInternal, errors.New("disk on fire"), "failed to store message"), http.StatusInternalServerError, domain.CodeInternal, "failed to store message"},
		{"echo not found", echo.ErrNotFound, http.StatusNotFound, domain.CodeNotFound, "Not Found"},
		{"rate limited", echo.NewHTTPError(http.StatusTooManyRequests, "slow down"), http.StatusTooManyRequests, "rate_limited", "slow down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.HTTPErrorHandler = HTTPErrorHandler
			e.GET("/", func(c echo.Context) error { return tt.err })

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			require.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}

func TestHTTPErrorHandler_UnhandledLogsStackTrace(t *testing.T) {
	var logBuffer bytes.Buffer
	originalLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logBuffer, nil)))
	defer slog.SetDefault(originalLogger)

	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("a deliberate unhandled error occurred")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Error.Message, "the cause must not leak")

	logOutput := logBuffer.String()
	assert.Contains(t, logOutput, "Internal Server Error (Unhandled)")
	assert.Contains(t, logOutput, `error="a deliberate unhandled error occurred"`)
	assert.Contains(t, logOutput, "stack_trace=")
	assert.Contains(t, logOutput, "runtime/debug/stack.go")
}
