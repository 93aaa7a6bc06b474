package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/orgchat/internal/auth"
	"github.com/nfrund/orgchat/internal/chat"
	"github.com/nfrund/orgchat/internal/config"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/nfrund/orgchat/internal/handlers"
	"github.com/nfrund/orgchat/internal/hub"
	"github.com/nfrund/orgchat/internal/metrics"
	appmiddleware "github.com/nfrund/orgchat/internal/middleware"
	"github.com/nfrund/orgchat/internal/presence"
	"github.com/nfrund/orgchat/internal/pubsub"
	"github.com/nfrund/orgchat/internal/websocket"
)

// Store is the durable surface the server is built on.
type Store interface {
	domain.UserRepository
	domain.GroupRepository
	domain.MessageStore
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E       *echo.Echo
	Cfg     config.Provider
	Chat    *chat.Service
	Bridge  *websocket.Bridge
	Metrics *metrics.Metrics

	authn    domain.Authenticator
	users    domain.UserRepository
	presence *presence.Tracker
	stop     context.CancelFunc
}

// New wires the chat core, the live bridge and the HTTP surface on top of
// store and bus, and starts consuming room events. The caller owns store and
// bus and closes them after Shutdown.
func New(cfg config.Provider, store Store, bus pubsub.Bus) (*Server, error) {
	authn := auth.NewJWTAuthenticator(cfg.GetJWTSecret(), cfg.GetJWTIssuer(), store)
	m := metrics.New()
	tracker := presence.NewTracker()

	svc := chat.NewService(chat.Deps{
		Auth:     authn,
		Users:    store,
		Groups:   store,
		Messages: store,
		Router:   hub.NewRouter(),
		Presence: tracker,
		Bus:      bus,
	}, chat.WithSendTimeout(cfg.GetSendTimeout()), chat.WithObserver(m))

	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("start chat service: %w", err)
	}

	bridge := websocket.NewBridge(svc, websocket.Options{
		AuthTimeout:    cfg.GetWSAuthTimeout(),
		SendBuffer:     cfg.GetWSSendBuffer(),
		AllowedOrigins: cfg.GetWSAllowedOrigins(),
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	setupErrorHandling(e)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)
	e.Use(requestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.GetFrontendURL()},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
	}))
	e.Use(m.Middleware())

	s := &Server{
		E:        e,
		Cfg:      cfg,
		Chat:     svc,
		Bridge:   bridge,
		Metrics:  m,
		authn:    authn,
		users:    store,
		presence: tracker,
		stop:     cancel,
	}
	s.RegisterRoutes()
	return s, nil
}

// Presence is a getter for the server's presence tracker, useful for testing.
func (s *Server) Presence() *presence.Tracker {
	return s.presence
}

// setupErrorHandling installs the JSON error renderer.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = handlers.HTTPErrorHandler
}

// requestLogger logs one line per request through the request-scoped logger.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger := appmiddleware.FromContext(c.Request().Context())
			level := slog.LevelInfo
			if v.Error != nil || v.Status >= 500 {
				level = slog.LevelError
			}
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			logger.Log(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}
