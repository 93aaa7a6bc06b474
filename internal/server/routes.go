package server

import (
	"github.com/nfrund/orgchat/internal/handlers"
	"github.com/nfrund/orgchat/internal/middleware"
)

// messageRateLimit is the per-user budget for REST sends, in requests per second.
const messageRateLimit = 10

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	groupHandler := handlers.NewGroupHandler(s.Chat)
	messageHandler := handlers.NewMessageHandler(s.Chat)
	userHandler := handlers.NewUserHandler(s.users)

	s.E.GET("/health", handlers.Health)
	s.E.GET("/metrics", s.Metrics.Handler())
	s.E.GET("/ws", s.Bridge.Handler())

	api := s.E.Group("", middleware.Auth(s.authn))

	api.GET("/auth/me", userHandler.Me)

	api.GET("/groups", groupHandler.List)
	api.POST("/groups", groupHandler.Create)
	api.GET("/groups/:groupId", groupHandler.Get)
	api.DELETE("/groups/:groupId", groupHandler.Delete)
	api.POST("/groups/:groupId/members", groupHandler.AddMember)
	api.DELETE("/groups/:groupId/members/:userId", groupHandler.RemoveMember)
	api.GET("/groups/:groupId/online", groupHandler.Online)

	api.GET("/groups/:groupId/messages", messageHandler.List)
	api.POST("/groups/:groupId/messages", messageHandler.Create, middleware.RateLimiter(messageRateLimit))

	users := api.Group("/users", middleware.RequireAdmin)
	users.GET("", userHandler.List)
	users.POST("", userHandler.Invite)
	users.DELETE("/:userId", userHandler.Delete)
}
