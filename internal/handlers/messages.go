package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/orgchat/internal/chat"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/nfrund/orgchat/internal/middleware"
)

// MessageHandler serves a group's history and the REST send path.
type MessageHandler struct {
	svc *chat.Service
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// List handles GET /groups/:groupId/messages?limit=&cursor=.
func (h *MessageHandler) List(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	var q PageQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return domain.Errorf(domain.ErrValidation, "limit must be an integer")
	}

	page, err := h.svc.Page(c.Request().Context(), id, c.Param("groupId"), domain.PageRequest{
		Limit:  q.Limit,
		Cursor: q.Cursor,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewMessagesResponse(page))
}

// Create handles POST /groups/:groupId/messages. The stored message is
// broadcast to the group's live room exactly like a live send.
func (h *MessageHandler) Create(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}

	var req SendMessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	msg, err := h.svc.Send(c.Request().Context(), id, c.Param("groupId"), req.Content, chat.PathREST)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, MessageResponse{Message: msg})
}

// identity is a helper to retrieve the authenticated caller from the context.
func identity(c echo.Context) (domain.Identity, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return domain.Identity{}, domain.Errorf(domain.ErrUnauthenticated, "authentication required")
	}
	return id, nil
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return domain.Errorf(domain.ErrValidation, "invalid request format")
	}
	return c.Validate(req)
}
