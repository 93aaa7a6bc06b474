package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/orgchat/internal/chat"
)

// GroupHandler serves group administration and presence reads.
type GroupHandler struct {
	svc *chat.Service
}

// NewGroupHandler creates a new GroupHandler.
func NewGroupHandler(svc *chat.Service) *GroupHandler {
	return &GroupHandler{svc: svc}
}

// Create handles POST /groups.
func (h *GroupHandler) Create(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req CreateGroupRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	g, err := h.svc.CreateGroup(c.Request().Context(), id, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, GroupResponse{Group: g})
}

// List handles GET /groups.
func (h *GroupHandler) List(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	groups, err := h.svc.ListGroups(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GroupsResponse{Groups: groups})
}

// Get handles GET /groups/:groupId.
func (h *GroupHandler) Get(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	g, err := h.svc.GetGroup(c.Request().Context(), id, c.Param("groupId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GroupResponse{Group: g})
}

// Delete handles DELETE /groups/:groupId.
func (h *GroupHandler) Delete(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteGroup(c.Request().Context(), id, c.Param("groupId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// AddMember handles POST /groups/:groupId/members.
func (h *GroupHandler) AddMember(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req AddMemberRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	g, err := h.svc.AddMember(c.Request().Context(), id, c.Param("groupId"), req.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, GroupResponse{Group: g})
}

// RemoveMember handles DELETE /groups/:groupId/members/:userId.
func (h *GroupHandler) RemoveMember(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if err := h.svc.RemoveMember(c.Request().Context(), id, c.Param("groupId"), c.Param("userId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Online handles GET /groups/:groupId/online.
func (h *GroupHandler) Online(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	groupID := c.Param("groupId")
	users, err := h.svc.Online(c.Request().Context(), id, groupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, OnlineResponse{GroupID: groupID, UserIDs: users})
}
