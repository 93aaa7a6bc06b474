package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/nfrund/orgchat/internal/middleware"
)

// UserHandler serves organization user administration and the caller's
// identity. Admin checks are applied by the router.
type UserHandler struct {
	users domain.UserRepository
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users domain.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

// Me handles GET /auth/me.
func (h *UserHandler) Me(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MeResponse{User: id})
}

// List handles GET /users.
func (h *UserHandler) List(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	users, err := h.users.ListUsers(c.Request().Context(), id.OrgID)
	if err != nil {
		return err
	}
	if users == nil {
		users = []domain.User{}
	}
	return c.JSON(http.StatusOK, UsersResponse{Users: users})
}

// Invite handles POST /users. The role defaults to MEMBER.
func (h *UserHandler) Invite(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req InviteUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	role := domain.Role(req.Role)
	if role == "" {
		role = domain.RoleMember
	}

	user, err := h.users.CreateUser(c.Request().Context(), id.OrgID, req.Email, role)
	if err != nil {
		return err
	}
	middleware.FromContext(c.Request().Context()).Info("User invited", "invited_user_id", user.ID, "role", user.Role)
	return c.JSON(http.StatusCreated, UserResponse{User: user})
}

// Delete handles DELETE /users/:userId. Admins cannot remove themselves.
func (h *UserHandler) Delete(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	userID := c.Param("userId")
	if userID == id.UserID {
		return domain.Errorf(domain.ErrForbidden, "cannot remove yourself")
	}
	if err := h.users.DeleteUser(c.Request().Context(), id.OrgID, userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
