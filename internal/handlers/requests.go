package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/orgchat/internal/domain"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface. Failures are reported as
// domain validation errors naming the first offending field.
func (cv *CustomValidator) Validate(i interface{}) error {
	err := cv.validator.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return domain.Errorf(domain.ErrValidation, "%s", describe(fe))
	}
	return domain.Wrap(domain.ErrValidation, err, "invalid request")
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// CreateGroupRequest defines the DTO for POST /groups.
type CreateGroupRequest struct {
	Name string `json:"name" validate:"required,max=400"`
}

// AddMemberRequest defines the DTO for POST /groups/:groupId/members.
type AddMemberRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// SendMessageRequest defines the DTO for POST /groups/:groupId/messages.
// Content limits are enforced after normalization by the chat service.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// InviteUserRequest defines the DTO for POST /users.
type InviteUserRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Role  string `json:"role" validate:"omitempty,oneof=ADMIN MEMBER"`
}

// PageQuery binds the pagination query parameters.
type PageQuery struct {
	Limit  int    `query:"limit"`
	Cursor string `query:"cursor"`
}
