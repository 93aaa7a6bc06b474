package handlers

import (
	"time"

	"github.com/nfrund/orgchat/internal/domain"
)

// ErrorBody is the code and message of a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse renders err with its wire code and client-safe message.
func NewErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: domain.Code(err), Message: domain.PublicMessage(err)}}
}

// Pagination describes the continuation state of a history page.
type Pagination struct {
	HasMore    bool    `json:"hasMore"`
	NextCursor *string `json:"nextCursor"`
	Limit      int     `json:"limit"`
}

// MessagesResponse is the DTO for GET /groups/:groupId/messages.
type MessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// NewMessagesResponse maps a domain page to its response DTO.
func NewMessagesResponse(page *domain.Page) MessagesResponse {
	return MessagesResponse{
		Messages: page.Messages,
		Pagination: Pagination{
			HasMore:    page.HasMore,
			NextCursor: page.NextCursor,
			Limit:      page.Limit,
		},
	}
}

// MessageResponse wraps a single stored message.
type MessageResponse struct {
	Message *domain.Message `json:"message"`
}

// GroupResponse wraps a single group with its members.
type GroupResponse struct {
	Group *domain.GroupDetail `json:"group"`
}

// GroupsResponse wraps a list of groups.
type GroupsResponse struct {
	Groups []domain.GroupDetail `json:"groups"`
}

// OnlineResponse lists the users present in a group's room.
type OnlineResponse struct {
	GroupID string   `json:"groupId"`
	UserIDs []string `json:"userIds"`
}

// UserResponse wraps a single user.
type UserResponse struct {
	User *domain.User `json:"user"`
}

// UsersResponse wraps the organization's users.
type UsersResponse struct {
	Users []domain.User `json:"users"`
}

// MeResponse is the caller's identity.
type MeResponse struct {
	User domain.Identity `json:"user"`
}

// HealthResponse is the DTO for GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
