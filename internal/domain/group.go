package domain

import (
	"context"
	"time"
)

// Group is a named conversation ("channel") scoped to one organization.
type Group struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"orgId"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member is a membership row joined with the member's summary.
type Member struct {
	GroupID  string        `json:"groupId"`
	UserID   string        `json:"userId"`
	JoinedAt time.Time     `json:"joinedAt"`
	User     SenderSummary `json:"user"`
}

// GroupDetail is a group with its member list as returned by the admin API.
type GroupDetail struct {
	Group
	Members     []Member `json:"members"`
	MemberCount int      `json:"memberCount"`
	IsMember    bool     `json:"isMember"`
}

// GroupRepository owns groups and the membership relation.
type GroupRepository interface {
	// CreateGroup inserts the group and auto-adds the creator as a member
	// in the same transaction.
	CreateGroup(ctx context.Context, orgID, name, createdBy string) (*Group, error)
	GetGroup(ctx context.Context, orgID, groupID string) (*Group, error)
	ListGroups(ctx context.Context, orgID string) ([]Group, error)
	ListGroupsForUser(ctx context.Context, orgID, userID string) ([]Group, error)
	DeleteGroup(ctx context.Context, orgID, groupID string) error

	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	ListMembers(ctx context.Context, groupID string) ([]Member, error)

	// GroupBelongsToOrg and IsMember are uncached reads against durable state.
	GroupBelongsToOrg(ctx context.Context, groupID, orgID string) (bool, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}
