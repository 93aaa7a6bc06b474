// Package membership decides who may read, join and post in a group. Every
// check reads durable state; nothing is cached across calls.
package membership

import (
	"context"

	"github.com/nfrund/orgchat/internal/domain"
)

// Checker is the subset of the group repository the authority consults.
type Checker interface {
	GroupBelongsToOrg(ctx context.Context, groupID, orgID string) (bool, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Authority answers access questions for an authenticated identity.
type Authority struct {
	groups Checker
}

// NewAuthority creates an Authority backed by groups.
func NewAuthority(groups Checker) *Authority {
	return &Authority{groups: groups}
}

// CanRead allows members and org admins. A group from another organization
// is NotFound, never Forbidden.
func (a *Authority) CanRead(ctx context.Context, id domain.Identity, groupID string) error {
	return a.check(ctx, id, groupID, id.IsAdmin())
}

// CanJoin has the same rule as CanRead: admins get elevated access without
// an explicit membership row.
func (a *Authority) CanJoin(ctx context.Context, id domain.Identity, groupID string) error {
	return a.check(ctx, id, groupID, id.IsAdmin())
}

// CanAuthor requires an actual membership. Admin status does not help here.
func (a *Authority) CanAuthor(ctx context.Context, id domain.Identity, groupID string) error {
	return a.check(ctx, id, groupID, false)
}

// InOrg only checks that the group belongs to the caller's organization.
func (a *Authority) InOrg(ctx context.Context, id domain.Identity, groupID string) error {
	ok, err := a.groups.GroupBelongsToOrg(ctx, groupID, id.OrgID)
	if err != nil {
		return internal(err)
	}
	if !ok {
		return domain.Errorf(domain.ErrNotFound, "group not found")
	}
	return nil
}

func (a *Authority) check(ctx context.Context, id domain.Identity, groupID string, bypass bool) error {
	if groupID == "" {
		return domain.Errorf(domain.ErrValidation, "groupId is required")
	}
	if err := a.InOrg(ctx, id, groupID); err != nil {
		return err
	}
	if bypass {
		return nil
	}
	ok, err := a.groups.IsMember(ctx, groupID, id.UserID)
	if err != nil {
		return internal(err)
	}
	if !ok {
		return domain.Errorf(domain.ErrForbidden, "not a member of this group")
	}
	return nil
}

func internal(err error) error {
	if domain.Code(err) != domain.CodeInternal {
		return err
	}
	return domain.Wrap(domain.ErrInternal, err, "failed to verify membership")
}
