package chat

import (
	"context"

	"github.com/nfrund/orgchat/internal/domain"
)

func requireAdmin(id domain.Identity) error {
	if !id.IsAdmin() {
		return domain.Errorf(domain.ErrForbidden, "admin access required")
	}
	return nil
}

// CreateGroup creates a group in the admin's organization. The creator is
// added as its first member.
func (s *Service) CreateGroup(ctx context.Context, id domain.Identity, name string) (*domain.GroupDetail, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}
	name, err := domain.NormalizeGroupName(name)
	if err != nil {
		return nil, err
	}
	g, err := s.groups.CreateGroup(ctx, id.OrgID, name, id.UserID)
	if err != nil {
		return nil, s.storeError(err, "failed to create group", "org_id", id.OrgID)
	}
	return s.detail(ctx, id, *g)
}

// ListGroups returns every org group for admins and only joined groups for
// members, oldest first.
func (s *Service) ListGroups(ctx context.Context, id domain.Identity) ([]domain.GroupDetail, error) {
	var (
		groups []domain.Group
		err    error
	)
	if id.IsAdmin() {
		groups, err = s.groups.ListGroups(ctx, id.OrgID)
	} else {
		groups, err = s.groups.ListGroupsForUser(ctx, id.OrgID, id.UserID)
	}
	if err != nil {
		return nil, s.storeError(err, "failed to list groups", "org_id", id.OrgID)
	}

	out := make([]domain.GroupDetail, 0, len(groups))
	for _, g := range groups {
		d, err := s.detail(ctx, id, g)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// GetGroup returns one group for members and org admins.
func (s *Service) GetGroup(ctx context.Context, id domain.Identity, groupID string) (*domain.GroupDetail, error) {
	if err := s.authority.CanRead(ctx, id, groupID); err != nil {
		return nil, err
	}
	g, err := s.groups.GetGroup(ctx, id.OrgID, groupID)
	if err != nil {
		return nil, s.storeError(err, "failed to load group", "group_id", groupID)
	}
	return s.detail(ctx, id, *g)
}

// AddMember adds a user of the same organization to the group.
func (s *Service) AddMember(ctx context.Context, id domain.Identity, groupID, userID string) (*domain.GroupDetail, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}
	if err := s.authority.InOrg(ctx, id, groupID); err != nil {
		return nil, err
	}
	if _, err := s.users.GetUserInOrg(ctx, id.OrgID, userID); err != nil {
		return nil, s.storeError(err, "failed to load user", "user_id", userID)
	}
	if err := s.groups.AddMember(ctx, groupID, userID); err != nil {
		return nil, s.storeError(err, "failed to add member", "group_id", groupID, "user_id", userID)
	}
	return s.GetGroup(ctx, id, groupID)
}

// RemoveMember deletes a membership. Live connections of the removed user are
// evicted from the room unless the user is an org admin, who keeps elevated
// access.
func (s *Service) RemoveMember(ctx context.Context, id domain.Identity, groupID, userID string) error {
	if err := requireAdmin(id); err != nil {
		return err
	}
	if err := s.authority.InOrg(ctx, id, groupID); err != nil {
		return err
	}
	user, err := s.users.GetUserInOrg(ctx, id.OrgID, userID)
	if err != nil {
		return s.storeError(err, "failed to load user", "user_id", userID)
	}
	if err := s.groups.RemoveMember(ctx, groupID, userID); err != nil {
		return s.storeError(err, "failed to remove member", "group_id", groupID, "user_id", userID)
	}

	if user.Role != domain.RoleAdmin {
		key := domain.NewRoomKey(id, groupID)
		s.publish(ctx, roomEvent{
			Room:  key,
			Frame: eventFrame(EventRemovedFromGroup, GroupPayload{GroupID: groupID}),
			Evict: &eviction{UserID: user.ID, Email: user.Email},
		})
	}
	return nil
}

// DeleteGroup removes the group with its memberships and messages and closes
// its room.
func (s *Service) DeleteGroup(ctx context.Context, id domain.Identity, groupID string) error {
	if err := requireAdmin(id); err != nil {
		return err
	}
	if err := s.groups.DeleteGroup(ctx, id.OrgID, groupID); err != nil {
		return s.storeError(err, "failed to delete group", "group_id", groupID)
	}
	key := domain.NewRoomKey(id, groupID)
	s.publish(ctx, roomEvent{
		Room:  key,
		Frame: eventFrame(EventGroupDeleted, GroupPayload{GroupID: groupID}),
		Evict: &eviction{},
	})
	s.seq.retire(key)
	return nil
}

func (s *Service) detail(ctx context.Context, id domain.Identity, g domain.Group) (*domain.GroupDetail, error) {
	members, err := s.groups.ListMembers(ctx, g.ID)
	if err != nil {
		return nil, s.storeError(err, "failed to list members", "group_id", g.ID)
	}
	d := &domain.GroupDetail{Group: g, Members: members, MemberCount: len(members)}
	for _, m := range members {
		if m.UserID == id.UserID {
			d.IsMember = true
			break
		}
	}
	if d.Members == nil {
		d.Members = []domain.Member{}
	}
	return d, nil
}
