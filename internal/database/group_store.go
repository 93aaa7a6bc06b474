package database

import (
	"context"
	"database/sql"

	"github.com/nfrund/orgchat/internal/domain"
)

const groupColumns = `id, org_id, name, created_by, created_at`

// CreateGroup inserts a group and its creator's membership atomically.
func (s *Store) CreateGroup(ctx context.Context, orgID, name, createdBy string) (*domain.Group, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	name, err := domain.NormalizeGroupName(name)
	if err != nil {
		return nil, err
	}
	group := &domain.Group{ID: s.newID(), OrgID: orgID, Name: name, CreatedBy: createdBy, CreatedAt: s.stamp()}

	const insertGroup = `INSERT INTO chat_groups (id, org_id, name, created_by, created_at) VALUES (?, ?, ?, ?, ?)`
	const insertMember = `INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		created := toMicros(group.CreatedAt)
		if _, err := tx.ExecContext(ctx, s.q(insertGroup), group.ID, group.OrgID, group.Name, group.CreatedBy, created); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(insertMember), group.ID, createdBy, created)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, err, "create group", insertGroup, "", "a group with this name already exists")
	}
	return group, nil
}

// GetGroup returns the group only when it belongs to orgID. A group owned by
// another organization is reported exactly like a missing one.
func (s *Store) GetGroup(ctx context.Context, orgID, groupID string) (*domain.Group, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + groupColumns + ` FROM chat_groups WHERE id = ? AND org_id = ?`
	g, err := scanGroup(s.db.QueryRowContext(ctx, s.q(query), groupID, orgID))
	if err != nil {
		return nil, s.fail(ctx, err, "get group", query, "group not found", "")
	}
	return g, nil
}

// ListGroups returns every group in the organization, oldest first.
func (s *Store) ListGroups(ctx context.Context, orgID string) ([]domain.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM chat_groups WHERE org_id = ? ORDER BY created_at ASC, id ASC`
	return s.listGroups(ctx, query, orgID)
}

// ListGroupsForUser returns the groups userID is a member of.
func (s *Store) ListGroupsForUser(ctx context.Context, orgID, userID string) ([]domain.Group, error) {
	query := `SELECT g.id, g.org_id, g.name, g.created_by, g.created_at
		FROM chat_groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE g.org_id = ? AND gm.user_id = ?
		ORDER BY g.created_at ASC, g.id ASC`
	return s.listGroups(ctx, query, orgID, userID)
}

func (s *Store) listGroups(ctx context.Context, query string, args ...any) ([]domain.Group, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.fail(ctx, err, "list groups", query, "", "")
	}
	defer rows.Close()

	groups := []domain.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, s.fail(ctx, err, "scan group", query, "", "")
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, err, "list groups", query, "", "")
	}
	return groups, nil
}

// DeleteGroup removes a group with its memberships and history.
func (s *Store) DeleteGroup(ctx context.Context, orgID, groupID string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM chat_groups WHERE id = ? AND org_id = ?`), groupID, orgID).Scan(&exists); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM messages WHERE group_id = ?`,
			`DELETE FROM group_members WHERE group_id = ?`,
			`DELETE FROM chat_groups WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), groupID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, err, "delete group", "", "group not found", "")
	}
	return nil
}

// AddMember grants userID membership of groupID.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.q(query), groupID, userID, toMicros(s.stamp())); err != nil {
		return s.fail(ctx, err, "add member", query, "", "user is already a member of this group")
	}
	return nil
}

// RemoveMember revokes a membership. Removing a non-member is NotFound.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`
	res, err := s.db.ExecContext(ctx, s.q(query), groupID, userID)
	if err != nil {
		return s.fail(ctx, err, "remove member", query, "", "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(ctx, err, "remove member", query, "", "")
	}
	if n == 0 {
		return domain.Errorf(domain.ErrNotFound, "user is not a member of this group")
	}
	return nil
}

// ListMembers returns the group's members with their summaries, in join order.
func (s *Store) ListMembers(ctx context.Context, groupID string) ([]domain.Member, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT gm.group_id, gm.user_id, gm.joined_at, u.email, u.role
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = ?
		ORDER BY gm.joined_at ASC, gm.user_id ASC`
	rows, err := s.db.QueryContext(ctx, s.q(query), groupID)
	if err != nil {
		return nil, s.fail(ctx, err, "list members", query, "", "")
	}
	defer rows.Close()

	members := []domain.Member{}
	for rows.Next() {
		var (
			m      domain.Member
			joined int64
			role   string
		)
		if err := rows.Scan(&m.GroupID, &m.UserID, &joined, &m.User.Email, &role); err != nil {
			return nil, s.fail(ctx, err, "scan member", query, "", "")
		}
		m.JoinedAt = fromMicros(joined)
		m.User.ID = m.UserID
		m.User.Role = domain.Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, err, "list members", query, "", "")
	}
	return members, nil
}

// GroupBelongsToOrg reports whether groupID exists inside orgID.
func (s *Store) GroupBelongsToOrg(ctx context.Context, groupID, orgID string) (bool, error) {
	return s.exists(ctx, "group belongs to org", `SELECT COUNT(*) FROM chat_groups WHERE id = ? AND org_id = ?`, groupID, orgID)
}

// IsMember reports whether userID has an explicit membership row in groupID.
func (s *Store) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	return s.exists(ctx, "is member", `SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
}

func (s *Store) exists(ctx context.Context, op, query string, args ...any) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&n); err != nil {
		return false, s.fail(ctx, err, op, query, "", "")
	}
	return n > 0, nil
}

func scanGroup(row rowScanner) (*domain.Group, error) {
	var (
		g       domain.Group
		created int64
	)
	if err := row.Scan(&g.ID, &g.OrgID, &g.Name, &g.CreatedBy, &created); err != nil {
		return nil, err
	}
	g.CreatedAt = fromMicros(created)
	return &g, nil
}
