package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/nfrund/orgchat/internal/domain"
)

// CreateOrganization inserts a new tenant. Names are unique.
func (s *Store) CreateOrganization(ctx context.Context, name string) (*domain.Organization, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	org := &domain.Organization{ID: s.newID(), Name: strings.TrimSpace(name), CreatedAt: s.stamp()}
	if org.Name == "" {
		return nil, domain.Errorf(domain.ErrValidation, "organization name is required")
	}
	const query = `INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.q(query), org.ID, org.Name, toMicros(org.CreatedAt)); err != nil {
		return nil, s.fail(ctx, err, "create organization", query, "", "organization already exists")
	}
	return org, nil
}

// GetOrganization retrieves an organization by id.
func (s *Store) GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error) {
	return s.getOrganization(ctx, `SELECT id, name, created_at FROM organizations WHERE id = ?`, orgID)
}

// GetOrganizationByName retrieves an organization by its unique name.
func (s *Store) GetOrganizationByName(ctx context.Context, name string) (*domain.Organization, error) {
	return s.getOrganization(ctx, `SELECT id, name, created_at FROM organizations WHERE name = ?`, strings.TrimSpace(name))
}

func (s *Store) getOrganization(ctx context.Context, query, arg string) (*domain.Organization, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		org     domain.Organization
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.q(query), arg).Scan(&org.ID, &org.Name, &created)
	if err != nil {
		return nil, s.fail(ctx, err, "get organization", query, "organization not found", "")
	}
	org.CreatedAt = fromMicros(created)
	return &org, nil
}

// CreateUser adds a user to an organization. Emails are unique per org and
// compared case-insensitively.
func (s *Store) CreateUser(ctx context.Context, orgID, email string, role domain.Role) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if role == "" {
		role = domain.RoleMember
	}
	if !role.Valid() {
		return nil, domain.Errorf(domain.ErrValidation, "invalid role %q", role)
	}
	user := &domain.User{
		ID:        s.newID(),
		OrgID:     orgID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Role:      role,
		CreatedAt: s.stamp(),
	}
	const query = `INSERT INTO users (id, org_id, email, role, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.q(query), user.ID, user.OrgID, user.Email, string(user.Role), toMicros(user.CreatedAt))
	if err != nil {
		return nil, s.fail(ctx, err, "create user", query, "", "a user with this email already exists in the organization")
	}
	return user, nil
}

const userColumns = `id, org_id, email, role, created_at`

// GetUser retrieves a user by id regardless of organization.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, s.q(query), userID))
	if err != nil {
		return nil, s.fail(ctx, err, "get user", query, "user not found", "")
	}
	return user, nil
}

// GetUserInOrg retrieves a user only if they belong to orgID.
func (s *Store) GetUserInOrg(ctx context.Context, orgID, userID string) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ? AND org_id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, s.q(query), userID, orgID))
	if err != nil {
		return nil, s.fail(ctx, err, "get user in org", query, "user not found", "")
	}
	return user, nil
}

// ListUsers returns every user in the organization, oldest first.
func (s *Store) ListUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE org_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, s.q(query), orgID)
	if err != nil {
		return nil, s.fail(ctx, err, "list users", query, "", "")
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, s.fail(ctx, err, "scan user", query, "", "")
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, err, "list users", query, "", "")
	}
	return users, nil
}

// DeleteUser removes a user together with their memberships and messages.
func (s *Store) DeleteUser(ctx context.Context, orgID, userID string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM users WHERE id = ? AND org_id = ?`), userID, orgID).Scan(&exists); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM messages WHERE sender_id = ?`,
			`DELETE FROM group_members WHERE user_id = ?`,
			`DELETE FROM users WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, err, "delete user", "", "user not found", "")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u       domain.User
		role    string
		created int64
	)
	if err := row.Scan(&u.ID, &u.OrgID, &u.Email, &role, &created); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	u.CreatedAt = fromMicros(created)
	return &u, nil
}
