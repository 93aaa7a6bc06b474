package surrealstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/surrealdb/surrealdb.go"
)

// Store implements the repositories on SurrealDB. Record ids are the same
// uuid strings the SQL store uses, stored via type::thing and read back with
// meta::id so callers never see table prefixes.
type Store struct {
	conn    *Connection
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

var (
	_ domain.UserRepository  = (*Store)(nil)
	_ domain.GroupRepository = (*Store)(nil)
	_ domain.MessageStore    = (*Store)(nil)
)

// New wraps a connected session.
func New(conn *Connection, timeout time.Duration) *Store {
	return &Store{
		conn:    conn,
		timeout: timeout,
		logger:  slog.Default().With("component", "store", "dialect", "surrealdb"),
		now:     time.Now,
	}
}

const schema = `
DEFINE TABLE IF NOT EXISTS organization SCHEMALESS;
DEFINE INDEX IF NOT EXISTS organization_name ON organization FIELDS name UNIQUE;
DEFINE TABLE IF NOT EXISTS user SCHEMALESS;
DEFINE INDEX IF NOT EXISTS user_org_email ON user FIELDS org_id, email UNIQUE;
DEFINE TABLE IF NOT EXISTS chat_group SCHEMALESS;
DEFINE INDEX IF NOT EXISTS chat_group_org_name ON chat_group FIELDS org_id, name UNIQUE;
DEFINE TABLE IF NOT EXISTS group_member SCHEMALESS;
DEFINE INDEX IF NOT EXISTS group_member_pair ON group_member FIELDS group_id, user_id UNIQUE;
DEFINE TABLE IF NOT EXISTS message SCHEMALESS;
DEFINE INDEX IF NOT EXISTS message_group_created ON message FIELDS group_id, created_at;
`

// Migrate defines tables and unique indexes.
func (s *Store) Migrate(ctx context.Context) error {
	return s.exec(ctx, "migrate", schema, nil, "")
}

// Ping reports whether the session is usable.
func (s *Store) Ping(ctx context.Context) error { return s.conn.Ping(ctx) }

// Close ends the session.
func (s *Store) Close() error { return s.conn.Close(context.Background()) }

type orgRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

type userRow struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{ID: r.ID, OrgID: r.OrgID, Email: r.Email, Role: domain.Role(r.Role), CreatedAt: time.UnixMicro(r.CreatedAt).UTC()}
}

type groupRow struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
}

func (r groupRow) toDomain() domain.Group {
	return domain.Group{ID: r.ID, OrgID: r.OrgID, Name: r.Name, CreatedBy: r.CreatedBy, CreatedAt: time.UnixMicro(r.CreatedAt).UTC()}
}

type memberRow struct {
	GroupID  string `json:"group_id"`
	UserID   string `json:"user_id"`
	JoinedAt int64  `json:"joined_at"`
}

type messageRow struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

type countRow struct {
	N int `json:"n"`
}

func (s *Store) db(ctx context.Context) (*surrealdb.DB, error) {
	db, err := s.conn.DB()
	if err != nil {
		s.logger.ErrorContext(ctx, "surrealdb unavailable", "error", err)
		return nil, domain.Wrap(domain.ErrInternal, err, "database error")
	}
	return db, nil
}

func (s *Store) classify(ctx context.Context, err error, op, conflict string) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if conflict != "" && isDuplicate(err) {
		return domain.Wrap(domain.ErrConflict, err, conflict)
	}
	s.logger.ErrorContext(ctx, "database operation failed", "op", op, "error", err)
	return domain.Wrap(domain.ErrInternal, err, "database error")
}

func (s *Store) exec(ctx context.Context, op, q string, params map[string]any, conflict string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	if err := execute(ctx, db, q, params); err != nil {
		return s.classify(ctx, err, op, conflict)
	}
	return nil
}

func rows[T any](ctx context.Context, s *Store, op, q string, params map[string]any) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	out, err := query[T](ctx, db, q, params)
	if err != nil {
		return nil, s.classify(ctx, err, op, "")
	}
	return out, nil
}

func one[T any](ctx context.Context, s *Store, op, q string, params map[string]any, notFound string) (*T, error) {
	out, err := rows[T](ctx, s, op, q, params)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.Errorf(domain.ErrNotFound, "%s", notFound)
	}
	return &out[0], nil
}

func (s *Store) count(ctx context.Context, op, q string, params map[string]any) (bool, error) {
	out, err := rows[countRow](ctx, s, op, q, params)
	if err != nil {
		return false, err
	}
	return len(out) > 0 && out[0].N > 0, nil
}

func (s *Store) newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Store) stamp() time.Time { return domain.StoredTime(s.now()) }

// CreateOrganization implements domain.UserRepository.
func (s *Store) CreateOrganization(ctx context.Context, name string) (*domain.Organization, error) {
	org := &domain.Organization{ID: s.newID(), Name: strings.TrimSpace(name), CreatedAt: s.stamp()}
	if org.Name == "" {
		return nil, domain.Errorf(domain.ErrValidation, "organization name is required")
	}
	err := s.exec(ctx, "create organization",
		`CREATE type::thing('organization', $id) CONTENT { name: $name, created_at: $created_at }`,
		map[string]any{"id": org.ID, "name": org.Name, "created_at": org.CreatedAt.UnixMicro()},
		"organization already exists")
	if err != nil {
		return nil, err
	}
	return org, nil
}

const orgSelect = `SELECT meta::id(id) AS id, name, created_at FROM organization`

// GetOrganization implements domain.UserRepository.
func (s *Store) GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error) {
	return s.getOrg(ctx, orgSelect+` WHERE id = type::thing('organization', $v)`, orgID)
}

// GetOrganizationByName implements domain.UserRepository.
func (s *Store) GetOrganizationByName(ctx context.Context, name string) (*domain.Organization, error) {
	return s.getOrg(ctx, orgSelect+` WHERE name = $v`, strings.TrimSpace(name))
}

func (s *Store) getOrg(ctx context.Context, q, v string) (*domain.Organization, error) {
	r, err := one[orgRow](ctx, s, "get organization", q, map[string]any{"v": v}, "organization not found")
	if err != nil {
		return nil, err
	}
	return &domain.Organization{ID: r.ID, Name: r.Name, CreatedAt: time.UnixMicro(r.CreatedAt).UTC()}, nil
}

// CreateUser implements domain.UserRepository.
func (s *Store) CreateUser(ctx context.Context, orgID, email string, role domain.Role) (*domain.User, error) {
	if role == "" {
		role = domain.RoleMember
	}
	if !role.Valid() {
		return nil, domain.Errorf(domain.ErrValidation, "invalid role %q", role)
	}
	u := &domain.User{ID: s.newID(), OrgID: orgID, Email: strings.ToLower(strings.TrimSpace(email)), Role: role, CreatedAt: s.stamp()}
	err := s.exec(ctx, "create user",
		`CREATE type::thing('user', $id) CONTENT { org_id: $org_id, email: $email, role: $role, created_at: $created_at }`,
		map[string]any{"id": u.ID, "org_id": u.OrgID, "email": u.Email, "role": string(u.Role), "created_at": u.CreatedAt.UnixMicro()},
		"a user with this email already exists in the organization")
	if err != nil {
		return nil, err
	}
	return u, nil
}

const userSelect = `SELECT meta::id(id) AS id, org_id, email, role, created_at FROM user`

// GetUser implements domain.UserRepository.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	r, err := one[userRow](ctx, s, "get user", userSelect+` WHERE id = type::thing('user', $id)`,
		map[string]any{"id": userID}, "user not found")
	if err != nil {
		return nil, err
	}
	u := r.toDomain()
	return &u, nil
}

// GetUserInOrg implements domain.UserRepository.
func (s *Store) GetUserInOrg(ctx context.Context, orgID, userID string) (*domain.User, error) {
	r, err := one[userRow](ctx, s, "get user in org", userSelect+` WHERE id = type::thing('user', $id) AND org_id = $org_id`,
		map[string]any{"id": userID, "org_id": orgID}, "user not found")
	if err != nil {
		return nil, err
	}
	u := r.toDomain()
	return &u, nil
}

// ListUsers implements domain.UserRepository.
func (s *Store) ListUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	out, err := rows[userRow](ctx, s, "list users", userSelect+` WHERE org_id = $org_id ORDER BY created_at ASC, id ASC`,
		map[string]any{"org_id": orgID})
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(out))
	for _, r := range out {
		users = append(users, r.toDomain())
	}
	return users, nil
}

// DeleteUser implements domain.UserRepository.
func (s *Store) DeleteUser(ctx context.Context, orgID, userID string) error {
	if _, err := s.GetUserInOrg(ctx, orgID, userID); err != nil {
		return err
	}
	return s.exec(ctx, "delete user", `
		BEGIN TRANSACTION;
		DELETE message WHERE sender_id = $id;
		DELETE group_member WHERE user_id = $id;
		DELETE type::thing('user', $id);
		COMMIT TRANSACTION;`, map[string]any{"id": userID}, "")
}

// CreateGroup implements domain.GroupRepository.
func (s *Store) CreateGroup(ctx context.Context, orgID, name, createdBy string) (*domain.Group, error) {
	name, err := domain.NormalizeGroupName(name)
	if err != nil {
		return nil, err
	}
	g := &domain.Group{ID: s.newID(), OrgID: orgID, Name: name, CreatedBy: createdBy, CreatedAt: s.stamp()}
	err = s.exec(ctx, "create group", `
		BEGIN TRANSACTION;
		CREATE type::thing('chat_group', $id) CONTENT { org_id: $org_id, name: $name, created_by: $created_by, created_at: $created_at };
		CREATE group_member CONTENT { group_id: $id, user_id: $created_by, joined_at: $created_at };
		COMMIT TRANSACTION;`,
		map[string]any{"id": g.ID, "org_id": orgID, "name": name, "created_by": createdBy, "created_at": g.CreatedAt.UnixMicro()},
		"a group with this name already exists")
	if err != nil {
		return nil, err
	}
	return g, nil
}

const groupSelect = `SELECT meta::id(id) AS id, org_id, name, created_by, created_at FROM chat_group`

// GetGroup implements domain.GroupRepository.
func (s *Store) GetGroup(ctx context.Context, orgID, groupID string) (*domain.Group, error) {
	r, err := one[groupRow](ctx, s, "get group", groupSelect+` WHERE id = type::thing('chat_group', $id) AND org_id = $org_id`,
		map[string]any{"id": groupID, "org_id": orgID}, "group not found")
	if err != nil {
		return nil, err
	}
	g := r.toDomain()
	return &g, nil
}

// ListGroups implements domain.GroupRepository.
func (s *Store) ListGroups(ctx context.Context, orgID string) ([]domain.Group, error) {
	return s.listGroups(ctx, groupSelect+` WHERE org_id = $org_id ORDER BY created_at ASC, id ASC`, map[string]any{"org_id": orgID})
}

// ListGroupsForUser implements domain.GroupRepository.
func (s *Store) ListGroupsForUser(ctx context.Context, orgID, userID string) ([]domain.Group, error) {
	return s.listGroups(ctx, groupSelect+` WHERE org_id = $org_id
		AND meta::id(id) IN (SELECT VALUE group_id FROM group_member WHERE user_id = $user_id)
		ORDER BY created_at ASC, id ASC`, map[string]any{"org_id": orgID, "user_id": userID})
}

func (s *Store) listGroups(ctx context.Context, q string, params map[string]any) ([]domain.Group, error) {
	out, err := rows[groupRow](ctx, s, "list groups", q, params)
	if err != nil {
		return nil, err
	}
	groups := make([]domain.Group, 0, len(out))
	for _, r := range out {
		groups = append(groups, r.toDomain())
	}
	return groups, nil
}

// DeleteGroup implements domain.GroupRepository.
func (s *Store) DeleteGroup(ctx context.Context, orgID, groupID string) error {
	if _, err := s.GetGroup(ctx, orgID, groupID); err != nil {
		return err
	}
	return s.exec(ctx, "delete group", `
		BEGIN TRANSACTION;
		DELETE message WHERE group_id = $id;
		DELETE group_member WHERE group_id = $id;
		DELETE type::thing('chat_group', $id);
		COMMIT TRANSACTION;`, map[string]any{"id": groupID}, "")
}

// AddMember implements domain.GroupRepository.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	return s.exec(ctx, "add member",
		`CREATE group_member CONTENT { group_id: $group_id, user_id: $user_id, joined_at: $joined_at }`,
		map[string]any{"group_id": groupID, "user_id": userID, "joined_at": s.stamp().UnixMicro()},
		"user is already a member of this group")
}

// RemoveMember implements domain.GroupRepository.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	params := map[string]any{"group_id": groupID, "user_id": userID}
	ok, err := s.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.Errorf(domain.ErrNotFound, "user is not a member of this group")
	}
	return s.exec(ctx, "remove member", `DELETE group_member WHERE group_id = $group_id AND user_id = $user_id`, params, "")
}

// ListMembers implements domain.GroupRepository.
func (s *Store) ListMembers(ctx context.Context, groupID string) ([]domain.Member, error) {
	out, err := rows[memberRow](ctx, s, "list members",
		`SELECT group_id, user_id, joined_at FROM group_member WHERE group_id = $group_id ORDER BY joined_at ASC, user_id ASC`,
		map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out))
	for _, r := range out {
		ids = append(ids, r.UserID)
	}
	users, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	members := make([]domain.Member, 0, len(out))
	for _, r := range out {
		members = append(members, domain.Member{
			GroupID:  r.GroupID,
			UserID:   r.UserID,
			JoinedAt: time.UnixMicro(r.JoinedAt).UTC(),
			User:     users[r.UserID],
		})
	}
	return members, nil
}

func (s *Store) usersByID(ctx context.Context, ids []string) (map[string]domain.SenderSummary, error) {
	byID := make(map[string]domain.SenderSummary, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}
	out, err := rows[userRow](ctx, s, "load users", userSelect+` WHERE meta::id(id) IN $ids`, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		byID[r.ID] = domain.SenderSummary{ID: r.ID, Email: r.Email, Role: domain.Role(r.Role)}
	}
	return byID, nil
}

// GroupBelongsToOrg implements domain.GroupRepository.
func (s *Store) GroupBelongsToOrg(ctx context.Context, groupID, orgID string) (bool, error) {
	return s.count(ctx, "group belongs to org",
		`SELECT count() AS n FROM chat_group WHERE id = type::thing('chat_group', $id) AND org_id = $org_id GROUP ALL`,
		map[string]any{"id": groupID, "org_id": orgID})
}

// IsMember implements domain.GroupRepository.
func (s *Store) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	return s.count(ctx, "is member",
		`SELECT count() AS n FROM group_member WHERE group_id = $group_id AND user_id = $user_id GROUP ALL`,
		map[string]any{"group_id": groupID, "user_id": userID})
}

// AppendMessage implements domain.MessageStore.
func (s *Store) AppendMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.stamp()
	} else {
		msg.CreatedAt = domain.StoredTime(msg.CreatedAt)
	}

	exists, err := s.count(ctx, "append message", `SELECT count() AS n FROM chat_group WHERE id = type::thing('chat_group', $id) GROUP ALL`,
		map[string]any{"id": msg.GroupID})
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.Errorf(domain.ErrNotFound, "group not found")
	}
	sender, err := s.GetUser(ctx, msg.SenderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Errorf(domain.ErrNotFound, "sender not found")
		}
		return nil, err
	}
	msg.Sender = domain.SenderSummary{ID: sender.ID, Email: sender.Email, Role: sender.Role}

	err = s.exec(ctx, "append message",
		`CREATE type::thing('message', $id) CONTENT { group_id: $group_id, sender_id: $sender_id, content: $content, created_at: $created_at }`,
		map[string]any{"id": msg.ID, "group_id": msg.GroupID, "sender_id": msg.SenderID, "content": msg.Content, "created_at": msg.CreatedAt.UnixMicro()},
		"message id already exists")
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// PageMessages implements domain.MessageStore.
func (s *Store) PageMessages(ctx context.Context, groupID string, req domain.PageRequest) (*domain.Page, error) {
	req, err := domain.NormalizePageRequest(req)
	if err != nil {
		return nil, err
	}

	const sel = `SELECT meta::id(id) AS id, group_id, sender_id, content, created_at FROM message WHERE group_id = $group_id`
	const order = ` ORDER BY created_at DESC, id DESC LIMIT $limit`
	q := sel + order
	params := map[string]any{"group_id": groupID, "limit": req.Limit + 1}

	if req.Cursor != "" {
		cur, err := rows[messageRow](ctx, s, "resolve cursor", sel+` AND id = type::thing('message', $cursor)`,
			map[string]any{"group_id": groupID, "cursor": req.Cursor})
		if err != nil {
			return nil, err
		}
		if len(cur) == 0 {
			return nil, domain.Errorf(domain.ErrValidation, "invalid cursor")
		}
		q = sel + ` AND (created_at < $at OR (created_at = $at AND id < type::thing('message', $cursor)))` + order
		params["at"] = cur[0].CreatedAt
		params["cursor"] = req.Cursor
	}

	out, err := rows[messageRow](ctx, s, "page messages", q, params)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out))
	for _, r := range out {
		ids = append(ids, r.SenderID)
	}
	senders, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(out))
	for _, r := range out {
		messages = append(messages, domain.Message{
			ID:        r.ID,
			GroupID:   r.GroupID,
			SenderID:  r.SenderID,
			Content:   r.Content,
			CreatedAt: time.UnixMicro(r.CreatedAt).UTC(),
			Sender:    senders[r.SenderID],
		})
	}
	return domain.NewPage(messages, req.Limit), nil
}
