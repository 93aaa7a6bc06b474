package database

import (
	"context"
	"database/sql"

	"github.com/nfrund/orgchat/internal/domain"
)

// AppendMessage stores msg and returns it with the sender summary resolved.
// The group and sender are checked inside the same transaction as the insert.
func (s *Store) AppendMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.stamp()
	} else {
		msg.CreatedAt = domain.StoredTime(msg.CreatedAt)
	}

	const insert = `INSERT INTO messages (id, group_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?)`
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM chat_groups WHERE id = ?`), msg.GroupID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return domain.Errorf(domain.ErrNotFound, "group not found")
		}

		var role string
		err := tx.QueryRowContext(ctx, s.q(`SELECT id, email, role FROM users WHERE id = ?`), msg.SenderID).
			Scan(&msg.Sender.ID, &msg.Sender.Email, &role)
		if err == sql.ErrNoRows {
			return domain.Errorf(domain.ErrNotFound, "sender not found")
		}
		if err != nil {
			return err
		}
		msg.Sender.Role = domain.Role(role)

		_, err = tx.ExecContext(ctx, s.q(insert), msg.ID, msg.GroupID, msg.SenderID, msg.Content, toMicros(msg.CreatedAt))
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, err, "append message", insert, "", "message id already exists")
	}
	return &msg, nil
}

// PageMessages returns one newest-first window of a group's history. It reads
// limit+1 rows and uses the extra row only to compute HasMore.
func (s *Store) PageMessages(ctx context.Context, groupID string, req domain.PageRequest) (*domain.Page, error) {
	req, err := domain.NormalizePageRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	const base = `SELECT m.id, m.group_id, m.sender_id, m.content, m.created_at, u.id, u.email, u.role
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.group_id = ?`
	const order = ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`

	var (
		query = base + order
		args  = []any{groupID, req.Limit + 1}
	)
	if req.Cursor != "" {
		var cursorAt int64
		err := s.db.QueryRowContext(ctx, s.q(`SELECT created_at FROM messages WHERE id = ? AND group_id = ?`), req.Cursor, groupID).Scan(&cursorAt)
		if err == sql.ErrNoRows {
			return nil, domain.Errorf(domain.ErrValidation, "invalid cursor")
		}
		if err != nil {
			return nil, s.fail(ctx, err, "resolve cursor", "", "", "")
		}
		query = base + ` AND (m.created_at < ? OR (m.created_at = ? AND m.id < ?))` + order
		args = []any{groupID, cursorAt, cursorAt, req.Cursor, req.Limit + 1}
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.fail(ctx, err, "page messages", query, "", "")
	}
	defer rows.Close()

	messages := make([]domain.Message, 0, req.Limit+1)
	for rows.Next() {
		var (
			m       domain.Message
			created int64
			role    string
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Content, &created, &m.Sender.ID, &m.Sender.Email, &role); err != nil {
			return nil, s.fail(ctx, err, "scan message", query, "", "")
		}
		m.CreatedAt = fromMicros(created)
		m.Sender.Role = domain.Role(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, err, "page messages", query, "", "")
	}

	return domain.NewPage(messages, req.Limit), nil
}
