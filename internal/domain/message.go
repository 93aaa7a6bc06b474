package domain

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxContentLength is measured in Unicode code points after trimming.
	MaxContentLength = 4000

	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// validatorInstance is a package-level validator instance.
// Using a single instance is more efficient as it caches struct information.
var validatorInstance = validator.New()

// SenderSummary is the public projection of a message author.
type SenderSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Message is immutable once stored. Ordering key is (CreatedAt, ID).
type Message struct {
	ID        string        `json:"id"`
	GroupID   string        `json:"groupId"`
	SenderID  string        `json:"senderId"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	Sender    SenderSummary `json:"sender"`
}

// Before reports whether m sorts strictly before o in durable order.
func (m Message) Before(o Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.ID < o.ID
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

// PageRequest selects a window of a group's history, newest first.
type PageRequest struct {
	Limit  int    `validate:"min=1,max=100"`
	Cursor string `validate:"omitempty,max=64"`
}

// Page is one window of history plus the continuation marker.
type Page struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"hasMore"`
	NextCursor *string   `json:"nextCursor"`
	Limit      int       `json:"limit"`
}

// NewPage builds a page from up to limit+1 newest-first rows. The extra row is
// a probe: it only sets HasMore and is never returned.
func NewPage(rows []Message, limit int) *Page {
	page := &Page{Limit: limit, HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []Message{}
	}
	page.Messages = rows
	if page.HasMore && len(rows) > 0 {
		next := rows[len(rows)-1].ID
		page.NextCursor = &next
	}
	return page
}

// MessageStore is the durable append-and-paginate gateway.
type MessageStore interface {
	// AppendMessage persists msg. ID and CreatedAt are assigned by the store
	// when left empty. The returned message carries the resolved sender.
	AppendMessage(ctx context.Context, msg Message) (*Message, error)
	// PageMessages returns up to req.Limit messages older than the cursor row,
	// newest first. The cursor row itself is excluded.
	PageMessages(ctx context.Context, groupID string, req PageRequest) (*Page, error)
}

// NormalizeContent trims and NFC-normalizes message content and enforces the
// non-empty and length constraints.
func NormalizeContent(content string) (string, error) {
	trimmed := norm.NFC.String(strings.TrimSpace(content))
	if trimmed == "" {
		return "", Errorf(ErrValidation, "message content cannot be empty")
	}
	// validator's max on strings counts runes, not bytes.
	if err := validatorInstance.Var(trimmed, "max=4000"); err != nil {
		return "", Errorf(ErrValidation, "message too long (max %d characters)", MaxContentLength)
	}
	return trimmed, nil
}

// NormalizePageRequest applies the default limit and validates bounds.
func NormalizePageRequest(req PageRequest) (PageRequest, error) {
	if req.Limit == 0 {
		req.Limit = DefaultPageLimit
	}
	req.Cursor = strings.TrimSpace(req.Cursor)
	if err := validatorInstance.Struct(req); err != nil {
		return req, Wrap(ErrValidation, err, "limit must be between 1 and 100")
	}
	return req, nil
}

// NormalizeGroupName trims and NFC-normalizes a group name.
func NormalizeGroupName(name string) (string, error) {
	trimmed := norm.NFC.String(strings.TrimSpace(name))
	if err := validatorInstance.Var(trimmed, "required,max=100"); err != nil {
		return "", Errorf(ErrValidation, "group name is required (max 100 characters)")
	}
	return trimmed, nil
}

// StoredTime truncates t to the precision every backend preserves, so a
// message broadcast live is identical to the one read back from storage.
func StoredTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
