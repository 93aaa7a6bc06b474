package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/orgchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := Open(ctx, string(SQLite), dsn)
	require.NoError(t, err)

	store := NewStore(db, SQLite, opts...)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type fixture struct {
	org    *domain.Organization
	admin  *domain.User
	member *domain.User
	group  *domain.Group
}

func seedFixture(t *testing.T, s *Store, orgName string) fixture {
	t.Helper()
	ctx := context.Background()
	org, err := s.CreateOrganization(ctx, orgName)
	require.NoError(t, err)
	admin, err := s.CreateUser(ctx, org.ID, "admin@"+orgName+".test", domain.RoleAdmin)
	require.NoError(t, err)
	member, err := s.CreateUser(ctx, org.ID, "member@"+orgName+".test", domain.RoleMember)
	require.NoError(t, err)
	group, err := s.CreateGroup(ctx, org.ID, "general", admin.ID)
	require.NoError(t, err)
	return fixture{org: org, admin: admin, member: member, group: group}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestMigrate_LogsDialectOnce(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))

	newTestStore(t)

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "Database schema is up to date") {
			line = l
		}
	}
	require.NotEmpty(t, line)
	assert.Equal(t, 1, strings.Count(line, "dialect="), line)
	assert.Contains(t, line, "component=store")
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedFixture(t, s, "acme")

	t.Run("organization lookup", func(t *testing.T) {
		got, err := s.GetOrganizationByName(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, f.org.ID, got.ID)

		_, err = s.CreateOrganization(ctx, "acme")
		assert.ErrorIs(t, err, domain.ErrConflict)

		_, err = s.GetOrganization(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("email is unique per org and normalized", func(t *testing.T) {
		_, err := s.CreateUser(ctx, f.org.ID, "  MEMBER@acme.test ", domain.RoleMember)
		assert.ErrorIs(t, err, domain.ErrConflict)

		other, err := s.CreateOrganization(ctx, "globex")
		require.NoError(t, err)
		_, err = s.CreateUser(ctx, other.ID, "member@acme.test", "")
		assert.NoError(t, err, "same email in another org is allowed")
	})

	t.Run("invalid role", func(t *testing.T) {
		_, err := s.CreateUser(ctx, f.org.ID, "x@acme.test", domain.Role("OWNER"))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("scoped lookup hides other orgs", func(t *testing.T) {
		got, err := s.GetUserInOrg(ctx, f.org.ID, f.member.ID)
		require.NoError(t, err)
		assert.Equal(t, f.member.Email, got.Email)
		assert.Equal(t, f.member.CreatedAt, got.CreatedAt)

		_, err = s.GetUserInOrg(ctx, "another-org", f.member.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list is ordered by creation", func(t *testing.T) {
		users, err := s.ListUsers(ctx, f.org.ID)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, f.admin.ID, users[0].ID)
	})

	t.Run("delete cascades memberships and messages", func(t *testing.T) {
		u, err := s.CreateUser(ctx, f.org.ID, "leaver@acme.test", domain.RoleMember)
		require.NoError(t, err)
		require.NoError(t, s.AddMember(ctx, f.group.ID, u.ID))
		_, err = s.AppendMessage(ctx, domain.Message{GroupID: f.group.ID, SenderID: u.ID, Content: "bye"})
		require.NoError(t, err)

		require.NoError(t, s.DeleteUser(ctx, f.org.ID, u.ID))

		ok, err := s.IsMember(ctx, f.group.ID, u.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		page, err := s.PageMessages(ctx, f.group.ID, domain.PageRequest{})
		require.NoError(t, err)
		assert.Empty(t, page.Messages)

		assert.ErrorIs(t, s.DeleteUser(ctx, f.org.ID, u.ID), domain.ErrNotFound)
	})
}

func TestGroupStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedFixture(t, s, "acme")
	other := seedFixture(t, s, "globex")

	t.Run("creator is auto-added", func(t *testing.T) {
		ok, err := s.IsMember(ctx, f.group.ID, f.admin.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("name unique per org", func(t *testing.T) {
		_, err := s.CreateGroup(ctx, f.org.ID, " general ", f.admin.ID)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := s.CreateGroup(ctx, f.org.ID, "  ", f.admin.ID)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("cross org group is not found", func(t *testing.T) {
		_, err := s.GetGroup(ctx, f.org.ID, other.group.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		ok, err := s.GroupBelongsToOrg(ctx, other.group.ID, f.org.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.GroupBelongsToOrg(ctx, f.group.ID, f.org.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("membership lifecycle", func(t *testing.T) {
		require.NoError(t, s.AddMember(ctx, f.group.ID, f.member.ID))
		assert.ErrorIs(t, s.AddMember(ctx, f.group.ID, f.member.ID), domain.ErrConflict)

		members, err := s.ListMembers(ctx, f.group.ID)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, f.admin.ID, members[0].UserID)
		assert.Equal(t, f.member.Email, members[1].User.Email)
		assert.Equal(t, domain.RoleMember, members[1].User.Role)

		mine, err := s.ListGroupsForUser(ctx, f.org.ID, f.member.ID)
		require.NoError(t, err)
		require.Len(t, mine, 1)

		require.NoError(t, s.RemoveMember(ctx, f.group.ID, f.member.ID))
		assert.ErrorIs(t, s.RemoveMember(ctx, f.group.ID, f.member.ID), domain.ErrNotFound)
	})

	t.Run("delete group cascades", func(t *testing.T) {
		g, err := s.CreateGroup(ctx, f.org.ID, "random", f.admin.ID)
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, domain.Message{GroupID: g.ID, SenderID: f.admin.ID, Content: "hi"})
		require.NoError(t, err)

		assert.ErrorIs(t, s.DeleteGroup(ctx, other.org.ID, g.ID), domain.ErrNotFound)
		require.NoError(t, s.DeleteGroup(ctx, f.org.ID, g.ID))

		_, err = s.GetGroup(ctx, f.org.ID, g.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		ok, err := s.IsMember(ctx, g.ID, f.admin.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		groups, err := s.ListGroups(ctx, f.org.ID)
		require.NoError(t, err)
		assert.Len(t, groups, 1)
	})
}

func TestMessageStore_Append(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedFixture(t, s, "acme")

	t.Run("resolves sender and keeps supplied id and time", func(t *testing.T) {
		at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
		got, err := s.AppendMessage(ctx, domain.Message{
			ID: "fixed-id", GroupID: f.group.ID, SenderID: f.admin.ID, Content: "hello", CreatedAt: at,
		})
		require.NoError(t, err)
		assert.Equal(t, "fixed-id", got.ID)
		assert.Equal(t, domain.StoredTime(at), got.CreatedAt)
		assert.Equal(t, domain.SenderSummary{ID: f.admin.ID, Email: f.admin.Email, Role: domain.RoleAdmin}, got.Sender)

		page, err := s.PageMessages(ctx, f.group.ID, domain.PageRequest{Limit: 1})
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, *got, page.Messages[0], "stored and returned representations match")
	})

	t.Run("missing group", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, domain.Message{GroupID: "nope", SenderID: f.admin.ID, Content: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("missing sender", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, domain.Message{GroupID: f.group.ID, SenderID: "ghost", Content: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := s.AppendMessage(ctx, domain.Message{ID: "fixed-id", GroupID: f.group.ID, SenderID: f.admin.ID, Content: "x"})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestMessageStore_PaginationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedFixture(t, s, "acme")

	// Several messages share a timestamp so the id tiebreak is exercised.
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	const n = 23
	for i := 0; i < n; i++ {
		_, err := s.AppendMessage(ctx, domain.Message{
			GroupID:   f.group.ID,
			SenderID:  f.admin.ID,
			Content:   fmt.Sprintf("m%02d", i),
			CreatedAt: base.Add(time.Duration(i/3) * time.Second),
		})
		require.NoError(t, err)
	}

	for _, limit := range []int{1, 4, 7, 23, 100} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			var (
				seen   = map[string]bool{}
				all    []domain.Message
				cursor string
			)
			for {
				page, err := s.PageMessages(ctx, f.group.ID, domain.PageRequest{Limit: limit, Cursor: cursor})
				require.NoError(t, err)
				assert.LessOrEqual(t, len(page.Messages), limit)
				assert.Equal(t, limit, page.Limit)
				for _, m := range page.Messages {
					assert.False(t, seen[m.ID], "duplicate %s", m.ID)
					seen[m.ID] = true
				}
				all = append(all, page.Messages...)
				if !page.HasMore {
					assert.Nil(t, page.NextCursor)
					break
				}
				require.NotNil(t, page.NextCursor)
				assert.Equal(t, page.Messages[len(page.Messages)-1].ID, *page.NextCursor)
				cursor = *page.NextCursor
			}

			require.Len(t, all, n)
			for i := 1; i < len(all); i++ {
				assert.True(t, all[i].Before(all[i-1]), "strictly descending at %d", i)
			}
		})
	}
}

func TestMessageStore_PageEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedFixture(t, s, "acme")
	other := seedFixture(t, s, "globex")

	page, err := s.PageMessages(ctx, f.group.ID, domain.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
	assert.Equal(t, domain.DefaultPageLimit, page.Limit)

	_, err = s.PageMessages(ctx, f.group.ID, domain.PageRequest{Limit: 101})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.PageMessages(ctx, f.group.ID, domain.PageRequest{Cursor: "unknown"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// A cursor from another group is not accepted.
	m, err := s.AppendMessage(ctx, domain.Message{GroupID: other.group.ID, SenderID: other.admin.ID, Content: "x"})
	require.NoError(t, err)
	_, err = s.PageMessages(ctx, f.group.ID, domain.PageRequest{Cursor: m.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMessageStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedFixture(t, s, "acme")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessage(ctx, domain.Message{GroupID: f.group.ID, SenderID: f.admin.ID, Content: fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	page, err := s.PageMessages(ctx, f.group.ID, domain.PageRequest{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 20)
}

func TestClassify(t *testing.T) {
	err := classify(errors.New("boom"), "op", "SELECT 1", "", "")
	assert.ErrorIs(t, err, domain.ErrInternal)
	var dbErr *DBError
	assert.ErrorAs(t, err, &dbErr)
	assert.Contains(t, dbErr.Error(), "SELECT 1")

	assert.Nil(t, classify(nil, "op", "", "", ""))
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", Postgres.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ?", SQLite.rebind("a = ?"))
}
