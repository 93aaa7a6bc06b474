package testutils

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/nfrund/orgchat/internal/database"
	"github.com/stretchr/testify/require"
)

// NewSQLiteStore opens a private in-memory database with the schema applied.
// It is closed when the test ends.
func NewSQLiteStore(t *testing.T, opts ...database.Option) *database.Store {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := database.Open(ctx, string(database.SQLite), dsn)
	require.NoError(t, err)

	store := database.NewStore(db, database.SQLite, opts...)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}
