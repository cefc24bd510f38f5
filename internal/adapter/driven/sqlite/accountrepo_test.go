package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

func TestAccountRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeAccount("@alice:example.org", "https://mastodon.social")))

	got, err := repo.Get(ctx, "@alice:example.org")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "https://mastodon.social", got.Instance)
	assert.Equal(t, "user@@alice:example.org", got.User)
	assert.Equal(t, "!home-@alice:example.org", got.HomeChat)
	assert.Empty(t, got.LastHomeID, "new account must have no home cursor")
	assert.Empty(t, got.LastNotifID, "new account must have no notification cursor")
	assert.False(t, got.MutedHome)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestAccountRepo_Create_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	acc := makeAccount("@alice:example.org", "https://mastodon.social")
	require.NoError(t, repo.Create(ctx, acc))

	err := repo.Create(ctx, acc)
	assert.ErrorIs(t, err, driven.ErrAccountAlreadyExists)
}

func TestAccountRepo_Get_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)

	_, err := repo.Get(context.Background(), "@nobody:example.org")
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)
}

func TestAccountRepo_GetByChat(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeAccount("@alice:example.org", "https://a.example")))
	require.NoError(t, repo.Create(ctx, makeAccount("@bob:example.org", "https://b.example")))

	got, err := repo.GetByChat(ctx, "!notif-@bob:example.org")
	require.NoError(t, err)
	assert.Equal(t, "@bob:example.org", got.Addr)

	got, err = repo.GetByChat(ctx, "!home-@alice:example.org")
	require.NoError(t, err)
	assert.Equal(t, "@alice:example.org", got.Addr)

	_, err = repo.GetByChat(ctx, "!unknown")
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)
}

func TestAccountRepo_ListAllAndCounts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeAccount("@a:x", "https://b.example")))
	require.NoError(t, repo.Create(ctx, makeAccount("@b:x", "https://a.example")))
	require.NoError(t, repo.Create(ctx, makeAccount("@c:x", "https://b.example")))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "https://a.example", all[0].Instance, "accounts are ordered by instance")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = repo.CountByInstance(ctx, "https://b.example")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAccountRepo_SetCursor(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	insertAccount(t, db, makeAccount("@alice:x", "https://a.example"))

	require.NoError(t, repo.SetCursor(ctx, "@alice:x", model.StreamHome, "109"))
	require.NoError(t, repo.SetCursor(ctx, "@alice:x", model.StreamNotifications, "42"))

	got, err := repo.Get(ctx, "@alice:x")
	require.NoError(t, err)
	assert.Equal(t, "109", got.LastHomeID)
	assert.Equal(t, "42", got.LastNotifID)

	require.NoError(t, repo.SetCursor(ctx, "@alice:x", model.StreamHome, ""))
	got, err = repo.Get(ctx, "@alice:x")
	require.NoError(t, err)
	assert.Empty(t, got.LastHomeID)

	err = repo.SetCursor(ctx, "@ghost:x", model.StreamHome, "1")
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)
}

func TestAccountRepo_SetMuted_UnmuteClearsCursor(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	insertAccount(t, db, makeAccount("@alice:x", "https://a.example"))
	require.NoError(t, repo.SetCursor(ctx, "@alice:x", model.StreamHome, "500"))
	require.NoError(t, repo.SetCursor(ctx, "@alice:x", model.StreamNotifications, "77"))

	require.NoError(t, repo.SetMuted(ctx, "@alice:x", model.StreamHome, true))
	got, err := repo.Get(ctx, "@alice:x")
	require.NoError(t, err)
	assert.True(t, got.MutedHome)
	assert.Equal(t, "500", got.LastHomeID, "muting keeps the cursor")

	require.NoError(t, repo.SetMuted(ctx, "@alice:x", model.StreamHome, false))
	got, err = repo.Get(ctx, "@alice:x")
	require.NoError(t, err)
	assert.False(t, got.MutedHome)
	assert.Empty(t, got.LastHomeID, "unmuting clears the cursor")
	assert.Equal(t, "77", got.LastNotifID, "other stream is untouched")
}

func TestAccountRepo_UpdateCredentials(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	ctx := context.Background()

	insertAccount(t, db, makeAccount("@alice:x", "https://a.example"))
	require.NoError(t, repo.UpdateCredentials(ctx, "@alice:x", "alice", "fresh-token"))

	got, err := repo.Get(ctx, "@alice:x")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, "fresh-token", got.Token)
}

func TestAccountRepo_Delete_CascadesContactChats(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepo(db)
	contacts := NewContactRepo(db)
	ctx := context.Background()

	insertAccount(t, db, makeAccount("@alice:x", "https://a.example"))
	insertAccount(t, db, makeAccount("@bob:x", "https://a.example"))

	_, _, err := contacts.Create(ctx, model.ContactChat{ChatID: "!c1", Contact: "carol@a.example", AccountAddr: "@alice:x"})
	require.NoError(t, err)
	_, _, err = contacts.Create(ctx, model.ContactChat{ChatID: "!c2", Contact: "dave@b.example", AccountAddr: "@alice:x"})
	require.NoError(t, err)
	_, _, err = contacts.Create(ctx, model.ContactChat{ChatID: "!c3", Contact: "carol@a.example", AccountAddr: "@bob:x"})
	require.NoError(t, err)

	removed, err := repo.Delete(ctx, "@alice:x")
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	left, err := contacts.ListByAccount(ctx, "@alice:x")
	require.NoError(t, err)
	assert.Empty(t, left, "contact chats must be deleted with the account")

	kept, err := contacts.ListByAccount(ctx, "@bob:x")
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	_, err = repo.Delete(ctx, "@alice:x")
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)
}
