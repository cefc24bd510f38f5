package application_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mastobridge/internal/application"
	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

func loginSession(instance, token, acct string) *fakeSession {
	return &fakeSession{
		instance: instance,
		token:    token,
		me:       model.RemoteAccount{ID: "1", Acct: acct},
		notifs:   []model.Notification{favourite("900", "T", "x"), favourite("800", "T", "y")},
		home:     []model.Status{status("70", "h")},
	}
}

func TestLogin_CreatesAccountAndPrimesCursors(t *testing.T) {
	f := newFixture(unlimited)
	f.remote.login = loginSession(testInstance, "tok", "Alice")

	res, err := f.lifecycle.Login(context.Background(), "@alice:local", "mastodon.example/", "alice", "pw")
	require.NoError(t, err)
	assert.False(t, res.Refreshed)

	acc, ok := f.accounts.get("@alice:local")
	require.True(t, ok)
	assert.Equal(t, testInstance, acc.Instance)
	assert.Equal(t, "alice", acc.User)
	assert.Equal(t, "tok", acc.Token)
	assert.Equal(t, "900", acc.LastNotifID)
	assert.Equal(t, "70", acc.LastHomeID)
	assert.Equal(t, []string{"Home (mastodon.example)", "Notifications (mastodon.example)"}, f.chat.created)
	assert.NotEqual(t, acc.HomeChat, acc.NotifChat)

	welcome := f.chat.sentTo(acc.HomeChat)
	require.Len(t, welcome, 1)
	assert.Contains(t, welcome[0], "will be published in "+testInstance)
}

func TestLogin_SameRemoteAccountRefreshesToken(t *testing.T) {
	f := newFixture(unlimited)
	ctx := context.Background()
	f.remote.login = loginSession(testInstance, "tok1", "alice")
	_, err := f.lifecycle.Login(ctx, "@alice:local", testInstance, "alice", "pw")
	require.NoError(t, err)

	f.remote.login = loginSession(testInstance, "tok2", "ALICE")
	res, err := f.lifecycle.Login(ctx, "@alice:local", testInstance, "alice", "pw")
	require.NoError(t, err)
	assert.True(t, res.Refreshed)

	acc, _ := f.accounts.get("@alice:local")
	assert.Equal(t, "tok2", acc.Token)
	assert.Len(t, f.chat.created, 2)
	n, _ := f.accounts.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestLogin_AlreadyLoggedIn(t *testing.T) {
	f := newFixture(unlimited)
	ctx := context.Background()
	f.remote.login = loginSession(testInstance, "tok1", "alice")
	_, err := f.lifecycle.Login(ctx, "@alice:local", testInstance, "alice", "pw")
	require.NoError(t, err)

	t.Run("other instance", func(t *testing.T) {
		_, err := f.lifecycle.Login(ctx, "@alice:local", "other.example", "alice", "pw")
		assert.ErrorIs(t, err, application.ErrAlreadyLoggedIn)
	})

	t.Run("other remote account", func(t *testing.T) {
		f.remote.login = loginSession(testInstance, "tok3", "mallory")
		_, err := f.lifecycle.Login(ctx, "@alice:local", testInstance, "mallory", "pw")
		assert.ErrorIs(t, err, application.ErrAlreadyLoggedIn)
		acc, _ := f.accounts.get("@alice:local")
		assert.Equal(t, "tok1", acc.Token)
	})
}

func TestLogin_Limits(t *testing.T) {
	t.Run("total", func(t *testing.T) {
		f := newFixture(application.Limits{MaxAccounts: 1, MaxPerInstance: -1})
		f.linkAccount("@a:local", "https://other.example", "ta")

		_, err := f.lifecycle.Login(context.Background(), "@b:local", testInstance, "b", "pw")
		assert.ErrorIs(t, err, application.ErrTooManyAccounts)
	})

	t.Run("per instance", func(t *testing.T) {
		f := newFixture(application.Limits{MaxAccounts: -1, MaxPerInstance: 1})
		f.linkAccount("@a:local", testInstance, "ta")
		f.remote.login = loginSession("https://other.example", "tb", "b")

		_, err := f.lifecycle.Login(context.Background(), "@b:local", testInstance, "b", "pw")
		assert.ErrorIs(t, err, application.ErrTooManyInstanceAccounts)

		_, err = f.lifecycle.Login(context.Background(), "@b:local", "other.example", "b", "pw")
		assert.NoError(t, err)
	})

	t.Run("zero disables login", func(t *testing.T) {
		f := newFixture(application.Limits{MaxAccounts: 0, MaxPerInstance: -1})

		_, err := f.lifecycle.Login(context.Background(), "@b:local", testInstance, "b", "pw")
		assert.ErrorIs(t, err, application.ErrTooManyAccounts)
	})
}

func TestLogin_RejectedPassword(t *testing.T) {
	f := newFixture(unlimited)
	f.remote.loginErr = driven.ErrUnauthorized

	_, err := f.lifecycle.Login(context.Background(), "@alice:local", testInstance, "alice", "bad")

	assert.ErrorIs(t, err, driven.ErrUnauthorized)
	assert.Empty(t, f.chat.created)
}

func TestAuthorizationFlow(t *testing.T) {
	f := newFixture(unlimited)
	ctx := context.Background()

	authURL, err := f.lifecycle.BeginAuthorization(ctx, "@alice:local", "mastodon.example")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	assert.NotEmpty(t, state)

	p, err := f.pending.Get(ctx, "@alice:local")
	require.NoError(t, err)
	assert.Equal(t, state, p.State)
	assert.Equal(t, "cid", p.ClientID)

	f.remote.login = loginSession(testInstance, "tok", "alice")
	res, err := f.lifecycle.CompleteAuthorization(ctx, "@alice:local", " CODE ")
	require.NoError(t, err)
	assert.Equal(t, "tok", res.Account.Token)
	assert.Equal(t, []string{"cid:CODE"}, f.remote.exchanged)

	_, err = f.pending.Get(ctx, "@alice:local")
	assert.ErrorIs(t, err, driven.ErrPendingLoginNotFound)
}

func TestCompleteAuthorization_WithoutPending(t *testing.T) {
	f := newFixture(unlimited)

	_, err := f.lifecycle.CompleteAuthorization(context.Background(), "@alice:local", "CODE")

	assert.ErrorIs(t, err, application.ErrNoPendingLogin)
}

func TestLogout_CascadesAndIsIdempotent(t *testing.T) {
	f := newFixture(unlimited)
	ctx := context.Background()
	acc, _ := f.linkAccount("@alice:local", testInstance, "t1")
	_, _, err := f.mapper.Resolve(ctx, acc, model.RemoteAccount{Acct: "bob"})
	require.NoError(t, err)
	require.Equal(t, 1, f.contacts.len())

	removed, err := f.lifecycle.Logout(ctx, acc.Addr)
	require.NoError(t, err)
	assert.Equal(t, testInstance, removed.Instance)
	assert.Zero(t, f.contacts.len())
	assert.ElementsMatch(t, []string{"!room1", acc.HomeChat, acc.NotifChat}, f.chat.left)

	_, err = f.lifecycle.Logout(ctx, acc.Addr)
	assert.ErrorIs(t, err, application.ErrNotLoggedIn)
}

func TestSetMuted(t *testing.T) {
	f := newFixture(unlimited)
	ctx := context.Background()
	acc, _ := f.linkAccount("@alice:local", testInstance, "t1")

	require.NoError(t, f.lifecycle.SetMuted(ctx, acc.Addr, model.StreamHome, true))
	stored, _ := f.accounts.get(acc.Addr)
	assert.True(t, stored.MutedHome)

	require.NoError(t, f.lifecycle.SetMuted(ctx, acc.Addr, model.StreamHome, false))
	stored, _ = f.accounts.get(acc.Addr)
	assert.False(t, stored.MutedHome)
	assert.Empty(t, stored.LastHomeID)

	err := f.lifecycle.SetMuted(ctx, "@nobody:local", model.StreamHome, true)
	assert.ErrorIs(t, err, application.ErrNotLoggedIn)
}

func TestHandleMembership(t *testing.T) {
	t.Run("bridge removed from home logs out", func(t *testing.T) {
		f := newFixture(unlimited)
		acc, _ := f.linkAccount("@alice:local", testInstance, "t1")

		err := f.lifecycle.HandleMembership(context.Background(), model.MembershipChange{ChatID: acc.HomeChat, IsSelf: true})
		require.NoError(t, err)

		_, ok := f.accounts.get(acc.Addr)
		assert.False(t, ok)
		require.Len(t, f.chat.direct, 1)
		assert.Equal(t, "✔️ You logged out from: "+testInstance, f.chat.direct[0].Text)
	})

	t.Run("user still present keeps account", func(t *testing.T) {
		f := newFixture(unlimited)
		acc, _ := f.linkAccount("@alice:local", testInstance, "t1")
		f.chat.members[acc.NotifChat] = []string{"@bridge", acc.Addr, "@guest:local"}

		err := f.lifecycle.HandleMembership(context.Background(), model.MembershipChange{ChatID: acc.NotifChat, Member: "@guest:local"})
		require.NoError(t, err)

		_, ok := f.accounts.get(acc.Addr)
		assert.True(t, ok)
	})

	t.Run("user left contact chat", func(t *testing.T) {
		f := newFixture(unlimited)
		acc, _ := f.linkAccount("@alice:local", testInstance, "t1")
		chatID, _, err := f.mapper.Resolve(context.Background(), acc, model.RemoteAccount{Acct: "bob"})
		require.NoError(t, err)
		f.chat.members[chatID] = []string{"@bridge"}

		err = f.lifecycle.HandleMembership(context.Background(), model.MembershipChange{ChatID: chatID, Member: acc.Addr})
		require.NoError(t, err)

		assert.Zero(t, f.contacts.len())
		assert.Equal(t, []string{chatID}, f.chat.left)
		_, ok := f.accounts.get(acc.Addr)
		assert.True(t, ok)
	})
}
