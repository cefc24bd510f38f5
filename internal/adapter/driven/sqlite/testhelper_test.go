package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// setupTestDB creates a migrated shared in-memory database named after the
// test, so writer and reader see the same data and tests stay isolated.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Escape the test name so it cannot be read as DSN query parameters.
	safeName := url.PathEscape(t.Name())
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		safeName,
	)

	db, err := open(dsn, safeName)
	require.NoError(t, err)

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func makeAccount(addr, instance string) model.Account {
	return model.Account{
		Addr:      addr,
		Instance:  instance,
		User:      "user@" + addr,
		Token:     "token-" + addr,
		HomeChat:  "!home-" + addr,
		NotifChat: "!notif-" + addr,
		CreatedAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func insertAccount(t *testing.T, db *DB, acc model.Account) {
	t.Helper()
	require.NoError(t, NewAccountRepo(db).Create(context.Background(), acc))
}
