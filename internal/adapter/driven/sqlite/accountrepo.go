package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*AccountRepo)(nil)

const accountColumns = `addr, instance, remote_user, token, home_chat, notif_chat,
	last_home, last_notif, muted_home, muted_notif, created_at`

// AccountRepo is the SQLite implementation of the AccountStore port interface.
type AccountRepo struct {
	db *DB
}

// NewAccountRepo creates a new AccountRepo backed by the given DB.
func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Create inserts a new account. Returns ErrAccountAlreadyExists if the local
// address or one of the bound chats is already in use.
func (r *AccountRepo) Create(ctx context.Context, acc model.Account) error {
	const query = `INSERT INTO accounts (` + accountColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := acc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	token, err := r.db.sealer.seal(acc.Token)
	if err != nil {
		return fmt.Errorf("create account %s: seal token: %w", acc.Addr, err)
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		acc.Addr, acc.Instance, acc.User, token, acc.HomeChat, acc.NotifChat,
		nullString(acc.LastHomeID), nullString(acc.LastNotifID),
		acc.MutedHome, acc.MutedNotif, createdAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("create account %s: %w", acc.Addr, driven.ErrAccountAlreadyExists)
		}
		return fmt.Errorf("create account %s: %w", acc.Addr, err)
	}

	return nil
}

// Get returns the account linked to addr or ErrAccountNotFound.
func (r *AccountRepo) Get(ctx context.Context, addr string) (*model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE addr = ?`

	acc, err := r.scan(r.db.Reader.QueryRowContext(ctx, query, addr))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get account %s: %w", addr, driven.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", addr, err)
	}

	return acc, nil
}

// GetByChat returns the account whose home or notifications conversation is
// chatID.
func (r *AccountRepo) GetByChat(ctx context.Context, chatID string) (*model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE home_chat = ? OR notif_chat = ?`

	acc, err := r.scan(r.db.Reader.QueryRowContext(ctx, query, chatID, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get account by chat %s: %w", chatID, driven.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account by chat %s: %w", chatID, err)
	}

	return acc, nil
}

// ListAll returns every account ordered by instance, then creation time.
func (r *AccountRepo) ListAll(ctx context.Context) ([]model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts ORDER BY instance, created_at, addr`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		acc, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

// Count returns the number of linked accounts.
func (r *AccountRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// CountByInstance returns the number of accounts linked on instance.
func (r *AccountRepo) CountByInstance(ctx context.Context, instance string) (int, error) {
	const query = `SELECT COUNT(*) FROM accounts WHERE instance = ?`

	var n int
	if err := r.db.Reader.QueryRowContext(ctx, query, instance).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts on %s: %w", instance, err)
	}
	return n, nil
}

// UpdateCredentials replaces the login name and token of an account.
func (r *AccountRepo) UpdateCredentials(ctx context.Context, addr, user, token string) error {
	const query = `UPDATE accounts SET remote_user = ?, token = ? WHERE addr = ?`

	sealed, err := r.db.sealer.seal(token)
	if err != nil {
		return fmt.Errorf("update credentials %s: seal token: %w", addr, err)
	}
	return r.update(ctx, "update credentials", addr, query, user, sealed, addr)
}

// SetCursor stores the newest delivered id of a stream. An empty id clears it.
func (r *AccountRepo) SetCursor(ctx context.Context, addr string, stream model.Stream, id string) error {
	query := `UPDATE accounts SET last_notif = ? WHERE addr = ?`
	if stream == model.StreamHome {
		query = `UPDATE accounts SET last_home = ? WHERE addr = ?`
	}
	return r.update(ctx, "set "+string(stream)+" cursor", addr, query, nullString(id), addr)
}

// SetMuted toggles a stream. Unmuting also clears the stream's cursor so the
// next pass primes it instead of replaying everything missed while muted.
func (r *AccountRepo) SetMuted(ctx context.Context, addr string, stream model.Stream, muted bool) error {
	muteCol, cursorCol := "muted_notif", "last_notif"
	if stream == model.StreamHome {
		muteCol, cursorCol = "muted_home", "last_home"
	}

	query := `UPDATE accounts SET ` + muteCol + ` = ? WHERE addr = ?`
	if !muted {
		query = `UPDATE accounts SET ` + muteCol + ` = ?, ` + cursorCol + ` = NULL WHERE addr = ?`
	}
	return r.update(ctx, "set "+string(stream)+" muted", addr, query, muted, addr)
}

// Delete removes the account and, through the foreign key cascade, its
// contact chats. The removed contact chats are returned.
func (r *AccountRepo) Delete(ctx context.Context, addr string) ([]model.ContactChat, error) {
	var removed []model.ContactChat

	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+contactColumns+` FROM contact_chats WHERE account = ? ORDER BY created_at`, addr)
		if err != nil {
			return fmt.Errorf("list contact chats: %w", err)
		}
		for rows.Next() {
			cc, err := scanContactChat(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan contact chat: %w", err)
			}
			removed = append(removed, *cc)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate contact chats: %w", err)
		}
		rows.Close()

		result, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE addr = ?`, addr)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if n == 0 {
			return driven.ErrAccountNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete account %s: %w", addr, err)
	}

	return removed, nil
}

func (r *AccountRepo) update(ctx context.Context, op, addr, query string, args ...any) error {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, addr, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, addr, driven.ErrAccountNotFound)
	}

	return nil
}

// scan reads one account row and unseals its token.
func (r *AccountRepo) scan(s scanner) (*model.Account, error) {
	acc, err := scanAccount(s)
	if err != nil {
		return nil, err
	}

	acc.Token, err = r.db.sealer.open(acc.Token)
	if err != nil {
		return nil, fmt.Errorf("open token of %s: %w", acc.Addr, err)
	}
	return acc, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*model.Account, error) {
	var (
		acc                 model.Account
		lastHome, lastNotif sql.NullString
		createdAt           string
	)

	err := s.Scan(
		&acc.Addr, &acc.Instance, &acc.User, &acc.Token, &acc.HomeChat, &acc.NotifChat,
		&lastHome, &lastNotif, &acc.MutedHome, &acc.MutedNotif, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	acc.LastHomeID = lastHome.String
	acc.LastNotifID = lastNotif.String

	acc.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &acc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// parseTime tries the datetime formats SQLite and the driver produce.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
