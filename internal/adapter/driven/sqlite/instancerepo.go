package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.InstanceStore     = (*InstanceRepo)(nil)
	_ driven.PendingLoginStore = (*PendingLoginRepo)(nil)
	_ driven.DirectChatStore   = (*DirectChatRepo)(nil)
)

// InstanceRepo caches client registrations per instance. A failed
// registration is stored with NULL client fields.
type InstanceRepo struct {
	db *DB
}

// NewInstanceRepo creates a new InstanceRepo backed by the given DB.
func NewInstanceRepo(db *DB) *InstanceRepo {
	return &InstanceRepo{db: db}
}

// Get returns the cached registration or ErrInstanceNotFound.
func (r *InstanceRepo) Get(ctx context.Context, instance string) (*model.InstanceCredential, error) {
	const query = `SELECT instance, client_id, client_secret, registered_at FROM instances WHERE instance = ?`

	var (
		cred             model.InstanceCredential
		clientID, secret sql.NullString
		registeredAt     string
	)
	err := r.db.Reader.QueryRowContext(ctx, query, instance).Scan(&cred.Instance, &clientID, &secret, &registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get instance %s: %w", instance, driven.ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", instance, err)
	}

	cred.ClientID = clientID.String
	cred.ClientSecret, err = r.db.sealer.open(secret.String)
	if err != nil {
		return nil, fmt.Errorf("open client secret of %s: %w", instance, err)
	}
	cred.RegisteredAt, err = parseTime(registeredAt)
	if err != nil {
		return nil, fmt.Errorf("parse registered_at: %w", err)
	}

	return &cred, nil
}

// Save stores a registration. An existing row for the instance is kept.
func (r *InstanceRepo) Save(ctx context.Context, cred model.InstanceCredential) error {
	const query = `INSERT OR IGNORE INTO instances (instance, client_id, client_secret, registered_at) VALUES (?, ?, ?, ?)`

	registeredAt := cred.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now().UTC()
	}

	secret, err := r.db.sealer.seal(cred.ClientSecret)
	if err != nil {
		return fmt.Errorf("save instance %s: seal client secret: %w", cred.Instance, err)
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		cred.Instance, nullString(cred.ClientID), nullString(secret), registeredAt.UTC())
	if err != nil {
		return fmt.Errorf("save instance %s: %w", cred.Instance, err)
	}
	return nil
}

// PendingLoginRepo stores half-finished authorization-code logins.
type PendingLoginRepo struct {
	db *DB
}

// NewPendingLoginRepo creates a new PendingLoginRepo backed by the given DB.
func NewPendingLoginRepo(db *DB) *PendingLoginRepo {
	return &PendingLoginRepo{db: db}
}

// Put starts or replaces the pending login of p.Addr.
func (r *PendingLoginRepo) Put(ctx context.Context, p model.PendingLogin) error {
	const query = `INSERT OR REPLACE INTO pending_logins (addr, instance, client_id, client_secret, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	secret, err := r.db.sealer.seal(p.ClientSecret)
	if err != nil {
		return fmt.Errorf("put pending login %s: seal client secret: %w", p.Addr, err)
	}

	_, err = r.db.Writer.ExecContext(ctx, query, p.Addr, p.Instance, p.ClientID, secret, p.State, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("put pending login %s: %w", p.Addr, err)
	}
	return nil
}

// Get returns the pending login of addr or ErrPendingLoginNotFound.
func (r *PendingLoginRepo) Get(ctx context.Context, addr string) (*model.PendingLogin, error) {
	const query = `SELECT addr, instance, client_id, client_secret, state, created_at FROM pending_logins WHERE addr = ?`

	var (
		p         model.PendingLogin
		createdAt string
	)
	err := r.db.Reader.QueryRowContext(ctx, query, addr).Scan(&p.Addr, &p.Instance, &p.ClientID, &p.ClientSecret, &p.State, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get pending login %s: %w", addr, driven.ErrPendingLoginNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pending login %s: %w", addr, err)
	}

	p.ClientSecret, err = r.db.sealer.open(p.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("open client secret of pending login %s: %w", addr, err)
	}

	p.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &p, nil
}

// Delete drops the pending login of addr. Deleting a missing entry is not an
// error.
func (r *PendingLoginRepo) Delete(ctx context.Context, addr string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM pending_logins WHERE addr = ?`, addr); err != nil {
		return fmt.Errorf("delete pending login %s: %w", addr, err)
	}
	return nil
}

// DirectChatRepo maps local users to their private conversation with the
// bridge.
type DirectChatRepo struct {
	db *DB
}

// NewDirectChatRepo creates a new DirectChatRepo backed by the given DB.
func NewDirectChatRepo(db *DB) *DirectChatRepo {
	return &DirectChatRepo{db: db}
}

// GetDirectChat returns the private conversation of addr, or "" if none was
// recorded yet.
func (r *DirectChatRepo) GetDirectChat(ctx context.Context, addr string) (string, error) {
	var chatID string
	err := r.db.Reader.QueryRowContext(ctx, `SELECT chat_id FROM direct_chats WHERE addr = ?`, addr).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get direct chat %s: %w", addr, err)
	}
	return chatID, nil
}

// SetDirectChat records or replaces the private conversation of addr.
func (r *DirectChatRepo) SetDirectChat(ctx context.Context, addr, chatID string) error {
	const query = `INSERT INTO direct_chats (addr, chat_id) VALUES (?, ?)
		ON CONFLICT (addr) DO UPDATE SET chat_id = excluded.chat_id`

	if _, err := r.db.Writer.ExecContext(ctx, query, addr, chatID); err != nil {
		return fmt.Errorf("set direct chat %s: %w", addr, err)
	}
	return nil
}
