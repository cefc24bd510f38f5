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

// Compile-time interface satisfaction check.
var _ driven.ContactChatStore = (*ContactRepo)(nil)

const contactColumns = `chat_id, contact, account, created_at`

// ContactRepo is the SQLite implementation of the ContactChatStore port.
// The UNIQUE(account, contact) constraint guarantees one conversation per
// correspondent even if two writers race.
type ContactRepo struct {
	db *DB
}

// NewContactRepo creates a new ContactRepo backed by the given DB.
func NewContactRepo(db *DB) *ContactRepo {
	return &ContactRepo{db: db}
}

// Create binds cc.ChatID to the contact. When the pair is already bound the
// stored binding is returned with created=false and cc.ChatID is discarded.
func (r *ContactRepo) Create(ctx context.Context, cc model.ContactChat) (model.ContactChat, bool, error) {
	const insert = `INSERT INTO contact_chats (` + contactColumns + `) VALUES (?, ?, ?, ?)
		ON CONFLICT (account, contact) DO NOTHING`

	cc.Contact = model.NormalizeHandle(cc.Contact)
	if cc.CreatedAt.IsZero() {
		cc.CreatedAt = time.Now().UTC()
	}

	var (
		stored  model.ContactChat
		created bool
	)
	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, insert, cc.ChatID, cc.Contact, cc.AccountAddr, cc.CreatedAt.UTC())
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if n == 1 {
			stored, created = cc, true
			return nil
		}

		existing, err := scanContactChat(tx.QueryRowContext(ctx,
			`SELECT `+contactColumns+` FROM contact_chats WHERE account = ? AND contact = ?`,
			cc.AccountAddr, cc.Contact))
		if err != nil {
			return fmt.Errorf("load existing binding: %w", err)
		}
		stored = *existing
		return nil
	})
	if err != nil {
		return model.ContactChat{}, false, fmt.Errorf("create contact chat %s/%s: %w", cc.AccountAddr, cc.Contact, err)
	}

	return stored, created, nil
}

// Get returns the chat bound to contact for the account at addr.
func (r *ContactRepo) Get(ctx context.Context, addr, contact string) (*model.ContactChat, error) {
	const query = `SELECT ` + contactColumns + ` FROM contact_chats WHERE account = ? AND contact = ?`

	contact = model.NormalizeHandle(contact)
	cc, err := scanContactChat(r.db.Reader.QueryRowContext(ctx, query, addr, contact))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get contact chat %s/%s: %w", addr, contact, driven.ErrContactChatNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact chat %s/%s: %w", addr, contact, err)
	}

	return cc, nil
}

// GetByChat returns the binding of a conversation.
func (r *ContactRepo) GetByChat(ctx context.Context, chatID string) (*model.ContactChat, error) {
	const query = `SELECT ` + contactColumns + ` FROM contact_chats WHERE chat_id = ?`

	cc, err := scanContactChat(r.db.Reader.QueryRowContext(ctx, query, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get contact chat %s: %w", chatID, driven.ErrContactChatNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact chat %s: %w", chatID, err)
	}

	return cc, nil
}

// ListByAccount returns the account's contact chats, oldest first.
func (r *ContactRepo) ListByAccount(ctx context.Context, addr string) ([]model.ContactChat, error) {
	const query = `SELECT ` + contactColumns + ` FROM contact_chats WHERE account = ? ORDER BY created_at, chat_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, addr)
	if err != nil {
		return nil, fmt.Errorf("list contact chats of %s: %w", addr, err)
	}
	defer rows.Close()

	var chats []model.ContactChat
	for rows.Next() {
		cc, err := scanContactChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact chat: %w", err)
		}
		chats = append(chats, *cc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact chats: %w", err)
	}

	return chats, nil
}

// Delete removes a binding. Returns ErrContactChatNotFound if chatID is not
// bound.
func (r *ContactRepo) Delete(ctx context.Context, chatID string) error {
	result, err := r.db.Writer.ExecContext(ctx, `DELETE FROM contact_chats WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("delete contact chat %s: %w", chatID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete contact chat %s: %w", chatID, driven.ErrContactChatNotFound)
	}

	return nil
}

func scanContactChat(s scanner) (*model.ContactChat, error) {
	var (
		cc        model.ContactChat
		createdAt string
	)

	if err := s.Scan(&cc.ChatID, &cc.Contact, &cc.AccountAddr, &createdAt); err != nil {
		return nil, err
	}

	var err error
	cc.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &cc, nil
}
