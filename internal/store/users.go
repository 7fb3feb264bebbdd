package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Login upserts the user row on a successful authentication. lastLogin
// is the wire-format timestamp reported by the client. User ids below
// 1000 are reserved and never persisted.
func (db *DB) Login(ctx context.Context, userID int64, name, lastLogin string) error {
	if userID < 1000 {
		return ErrUserIDRange
	}
	return db.withTx(ctx, "login", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL login(?, ?, ?)", userID, name, lastLogin)
		return err
	})
}

// QueryUser returns the user's dot-joined "name.avatar" info string.
// A missing user yields the empty pair ".".
func (db *DB) QueryUser(ctx context.Context, userID int64) (string, error) {
	var info string
	err := db.withTx(ctx, "query_user", func(tx *sqlx.Tx) error {
		var name, avatar sql.NullString
		err := tx.QueryRowContext(ctx, "CALL query_user(?)", userID).Scan(&name, &avatar)
		if errors.Is(err, sql.ErrNoRows) {
			info = joinInfo("", "")
			return nil
		}
		if err != nil {
			return err
		}
		info = joinInfo(name.String, avatar.String)
		return nil
	})
	return info, err
}

// QueryUserName returns the user's display name, empty when unknown.
func (db *DB) QueryUserName(ctx context.Context, userID int64) (string, error) {
	var name string
	err := db.withTx(ctx, "query_user_name", func(tx *sqlx.Tx) error {
		var v sql.NullString
		err := tx.QueryRowContext(ctx, "CALL query_user_name(?)", userID).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		name = v.String
		return nil
	})
	return name, err
}

// InsertContact records a contact relation between two users.
func (db *DB) InsertContact(ctx context.Context, userID, contactID int64) error {
	return db.withTx(ctx, "insert_contact", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL insert_contact(?, ?)", userID, contactID)
		return err
	})
}

// UpdateUserAvatar replaces the user's avatar reference.
func (db *DB) UpdateUserAvatar(ctx context.Context, userID int64, avatar string) error {
	return db.withTx(ctx, "update_user_avatar", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL update_user_avatar(?, ?)", userID, avatar)
		return err
	})
}
