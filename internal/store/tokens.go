package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// InsertAPNsToken stores a device push token for a user.
func (db *DB) InsertAPNsToken(ctx context.Context, userID int64, token string) error {
	return db.withTx(ctx, "insert_user_apns_token", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL insert_user_apns_token(?, ?)", userID, token)
		return err
	})
}

// APNsTokens returns every stored device token for a user, skipping
// null rows.
func (db *DB) APNsTokens(ctx context.Context, userID int64) ([]string, error) {
	var tokens []string
	err := db.withTx(ctx, "query_user_apns_tokens", func(tx *sqlx.Tx) error {
		res, err := tx.QueryContext(ctx, "CALL query_user_apns_tokens(?)", userID)
		if err != nil {
			return err
		}
		defer res.Close()
		for res.Next() {
			var tok sql.NullString
			if err := res.Scan(&tok); err != nil {
				return err
			}
			if tok.Valid && tok.String != "" {
				tokens = append(tokens, tok.String)
			}
		}
		return res.Err()
	})
	return tokens, err
}

// DeleteAPNsToken purges a device token the push provider rejected.
func (db *DB) DeleteAPNsToken(ctx context.Context, userID int64, token string) error {
	return db.withTx(ctx, "delete_user_apns_token", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL delete_user_apns_token(?, ?)", userID, token)
		return err
	})
}
