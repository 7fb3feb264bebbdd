package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// QueryFile reports whether a file with the given hash and suffix is
// already recorded.
func (db *DB) QueryFile(ctx context.Context, hash, suffix string) (bool, error) {
	var exists bool
	err := db.withTx(ctx, "query_file", func(tx *sqlx.Tx) error {
		var stored sql.NullString
		err := tx.QueryRowContext(ctx, "CALL query_file(?, ?)", hash, suffix).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = stored.Valid
		return nil
	})
	return exists, err
}

// InsertFile records a new file before its upload URL is issued.
func (db *DB) InsertFile(ctx context.Context, hash, suffix string) error {
	return db.withTx(ctx, "insert_file", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL insert_file(?, ?)", hash, suffix)
		return err
	})
}
