package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// QueryGroup returns the group's dot-joined "name.avatar" info string,
// "." when the group does not exist.
func (db *DB) QueryGroup(ctx context.Context, groupID int64) (string, error) {
	var info string
	err := db.withTx(ctx, "query_group", func(tx *sqlx.Tx) error {
		var name, avatar sql.NullString
		err := tx.QueryRowContext(ctx, "CALL query_group(?)", groupID).Scan(&name, &avatar)
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

// InsertGroup creates a group.
func (db *DB) InsertGroup(ctx context.Context, groupID int64, name string) error {
	return db.withTx(ctx, "insert_group", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL insert_group(?, ?)", groupID, name)
		return err
	})
}

// InsertGroupUser adds a user to a group.
func (db *DB) InsertGroupUser(ctx context.Context, groupID, userID int64) error {
	return db.withTx(ctx, "insert_group_user", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL insert_group_user(?, ?)", groupID, userID)
		return err
	})
}

// GroupMembers returns the user ids belonging to a group.
func (db *DB) GroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	var members []int64
	err := db.withTx(ctx, "query_group_user", func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &members, "CALL query_group_user(?)", groupID)
	})
	return members, err
}

// UpdateGroupAvatar replaces the group's avatar reference.
func (db *DB) UpdateGroupAvatar(ctx context.Context, groupID int64, avatar string) error {
	return db.withTx(ctx, "update_group_avatar", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "CALL update_group_avatar(?, ?)", groupID, avatar)
		return err
	})
}
